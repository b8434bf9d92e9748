package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables this package reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id                text PRIMARY KEY,
    name              text NOT NULL DEFAULT '',
    enabled           boolean NOT NULL DEFAULT true,
    api_key           text NOT NULL DEFAULT '',
    namespace         text NOT NULL,
    shared_namespaces text[] NOT NULL DEFAULT '{}',
    rate_limit        integer NOT NULL DEFAULT 60,
    top_k             integer NOT NULL DEFAULT 5,
    temperature       double precision NOT NULL DEFAULT 0.7,
    max_tokens        integer NOT NULL DEFAULT 1000,
    system_prompt     text NOT NULL DEFAULT '',
    owned_boost       double precision NOT NULL DEFAULT 1,
    use_hybrid        boolean NOT NULL DEFAULT false,
    alpha             double precision NOT NULL DEFAULT 0.7,
    created_at        timestamptz NOT NULL DEFAULT now(),
    updated_at        timestamptz NOT NULL DEFAULT now()
);

ALTER TABLE tenants ADD COLUMN IF NOT EXISTS use_hybrid boolean NOT NULL DEFAULT false;
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS alpha double precision NOT NULL DEFAULT 0.7;

CREATE TABLE IF NOT EXISTS tenant_events (
    id          bigserial PRIMARY KEY,
    tenant_id   text NOT NULL,
    event_type  text NOT NULL,
    occurred_at timestamptz NOT NULL,
    latency_ms  bigint NOT NULL DEFAULT 0,
    request_id  text NOT NULL DEFAULT '',
    payload     jsonb NOT NULL
);

CREATE INDEX IF NOT EXISTS tenant_events_tenant_id_idx ON tenant_events (tenant_id, id DESC);
`

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &DB{Pool: pool}, nil
}

// Migrate applies Schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, Schema)
	return err
}

func (db *DB) Close() {
	db.Pool.Close()
}
