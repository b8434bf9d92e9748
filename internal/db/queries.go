package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

// LoadTenants reads every tenant row. It makes DB a tenant.Source.
func (db *DB) LoadTenants(ctx context.Context) ([]models.Tenant, error) {
	query := `
        SELECT id, name, enabled, api_key, namespace, shared_namespaces, rate_limit,
               top_k, temperature, max_tokens, system_prompt, owned_boost, use_hybrid, alpha,
               created_at, updated_at
        FROM tenants
        ORDER BY id
    `

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.Enabled,
			&t.APIKey,
			&t.Namespace,
			&t.SharedNamespaces,
			&t.RateLimit,
			&t.RAG.TopK,
			&t.RAG.Temperature,
			&t.RAG.MaxTokens,
			&t.RAG.SystemPrompt,
			&t.RAG.OwnedBoost,
			&t.RAG.UseHybrid,
			&t.RAG.Alpha,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

var eventColumns = []string{"tenant_id", "event_type", "occurred_at", "latency_ms", "request_id", "payload"}

// Append writes one tenant's batch with COPY inside a transaction, so a batch
// lands entirely or not at all. It makes DB an eventlog.Store.
func (db *DB) Append(ctx context.Context, tenantID string, events []models.Event) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		if ev.TenantID != tenantID {
			return fmt.Errorf("event for tenant %q in batch of %q", ev.TenantID, tenantID)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		rows = append(rows, []any{tenantID, string(ev.Type), ev.Timestamp, ev.LatencyMs, ev.RequestID, payload})
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"tenant_events"}, eventColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy %d events: %w", len(rows), err)
	}

	return tx.Commit(ctx)
}

// Read returns a tenant's most recent events, newest first.
func (db *DB) Read(ctx context.Context, tenantID string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
        SELECT payload
        FROM tenant_events
        WHERE tenant_id = $1
        ORDER BY id DESC
        LIMIT $2
    `

	rows, err := db.Pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
