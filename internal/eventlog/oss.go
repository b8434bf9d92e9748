package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

// OSSStore appends each tenant's events as NDJSON to its own appendable
// object, {prefix}{tenant}.log.
type OSSStore struct {
	bucket *oss.Bucket
	prefix string

	mu sync.Mutex
	// next append offset per object, learned from the last write or from HEAD
	positions map[string]int64
}

func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", cfg.Bucket, err)
	}
	return &OSSStore{
		bucket:    bucket,
		prefix:    cfg.Prefix,
		positions: make(map[string]int64),
	}, nil
}

func (s *OSSStore) objectKey(tenantID string) string {
	return s.prefix + tenantID + ".log"
}

// Append serializes events as NDJSON and appends them. The OSS SDK has no
// context support; ctx is only checked before the call.
func (s *OSSStore) Append(ctx context.Context, tenantID string, events []models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodeNDJSON(events)
	if err != nil {
		return err
	}

	key := s.objectKey(tenantID)

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[key]
	if !ok {
		if pos, err = s.currentLength(key); err != nil {
			return err
		}
	}

	next, err := s.bucket.AppendObject(key, bytes.NewReader(body), pos)
	if err != nil {
		// another writer may have moved the offset; relearn it on the next try
		delete(s.positions, key)
		return fmt.Errorf("oss append %s at %d: %w", key, pos, err)
	}
	s.positions[key] = next
	return nil
}

func (s *OSSStore) currentLength(key string) (int64, error) {
	exists, err := s.bucket.IsObjectExist(key)
	if err != nil {
		return 0, fmt.Errorf("oss stat %s: %w", key, err)
	}
	if !exists {
		return 0, nil
	}

	meta, err := s.bucket.GetObjectDetailedMeta(key)
	if err != nil {
		return 0, fmt.Errorf("oss head %s: %w", key, err)
	}
	raw := meta.Get("X-Oss-Next-Append-Position")
	if raw == "" {
		raw = meta.Get("Content-Length")
	}
	pos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("oss head %s: bad append position %q", key, raw)
	}
	return pos, nil
}

func (s *OSSStore) Read(ctx context.Context, tenantID string, limit int) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := s.objectKey(tenantID)

	exists, err := s.bucket.IsObjectExist(key)
	if err != nil {
		return nil, fmt.Errorf("oss stat %s: %w", key, err)
	}
	if !exists {
		return []models.Event{}, nil
	}

	rc, err := s.bucket.GetObject(key)
	if err != nil {
		return nil, fmt.Errorf("oss get %s: %w", key, err)
	}
	defer rc.Close()

	events, err := decodeNDJSON(rc)
	if err != nil {
		return nil, fmt.Errorf("oss read %s: %w", key, err)
	}
	return newestFirst(events, limit), nil
}

func encodeNDJSON(events []models.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decodeNDJSON(r io.Reader) ([]models.Event, error) {
	var out []models.Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
