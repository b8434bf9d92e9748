package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize int
}

// Qdrant keeps every namespace in one collection and isolates them with a
// keyword-indexed "namespace" payload filter.
type Qdrant struct {
	client *qdrant.Client
	cfg    QdrantConfig
	logger *zap.Logger
}

func NewQdrant(cfg QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Qdrant{client: client, cfg: cfg, logger: logger}, nil
}

// EnsureCollection creates the collection and its namespace index when missing.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %s: %w", q.cfg.Collection, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.cfg.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", q.cfg.Collection, err)
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.cfg.Collection,
		FieldName:      fieldNamespace,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: index namespace field: %w", err)
	}

	q.logger.Info("created qdrant collection",
		zap.String("collection", q.cfg.Collection),
		zap.Int("vector_size", q.cfg.VectorSize))
	return nil
}

func (q *Qdrant) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         namespaceFilter(namespace),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query namespace %s: %w", namespace, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		m := Match{Score: p.Score, Metadata: make(map[string]string)}
		for k, v := range p.Payload {
			s, ok := payloadString(v)
			if !ok {
				continue
			}
			switch k {
			case fieldID:
				m.ID = s
			case fieldContent:
				m.Content = s
			case fieldNamespace:
			default:
				m.Metadata[k] = s
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (q *Qdrant) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if q.cfg.VectorSize > 0 && len(r.Vector) != q.cfg.VectorSize {
			return fmt.Errorf("%w: record %s has %d, want %d", ErrDimension, r.ID, len(r.Vector), q.cfg.VectorSize)
		}

		payload := make(map[string]*qdrant.Value, len(r.Metadata)+3)
		for k, v := range r.Metadata {
			payload[k] = stringValue(v)
		}
		payload[fieldNamespace] = stringValue(namespace)
		payload[fieldID] = stringValue(r.ID)
		payload[fieldContent] = stringValue(r.Content)

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(namespace, r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points into %s: %w", len(points), namespace, err)
	}
	return nil
}

func (q *Qdrant) Count(ctx context.Context, namespace string) (int, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return 0, err
	}

	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Filter:         namespaceFilter(namespace),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count namespace %s: %w", namespace, err)
	}
	return int(n), nil
}

func (q *Qdrant) Delete(ctx context.Context, namespace string, ids []string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		points[i] = qdrant.NewIDUUID(pointID(namespace, id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(points...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete %d points from %s: %w", len(ids), namespace, err)
	}
	return nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func namespaceFilter(namespace string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: fieldNamespace,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: namespace},
						},
					},
				},
			},
		},
	}
}

// pointID maps a caller-chosen document id to a stable UUID. Qdrant only
// accepts UUIDs or integers, and the same id may exist in two namespaces.
func pointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+id)).String()
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func payloadString(v *qdrant.Value) (string, bool) {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue, true
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(val.IntegerValue, 10), true
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64), true
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(val.BoolValue), true
	}
	return "", false
}
