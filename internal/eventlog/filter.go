package eventlog

import (
	"slices"
	"time"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

// Filter selects events of a tenant stream. The zero Filter matches everything.
type Filter struct {
	Types []models.EventType
	Since time.Time
}

func (f Filter) IsZero() bool {
	return len(f.Types) == 0 && f.Since.IsZero()
}

func (f Filter) Match(ev models.Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	return f.Since.IsZero() || !ev.Timestamp.Before(f.Since)
}

// Select keeps the order of events and returns at most limit matches. A
// non-positive limit returns every match.
func (f Filter) Select(events []models.Event, limit int) []models.Event {
	out := make([]models.Event, 0, min(len(events), max(limit, 0)))
	for _, ev := range events {
		if limit > 0 && len(out) == limit {
			break
		}
		if f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Summary aggregates a slice of events for the operator view.
type Summary struct {
	Total        int                      `json:"total"`
	ByType       map[models.EventType]int `json:"by_type"`
	ByErrorKind  map[string]int           `json:"by_error_kind"`
	Tokens       int                      `json:"tokens"`
	AvgLatencyMs float64                  `json:"avg_latency_ms"`
	Oldest       *time.Time               `json:"oldest,omitempty"`
	Newest       *time.Time               `json:"newest,omitempty"`
}

func Summarize(events []models.Event) Summary {
	s := Summary{
		Total:       len(events),
		ByType:      make(map[models.EventType]int),
		ByErrorKind: make(map[string]int),
	}
	var latency int64
	for _, ev := range events {
		s.ByType[ev.Type]++
		if ev.ErrorKind != "" {
			s.ByErrorKind[ev.ErrorKind]++
		}
		if ev.Tokens != nil {
			s.Tokens += ev.Tokens.Total
		}
		latency += ev.LatencyMs

		ts := ev.Timestamp
		if s.Oldest == nil || ts.Before(*s.Oldest) {
			s.Oldest = &ts
		}
		if s.Newest == nil || ts.After(*s.Newest) {
			s.Newest = &ts
		}
	}
	if len(events) > 0 {
		s.AvgLatencyMs = float64(latency) / float64(len(events))
	}
	return s
}
