package distributor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// Summary rolls up the scores of the results sharing one key.
type Summary struct {
	Count int       `json:"count"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Mean  float64   `json:"mean"`
	Last  time.Time `json:"last"`

	sum float64
}

// StatsSnapshot groups summaries by status and by category.
type StatsSnapshot struct {
	Total      int                `json:"total"`
	ByStatus   map[string]Summary `json:"byStatus"`
	ByCategory map[string]Summary `json:"byCategory"`
}

// Stats aggregates distributed results.
type Stats struct {
	mu         sync.RWMutex
	total      int
	byStatus   map[string]Summary
	byCategory map[string]Summary
}

// NewStats returns a zeroed aggregator.
func NewStats() *Stats {
	return &Stats{
		byStatus:   make(map[string]Summary),
		byCategory: make(map[string]Summary),
	}
}

// Consume implements Sink.
func (s *Stats) Consume(result moderation.AnalysisResult) error {
	category := categoryOf(result.Analysis)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byStatus[string(result.Status)] = observe(s.byStatus[string(result.Status)], result)
	s.byCategory[category] = observe(s.byCategory[category], result)
	return nil
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StatsSnapshot{
		Total:      s.total,
		ByStatus:   make(map[string]Summary, len(s.byStatus)),
		ByCategory: make(map[string]Summary, len(s.byCategory)),
	}
	for k, v := range s.byStatus {
		snap.ByStatus[k] = v
	}
	for k, v := range s.byCategory {
		snap.ByCategory[k] = v
	}
	return snap
}

func observe(summary Summary, result moderation.AnalysisResult) Summary {
	if summary.Count == 0 {
		summary.Min = result.Score
		summary.Max = result.Score
	}
	if result.Score < summary.Min {
		summary.Min = result.Score
	}
	if result.Score > summary.Max {
		summary.Max = result.Score
	}
	summary.Count++
	summary.sum += result.Score
	summary.Mean = summary.sum / float64(summary.Count)
	if result.Timestamp.After(summary.Last) {
		summary.Last = result.Timestamp
	}
	return summary
}

// categoryOf reads the category from the serialized classification.
func categoryOf(analysis string) string {
	var doc struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(analysis), &doc); err != nil || doc.Category == "" {
		return "UNKNOWN"
	}
	if category, ok := moderation.ParseCategory(doc.Category); ok {
		return string(category)
	}
	return "UNKNOWN"
}
