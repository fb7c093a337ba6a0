package distributor

import (
	"sync"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// Recent keeps the latest results in memory for the read API.
type Recent struct {
	mu       sync.RWMutex
	capacity int
	entries  []moderation.AnalysisResult
}

// NewRecent constructs a buffer with bounded capacity.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 100
	}
	return &Recent{capacity: capacity}
}

// Consume stores the result, evicting the oldest when capacity is exceeded.
func (r *Recent) Consume(result moderation.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, result)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	return nil
}

// Snapshot returns up to limit results, newest first. A non-positive limit
// returns everything buffered.
func (r *Recent) Snapshot(limit int) []moderation.AnalysisResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]moderation.AnalysisResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.entries[i])
	}
	return out
}
