package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// MemoryStore implements Store using in-memory maps.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]moderation.AnalysisResult
	content map[string]moderation.ContentItem
}

// NewMemoryStore constructs an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]moderation.AnalysisResult),
		content: make(map[string]moderation.ContentItem),
	}
}

// UpsertResult stores the result under its content id.
func (m *MemoryStore) UpsertResult(_ context.Context, result moderation.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.ContentID] = result
	return nil
}

// GetResult returns the stored result for the content id.
func (m *MemoryStore) GetResult(_ context.Context, contentID string) (moderation.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.results[contentID]
	if !ok {
		return moderation.AnalysisResult{}, ErrNotFound
	}
	return result, nil
}

// IndexContent stores a copy of the item.
func (m *MemoryStore) IndexContent(_ context.Context, item moderation.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := item
	clone.Metadata = moderation.CloneMetadata(item.Metadata)
	m.content[clone.ContentID] = clone
	return nil
}

// SearchContent returns items whose text contains any query term, most
// matching terms first.
func (m *MemoryStore) SearchContent(_ context.Context, query string, limit int) ([]moderation.ContentItem, error) {
	words := terms(query)
	if len(words) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		item  moderation.ContentItem
		score int
	}
	var hits []hit
	for _, item := range m.content {
		lower := strings.ToLower(item.Text)
		score := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		clone := item
		clone.Metadata = moderation.CloneMetadata(item.Metadata)
		hits = append(hits, hit{item: clone, score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].item.ContentID < hits[j].item.ContentID
	})
	limit = clampLimit(limit)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	items := make([]moderation.ContentItem, len(hits))
	for i, h := range hits {
		items[i] = h.item
	}
	return items, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
