package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// ErrNotFound indicates no document exists for the requested id.
var ErrNotFound = errors.New("search: document not found")

// DefaultLimit caps free-text query results when the caller passes no limit.
const DefaultLimit = 50

// Store is the searchable document store for moderation records.
type Store interface {
	// UpsertResult writes the result keyed by content id, replacing any
	// previous result for the same id.
	UpsertResult(ctx context.Context, result moderation.AnalysisResult) error
	GetResult(ctx context.Context, contentID string) (moderation.AnalysisResult, error)
	// IndexContent makes a content item searchable by its text.
	IndexContent(ctx context.Context, item moderation.ContentItem) error
	// SearchContent matches query terms against content text.
	SearchContent(ctx context.Context, query string, limit int) ([]moderation.ContentItem, error)
	Close() error
}

// Open constructs the store selected by kind.
func Open(kind, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("search: unknown store kind %q", kind)
	}
}

// terms splits a free-text query into lower-cased words.
func terms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r == '\'' || r == '-' || r == '_' || isLetterOrDigit(r))
	})
}

func isLetterOrDigit(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultLimit
	}
	return limit
}
