package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_results (
        content_id TEXT PRIMARY KEY,
        analysis TEXT NOT NULL,
        score REAL NOT NULL,
        status TEXT NOT NULL,
        decided_at TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS content_items (
        content_id TEXT PRIMARY KEY,
        type TEXT NOT NULL,
        title TEXT,
        text TEXT NOT NULL,
        metadata_json TEXT,
        user_id TEXT,
        submitted_at TEXT NOT NULL
    )`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS content_fts USING fts5(
        content_id UNINDEXED,
        text
    )`,
}

// SQLiteStore persists results and content in SQLite with an FTS5 index
// over content text.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	for _, stmt := range schema {
		if _, execErr := db.Exec(stmt); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", execErr)
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertResult inserts or replaces the result for its content id.
func (s *SQLiteStore) UpsertResult(ctx context.Context, result moderation.AnalysisResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_results (content_id, analysis, score, status, decided_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(content_id) DO UPDATE SET
            analysis = excluded.analysis,
            score = excluded.score,
            status = excluded.status,
            decided_at = excluded.decided_at`,
		result.ContentID,
		result.Analysis,
		result.Score,
		string(result.Status),
		result.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert result %s: %w", result.ContentID, err)
	}
	return nil
}

// GetResult loads the stored result for contentID.
func (s *SQLiteStore) GetResult(ctx context.Context, contentID string) (moderation.AnalysisResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content_id, analysis, score, status, decided_at
        FROM analysis_results WHERE content_id = ?`, contentID)

	var (
		result    moderation.AnalysisResult
		status    string
		decidedAt string
	)
	if err := row.Scan(&result.ContentID, &result.Analysis, &result.Score, &status, &decidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return moderation.AnalysisResult{}, ErrNotFound
		}
		return moderation.AnalysisResult{}, fmt.Errorf("get result %s: %w", contentID, err)
	}
	result.Status = moderation.Status(status)
	result.Timestamp = parseTime(decidedAt)
	return result, nil
}

// IndexContent stores the item and refreshes its full-text entry.
func (s *SQLiteStore) IndexContent(ctx context.Context, item moderation.ContentItem) error {
	var metadata sql.NullString
	if len(item.Metadata) > 0 {
		data, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO content_items (content_id, type, title, text, metadata_json, user_id, submitted_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(content_id) DO UPDATE SET
            type = excluded.type,
            title = excluded.title,
            text = excluded.text,
            metadata_json = excluded.metadata_json,
            user_id = excluded.user_id,
            submitted_at = excluded.submitted_at`,
		item.ContentID,
		item.Type,
		item.Title,
		item.Text,
		metadata,
		item.UserID,
		item.Timestamp.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("index content %s: %w", item.ContentID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_fts WHERE content_id = ?`, item.ContentID); err != nil {
		return fmt.Errorf("clear fts entry %s: %w", item.ContentID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO content_fts (content_id, text) VALUES (?, ?)`, item.ContentID, item.Text); err != nil {
		return fmt.Errorf("insert fts entry %s: %w", item.ContentID, err)
	}
	return tx.Commit()
}

// SearchContent runs an FTS5 match of any query term, best match first.
func (s *SQLiteStore) SearchContent(ctx context.Context, query string, limit int) ([]moderation.ContentItem, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.content_id, c.type, c.title, c.text, c.metadata_json, c.user_id, c.submitted_at
        FROM content_fts f
        JOIN content_items c ON c.content_id = f.content_id
        WHERE content_fts MATCH ?
        ORDER BY f.rank
        LIMIT ?`, match, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	defer rows.Close()

	var items []moderation.ContentItem
	for rows.Next() {
		var (
			item        moderation.ContentItem
			title       sql.NullString
			metadata    sql.NullString
			userID      sql.NullString
			submittedAt string
		)
		if err := rows.Scan(&item.ContentID, &item.Type, &title, &item.Text, &metadata, &userID, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		item.Title = title.String
		item.UserID = userID.String
		item.Timestamp = parseTime(submittedAt)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &item.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata %s: %w", item.ContentID, err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func ftsQuery(query string) string {
	words := terms(query)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " OR ")
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
