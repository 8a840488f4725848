// ABOUTME: SQLite persistence for broadcast events using modernc.org/sqlite
// ABOUTME: Provides an append-only ledger with recent-events queries for diagnostics

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one persisted event occurrence.
type Entry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Store is an append-only SQLite ledger of broadcast events.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a ledger store at the given path. The schema is automatically
// created if it doesn't exist. Parent directories are created if needed.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("event ledger initialized", "path", path)
	return s, nil
}

// createSchema creates the ledger table if it doesn't exist
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			data TEXT,
			emitted_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_emitted_at
			ON events(emitted_at);

		CREATE INDEX IF NOT EXISTS idx_events_type
			ON events(type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveEvent persists an event to the ledger.
func (s *Store) SaveEvent(ctx context.Context, entry *Entry) error {
	var dataJSON *string
	if entry.Data != nil {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("encoding event data: %w", err)
		}
		str := string(raw)
		dataJSON = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, data, emitted_at) VALUES (?, ?, ?, ?)`,
		entry.ID,
		entry.Type,
		dataJSON,
		entry.EmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data, emitted_at FROM events ORDER BY emitted_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			dataJSON  sql.NullString
			emittedAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Type, &dataJSON, &emittedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if dataJSON.Valid {
			if err := json.Unmarshal([]byte(dataJSON.String), &entry.Data); err != nil {
				return nil, fmt.Errorf("decoding event data: %w", err)
			}
		}
		ts, err := time.Parse(time.RFC3339Nano, emittedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		entry.EmittedAt = ts
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
