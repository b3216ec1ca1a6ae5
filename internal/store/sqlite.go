package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glindsay/resume-assistant/internal/domain"
	"github.com/glindsay/resume-assistant/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxWriteRetries = 3
	baseRetryDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS log_events (
		id TEXT PRIMARY KEY,
		who TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		what TEXT NOT NULL,
		thread_id TEXT,
		log_type TEXT NOT NULL CHECK (log_type IN ('request', 'response', 'error', 'warning'))
	);
	CREATE INDEX IF NOT EXISTS idx_log_events_occurred ON log_events(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_log_events_thread ON log_events(thread_id) WHERE thread_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertLogEvent records an audit event.
func (s *SQLiteStore) InsertLogEvent(ctx context.Context, event *domain.LogEvent) error {
	query := `
	INSERT INTO log_events (id, who, occurred_at, what, thread_id, log_type)
	VALUES (?, ?, ?, ?, ?, ?)`

	var threadID interface{}
	if event.ThreadID != "" {
		threadID = event.ThreadID
	}

	if err := s.execWithRetry(ctx, query,
		event.ID, event.Who, event.When.UnixMilli(), event.What, threadID, string(event.LogType),
	); err != nil {
		return fmt.Errorf("insert log event: %w", err)
	}
	return nil
}

// InsertRun records a finished run.
func (s *SQLiteStore) InsertRun(ctx context.Context, run *domain.RunRecord) error {
	query := `
	INSERT INTO runs (id, run_id, thread_id, status, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	if err := s.execWithRetry(ctx, query,
		run.ID, run.RunID, run.ThreadID, run.Status, string(run.Payload), run.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// InsertThread records a newly created thread.
func (s *SQLiteStore) InsertThread(ctx context.Context, thread *domain.ThreadRecord) error {
	query := `
	INSERT INTO threads (id, thread_id, payload, created_at)
	VALUES (?, ?, ?, ?)`

	if err := s.execWithRetry(ctx, query,
		thread.ID, thread.ThreadID, string(thread.Payload), thread.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// RecentLogEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentLogEvents(ctx context.Context, limit int) ([]*domain.LogEvent, error) {
	query := `
		SELECT id, who, occurred_at, what, thread_id, log_type
		FROM log_events ORDER BY occurred_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query log events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close log event rows", "error", closeErr)
		}
	}()

	var events []*domain.LogEvent
	for rows.Next() {
		var event domain.LogEvent
		var threadID sql.NullString
		var occurredAt int64
		var logType string

		if err := rows.Scan(&event.ID, &event.Who, &occurredAt, &event.What, &threadID, &logType); err != nil {
			return nil, fmt.Errorf("scan log event row: %w", err)
		}

		event.ThreadID = threadID.String
		event.When = time.UnixMilli(occurredAt)
		event.LogType = domain.LogType(logType)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log events: %w", err)
	}

	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execWithRetry retries writes that fail with SQLITE_BUSY or "database is locked",
// backing off exponentially: 50ms, 100ms.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...interface{}) error {
	var err error
	for i := 0; i < maxWriteRetries; i++ {
		if _, err = s.db.ExecContext(ctx, query, args...); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxWriteRetries-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<i)
		slog.Debug("sqlite write busy, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
