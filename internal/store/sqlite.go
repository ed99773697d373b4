package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/researchdeck/internal/domain"
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

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
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
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		remote_addr TEXT NOT NULL DEFAULT '',
		transport TEXT NOT NULL,
		connected_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		disconnected_at INTEGER,
		command_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLITE_BUSY and locked errors with exponential backoff.
func withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isConflict(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertSession creates or refreshes a session record. A reconnect under the same
// id clears disconnected_at.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.ConsoleSession) error {
	query := `
	INSERT INTO sessions (session_id, remote_addr, transport, connected_at, last_seen_at, disconnected_at, command_count)
	VALUES (?, ?, ?, ?, ?, NULL, 0)
	ON CONFLICT(session_id) DO UPDATE SET
		remote_addr = excluded.remote_addr,
		transport = excluded.transport,
		last_seen_at = excluded.last_seen_at,
		disconnected_at = NULL`

	return withRetry(ctx, "upsert session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.SessionID, session.RemoteAddr, string(session.Transport),
			session.ConnectedAt.UnixMilli(), session.LastSeenAt.UnixMilli(),
		)
		return err
	})
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ConsoleSession, error) {
	query := `
		SELECT session_id, remote_addr, transport, connected_at,
		       last_seen_at, disconnected_at, command_count
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.ConsoleSession
	var transport string
	var connectedAt, lastSeen int64
	var disconnected sql.NullInt64

	err := row.Scan(
		&sess.SessionID, &sess.RemoteAddr, &transport, &connectedAt,
		&lastSeen, &disconnected, &sess.CommandCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Transport = domain.Transport(transport)
	sess.ConnectedAt = time.UnixMilli(connectedAt)
	sess.LastSeenAt = time.UnixMilli(lastSeen)
	if disconnected.Valid {
		t := time.UnixMilli(disconnected.Int64)
		sess.DisconnectedAt = &t
	}
	return &sess, nil
}

// TouchSession updates last_seen_at and increments the command count.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET last_seen_at = ?, command_count = command_count + 1 WHERE session_id = ?`
	return withRetry(ctx, "touch session", func() error {
		result, err := s.db.ExecContext(ctx, query, at.UnixMilli(), sessionID)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
		}
		return nil
	})
}

// EndSession marks a session disconnected.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET disconnected_at = ?, last_seen_at = ? WHERE session_id = ?`
	return withRetry(ctx, "end session", func() error {
		_, err := s.db.ExecContext(ctx, query, at.UnixMilli(), at.UnixMilli(), sessionID)
		return err
	})
}

// AppendEvent records one event, assigning an id when missing.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	payload := string(event.Payload)
	if payload == "" {
		payload = "null"
	}
	query := `
	INSERT INTO events (id, session_id, task_id, direction, type, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, "append event", func() error {
		_, err := s.db.ExecContext(ctx, query,
			event.ID, event.SessionID, event.TaskID, string(event.Direction),
			event.Type, payload, event.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// ListEvents returns a session's events oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT id, session_id, task_id, direction, type, payload, created_at
		FROM events WHERE session_id = ?
		ORDER BY created_at, rowid LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []*domain.Event
	for rows.Next() {
		var ev domain.Event
		var direction, payload string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.TaskID, &direction, &ev.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Direction = domain.Direction(direction)
		ev.Payload = []byte(payload)
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// DeleteExpired removes sessions idle longer than retention together with their
// events, plus events that outlived retention without a session row.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, retention time.Duration) (int64, int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	var sessions, events int64

	err := withRetry(ctx, "delete expired", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		evRes, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE created_at < ?
			   OR session_id IN (SELECT session_id FROM sessions WHERE last_seen_at < ?)`,
			threshold, threshold)
		if err != nil {
			return err
		}
		sessRes, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		events, _ = evRes.RowsAffected()
		sessions, _ = sessRes.RowsAffected()
		return nil
	})
	return sessions, events, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
