// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/researchdeck/internal/domain"
)

// Repository records console sessions and the traffic of their tasks.
type Repository interface {
	// UpsertSession creates or refreshes a session record.
	UpsertSession(ctx context.Context, session *domain.ConsoleSession) error

	// GetSession retrieves a session by id. It returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.ConsoleSession, error)

	// TouchSession updates last_seen_at and counts one more command.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// EndSession marks a session disconnected.
	EndSession(ctx context.Context, sessionID string, at time.Time) error

	// AppendEvent records one command or envelope.
	AppendEvent(ctx context.Context, event *domain.Event) error

	// ListEvents returns a session's events oldest first, at most limit of them.
	ListEvents(ctx context.Context, sessionID string, limit int) ([]*domain.Event, error)

	// DeleteExpired removes sessions idle longer than retention, with their events.
	DeleteExpired(ctx context.Context, retention time.Duration) (sessions int64, events int64, err error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
