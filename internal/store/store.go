// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/gazecal/internal/domain"
)

// Repository persists calibration sessions and the trials they completed.
type Repository interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, session *domain.Session) error

	// RecordTrial stores a flushed trial and bumps the session's completed count.
	RecordTrial(ctx context.Context, result *domain.TrialResult) error

	// FinishSession sets the final status of a session.
	FinishSession(ctx context.Context, sessionID string, status domain.SessionStatus, at time.Time) error

	// GetSession retrieves a session by ID. It returns nil, nil if none exists.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns the most recent sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]*domain.Session, error)

	// ListTrials returns the flushed trials of a session in catalog order.
	ListTrials(ctx context.Context, sessionID string) ([]*domain.TrialResult, error)

	// NextStartIndex returns the catalog row at which a new session over
	// catalogPath should resume: the row after the last flushed trial of the
	// latest unfinished session, or 0 when the latest session finished.
	NextStartIndex(ctx context.Context, catalogPath string) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
