// Package store provides the audit document store.
package store

import (
	"context"

	"github.com/glindsay/resume-assistant/internal/domain"
)

// Repository persists audit documents. The request path only ever writes to it.
type Repository interface {
	// InsertLogEvent records a request, response, error or warning event.
	InsertLogEvent(ctx context.Context, event *domain.LogEvent) error

	// InsertRun records a remote run that reached a final state.
	InsertRun(ctx context.Context, run *domain.RunRecord) error

	// InsertThread records a newly created remote thread.
	InsertThread(ctx context.Context, thread *domain.ThreadRecord) error

	// RecentLogEvents returns up to limit events, newest first.
	RecentLogEvents(ctx context.Context, limit int) ([]*domain.LogEvent, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
