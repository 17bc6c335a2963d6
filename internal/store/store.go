package store

import (
	"context"
	"time"

	"github.com/rendis/chatflow/pkg/schema"
)

// SnapshotStore persists the resumable snapshot of each thread.
// All implementations must be safe for concurrent use.
type SnapshotStore interface {
	// Save replaces the snapshot of snap.ThreadID.
	Save(ctx context.Context, snap *schema.RuntimeSnapshot) error
	// Load returns the snapshot of a thread or a NOT_FOUND error.
	Load(ctx context.Context, threadID string) (*schema.RuntimeSnapshot, error)
	// Delete removes the snapshot of a thread, and any run history the store
	// keeps for it, or returns NOT_FOUND.
	Delete(ctx context.Context, threadID string) error
	// ListFinished returns threads whose run completed or failed before olderThan.
	ListFinished(ctx context.Context, olderThan time.Time) ([]string, error)
}

// EventAppender appends run events. Sequence numbers are assigned per thread.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.RunEvent) error
}

// StepRecorder writes the audit trail of executed steps.
type StepRecorder interface {
	RecordStep(ctx context.Context, rec schema.StepRecord) error
}

// Vacuumer reclaims space after bulk deletes.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Store is the full persistence contract of the SQL backend.
type Store interface {
	SnapshotStore
	EventAppender
	StepRecorder

	Events(ctx context.Context, threadID string, since int64) ([]*schema.RunEvent, error)
	EventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.RunEvent, error)
	Steps(ctx context.Context, threadID string) ([]schema.StepRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuumer

	// Lifecycle
	Close() error
}

var (
	_ Store         = (*LibSQLStore)(nil)
	_ SnapshotStore = (*RedisStore)(nil)
	_ EventAppender = (*EventLog)(nil)
)
