package history

import (
	"context"
	"time"
)

// SessionRecord is one spawned-agent row in the history database.
type SessionRecord struct {
	ID        string
	Worktree  string
	Branch    string
	Mode      string
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// CollectRecord is one per-worktree collect outcome.
type CollectRecord struct {
	ID        string
	Worktree  string
	Branch    string
	Target    string
	Status    string
	Reason    string
	CreatedAt time.Time
}

// Store is the local history database. All writes are best-effort from
// the caller's point of view: history failures never fail an operation.
type Store interface {
	RecordSession(ctx context.Context, rec *SessionRecord) error
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)
	RecordCollect(ctx context.Context, rec *CollectRecord) error
	ListCollects(ctx context.Context, limit int) ([]*CollectRecord, error)
	Migrate(ctx context.Context) error
	Close() error
}
