// Package session persists run state so interrupted runs can resume.
//
// Information Hiding:
// - Storage backend (SQLite, in-memory) behind the Store interface
// - Checkpoint serialization format hidden
package session

import (
	"context"
	"errors"
	"time"

	"steward/model"
)

// ErrNotFound is returned when a session or checkpoint does not exist.
var ErrNotFound = errors.New("session not found")

// Checkpoint is one durable snapshot of a run: the full turn sequence plus
// the loop position needed to resume.
type Checkpoint struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Iteration int
	State     string
	NextSeq   uint64
	Turns     []model.Turn
}

// Summary describes a stored session for listing.
type Summary struct {
	SessionID   string
	Goal        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Checkpoints int
	LastState   string
}

// Store persists checkpoints.
type Store interface {
	// SaveCheckpoint persists one checkpoint.
	SaveCheckpoint(ctx context.Context, ckpt Checkpoint) error

	// LoadLatest returns the most recent checkpoint of a session.
	// Returns ErrNotFound if the session has none.
	LoadLatest(ctx context.Context, sessionID string) (Checkpoint, error)

	// LoadCheckpoint returns a specific checkpoint by id.
	LoadCheckpoint(ctx context.Context, id string) (Checkpoint, error)

	// ListSessions lists stored sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]Summary, error)

	// Delete removes a session and all its checkpoints.
	Delete(ctx context.Context, sessionID string) error

	// PruneCheckpoints keeps only the newest keep checkpoints of a session.
	PruneCheckpoints(ctx context.Context, sessionID string, keep int) error

	// Close releases backend resources.
	Close() error
}

// goal extracts the first user turn as the session's display goal.
func goal(turns []model.Turn) string {
	for _, t := range turns {
		if t.Role == model.RoleUser && !t.IsCompaction() {
			return t.Content
		}
	}
	return ""
}
