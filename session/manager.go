package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"steward/agent"
)

// defaultRetention bounds checkpoints kept per session.
const defaultRetention = 50

// Manager adapts a Store to the controller's checkpoint hook and handles
// resume lookups.
type Manager struct {
	store  Store
	retain int
}

var _ agent.Checkpointer = (*Manager)(nil)

// NewManager creates a manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, retain: defaultRetention}
}

// WithRetention overrides how many checkpoints are kept per session.
func (m *Manager) WithRetention(keep int) *Manager {
	if keep > 0 {
		m.retain = keep
	}
	return m
}

// Checkpoint persists a controller snapshot and returns the checkpoint id.
func (m *Manager) Checkpoint(ctx context.Context, snap agent.Snapshot) (string, error) {
	ckpt := Checkpoint{
		ID:        uuid.NewString(),
		SessionID: snap.SessionID,
		CreatedAt: time.Now(),
		Iteration: snap.Iteration,
		State:     string(snap.State),
		NextSeq:   snap.NextSeq,
		Turns:     snap.Turns,
	}
	if err := m.store.SaveCheckpoint(ctx, ckpt); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	if err := m.store.PruneCheckpoints(ctx, snap.SessionID, m.retain); err != nil {
		return "", fmt.Errorf("prune checkpoints: %w", err)
	}
	return ckpt.ID, nil
}

// Latest loads the latest snapshot of a session for resuming.
func (m *Manager) Latest(ctx context.Context, sessionID string) (agent.Snapshot, error) {
	ckpt, err := m.store.LoadLatest(ctx, sessionID)
	if err != nil {
		return agent.Snapshot{}, err
	}
	return toSnapshot(ckpt), nil
}

// At loads a specific checkpoint for resuming.
func (m *Manager) At(ctx context.Context, checkpointID string) (agent.Snapshot, error) {
	ckpt, err := m.store.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return agent.Snapshot{}, err
	}
	return toSnapshot(ckpt), nil
}

// Sessions lists stored sessions.
func (m *Manager) Sessions(ctx context.Context) ([]Summary, error) {
	return m.store.ListSessions(ctx)
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

func toSnapshot(ckpt Checkpoint) agent.Snapshot {
	return agent.Snapshot{
		SessionID: ckpt.SessionID,
		Turns:     ckpt.Turns,
		NextSeq:   ckpt.NextSeq,
		Iteration: ckpt.Iteration,
		State:     agent.State(ckpt.State),
	}
}
