package session

import (
	"context"
	"sort"
	"sync"

	"steward/model"
)

// MemoryStore implements Store in process memory, for tests and runs that
// never need to survive a restart.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]Checkpoint   // by checkpoint id
	bySession   map[string][]Checkpoint // insertion order per session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]Checkpoint),
		bySession:   make(map[string][]Checkpoint),
	}
}

// SaveCheckpoint persists one checkpoint.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, ckpt Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := ckpt
	clone.Turns = cloneTurns(ckpt.Turns)
	s.checkpoints[ckpt.ID] = clone
	s.bySession[ckpt.SessionID] = append(s.bySession[ckpt.SessionID], clone)
	return nil
}

// LoadLatest returns the most recent checkpoint of a session.
func (s *MemoryStore) LoadLatest(ctx context.Context, sessionID string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.bySession[sessionID]
	if len(list) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	ckpt := list[len(list)-1]
	ckpt.Turns = cloneTurns(ckpt.Turns)
	return ckpt, nil
}

// LoadCheckpoint returns a specific checkpoint by id.
func (s *MemoryStore) LoadCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ckpt, ok := s.checkpoints[id]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	ckpt.Turns = cloneTurns(ckpt.Turns)
	return ckpt, nil
}

// ListSessions lists stored sessions, most recently updated first.
func (s *MemoryStore) ListSessions(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := []Summary{}
	for id, list := range s.bySession {
		first, last := list[0], list[len(list)-1]
		summaries = append(summaries, Summary{
			SessionID:   id,
			Goal:        goal(first.Turns),
			CreatedAt:   first.CreatedAt,
			UpdatedAt:   last.CreatedAt,
			Checkpoints: len(list),
			LastState:   last.State,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// PruneCheckpoints keeps only the newest keep checkpoints of a session.
func (s *MemoryStore) PruneCheckpoints(ctx context.Context, sessionID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.bySession[sessionID]
	if len(list) <= keep {
		return nil
	}
	drop := list[:len(list)-keep]
	for _, ckpt := range drop {
		delete(s.checkpoints, ckpt.ID)
	}
	s.bySession[sessionID] = append([]Checkpoint(nil), list[len(list)-keep:]...)
	return nil
}

// Delete removes a session and all its checkpoints.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ckpt := range s.bySession[sessionID] {
		delete(s.checkpoints, ckpt.ID)
	}
	delete(s.bySession, sessionID)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}
