// Package history provides the context store: the ordered interaction
// history of a run, with size estimation, pruning, and compaction.
//
// Information Hiding:
// - Turn storage and sequence assignment hidden
// - Token accounting hidden behind EstimatedSize
// - Reduction strategy (prune before compact) hidden behind ReduceToBudget
package history

import (
	"fmt"
	"sync"

	"steward/internal/tokens"
	"steward/model"
)

// Store is the append-only ordered sequence of turns for one run.
// Turns are never mutated after append; pruning and compaction supersede
// them with reduced renderings that keep the original sequence indices.
type Store struct {
	mu       sync.RWMutex
	turns    []model.Turn
	nextSeq  uint64
	budget   int
	recency  int
	est      *tokens.Estimator
	sizes    map[uint64]int // per-turn estimate cache, keyed by seq
	covered  uint64         // highest seq replaced by a compaction summary
	hasCover bool
}

// Config holds store sizing configuration.
type Config struct {
	// TokenBudget is the maximum estimated size of the context window.
	TokenBudget int

	// RecencyFloor is the number of newest turns pruning never touches.
	RecencyFloor int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		TokenBudget:  64_000,
		RecencyFloor: 8,
	}
}

// NewStore creates an empty context store.
func NewStore(cfg Config) *Store {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultConfig().TokenBudget
	}
	if cfg.RecencyFloor <= 0 {
		cfg.RecencyFloor = DefaultConfig().RecencyFloor
	}
	return &Store{
		budget:  cfg.TokenBudget,
		recency: cfg.RecencyFloor,
		est:     tokens.NewEstimator(),
		sizes:   make(map[uint64]int),
	}
}

// AppendUser appends a user turn and returns its sequence index.
func (s *Store) AppendUser(content string) uint64 {
	return s.append(model.Turn{Role: model.RoleUser, Content: content})
}

// AppendAgent appends an agent turn carrying the decision's text and any
// requested tool calls.
func (s *Store) AppendAgent(content string, calls []model.ToolCall) uint64 {
	return s.append(model.Turn{Role: model.RoleAgent, Content: content, ToolCalls: calls})
}

// AppendToolResults appends a tool turn carrying one iteration's results.
func (s *Store) AppendToolResults(results []model.ToolResult) uint64 {
	return s.append(model.Turn{Role: model.RoleTool, ToolResults: results})
}

func (s *Store) append(t model.Turn) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Seq = s.nextSeq
	s.nextSeq++
	s.turns = append(s.turns, t)
	return t.Seq
}

// Turns returns a copy of the current turn sequence.
func (s *Store) Turns() []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of stored turns (summaries count as one).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// NextSeq returns the sequence index the next appended turn will receive.
func (s *Store) NextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

// Restore replaces the store contents from a session snapshot.
// Used by the session manager when resuming a run.
func (s *Store) Restore(turns []model.Turn, nextSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev uint64
	for i, t := range turns {
		if i > 0 && t.Seq <= prev {
			return fmt.Errorf("turn sequence not monotonic at index %d", i)
		}
		prev = t.Seq
		if nextSeq <= t.Seq {
			return fmt.Errorf("next sequence %d not past turn %d", nextSeq, t.Seq)
		}
	}
	s.turns = make([]model.Turn, len(turns))
	for i, t := range turns {
		s.turns[i] = t.Clone()
	}
	s.nextSeq = nextSeq
	s.sizes = make(map[uint64]int)
	s.hasCover = false
	for _, t := range s.turns {
		if t.Compaction != nil && (!s.hasCover || t.Compaction.ToSeq > s.covered) {
			s.covered = t.Compaction.ToSeq
			s.hasCover = true
		}
	}
	return nil
}

// EstimatedSize returns the estimated token size of the full window.
func (s *Store) EstimatedSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estimatedSizeLocked()
}

func (s *Store) estimatedSizeLocked() int {
	total := 0
	for _, t := range s.turns {
		total += s.turnSizeLocked(t)
	}
	return total
}

func (s *Store) turnSizeLocked(t model.Turn) int {
	if n, ok := s.sizes[t.Seq]; ok {
		return n
	}
	n := s.est.Count(t.Content)
	for _, c := range t.ToolCalls {
		n += s.est.Count(c.Name) + s.est.Count(string(c.Args))
	}
	for _, r := range t.ToolResults {
		n += s.est.Count(r.Output) + s.est.Count(r.Error)
	}
	n += 4 // per-turn framing overhead
	s.sizes[t.Seq] = n
	return n
}

// Budget returns the configured token budget.
func (s *Store) Budget() int {
	return s.budget
}

// OverBudget reports whether the estimated window size exceeds the budget.
func (s *Store) OverBudget() bool {
	return s.EstimatedSize() > s.budget
}
