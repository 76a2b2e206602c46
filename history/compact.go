package history

import (
	"context"
	"fmt"

	"steward/model"
)

// minCompactTurns is the smallest range worth replacing with a summary.
const minCompactTurns = 4

// Summarizer produces a summary of a contiguous turn range. The request is
// scoped to exactly these turns; implementations typically issue a dedicated
// inference call (see agent.NewSummarizer).
type Summarizer func(ctx context.Context, turns []model.Turn) (string, error)

// TaskSummary is the structured shape a compaction summary is asked to take,
// so critical details survive compression cycles.
type TaskSummary struct {
	// SessionIntent captures what the user wants to accomplish.
	SessionIntent string `json:"session_intent,omitempty"`

	// PlayByPlay is a chronological list of major actions taken.
	PlayByPlay []string `json:"play_by_play,omitempty"`

	// ArtifactTrail maps touched file paths to what changed.
	ArtifactTrail map[string]string `json:"artifact_trail,omitempty"`

	// PendingTasks lists what remains to be done.
	PendingTasks []string `json:"pending_tasks,omitempty"`
}

// Outcome reports what a reduction pass did.
type Outcome struct {
	PrunedTurns    int
	CompactedRange *model.Provenance
	UnderBudget    bool

	// Exhausted is set when the window is still over budget but no further
	// reduction is possible; the loop proceeds with a warning rather than
	// deadlocking.
	Exhausted bool
}

// Compact replaces the oldest contiguous range of turns (up to the recency
// floor) with a single summary turn. Ranges already covered by a prior
// summary are never re-summarized: coverage is disjoint and monotonically
// non-decreasing, so calling Compact again over a compacted range is a no-op.
func (s *Store) Compact(ctx context.Context, summarize Summarizer) (*model.Provenance, error) {
	if summarize == nil {
		return nil, fmt.Errorf("no summarizer configured")
	}

	s.mu.Lock()
	start, end := s.compactableRangeLocked()
	if end-start < minCompactTurns {
		s.mu.Unlock()
		return nil, nil
	}
	// Copy the range out so the summarization call runs without the lock.
	ranged := make([]model.Turn, end-start)
	for i, t := range s.turns[start:end] {
		ranged[i] = t.Clone()
	}
	s.mu.Unlock()

	summary, err := summarize(ctx, ranged)
	if err != nil {
		return nil, fmt.Errorf("summarize range: %w", err)
	}

	prov := model.Provenance{FromSeq: ranged[0].Seq, ToSeq: ranged[len(ranged)-1].Seq}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-locate the range by sequence in case turns were appended meanwhile.
	start, end = -1, -1
	for i, t := range s.turns {
		if t.Seq == prov.FromSeq {
			start = i
		}
		if t.Seq == prov.ToSeq {
			end = i + 1
			break
		}
	}
	if start < 0 || end <= start {
		return nil, fmt.Errorf("compaction range %d-%d no longer present", prov.FromSeq, prov.ToSeq)
	}

	record := model.Turn{
		Seq:        prov.FromSeq,
		Role:       model.RoleAgent,
		Content:    summary,
		Compaction: &prov,
	}
	for _, t := range s.turns[start:end] {
		delete(s.sizes, t.Seq)
	}
	replaced := make([]model.Turn, 0, len(s.turns)-(end-start)+1)
	replaced = append(replaced, s.turns[:start]...)
	replaced = append(replaced, record)
	replaced = append(replaced, s.turns[end:]...)
	s.turns = replaced
	s.covered = prov.ToSeq
	s.hasCover = true
	return &prov, nil
}

// compactableRangeLocked returns the [start, end) slice indices eligible for
// compaction: turns after existing summaries, before the recency floor.
func (s *Store) compactableRangeLocked() (int, int) {
	end := len(s.turns) - s.recency
	if end < 0 {
		end = 0
	}
	start := 0
	for start < end && s.turns[start].IsCompaction() {
		start++
	}
	// Never re-cover sequences a prior summary already replaced.
	for start < end && s.hasCover && s.turns[start].Seq <= s.covered {
		start++
	}
	return start, end
}

// ReduceToBudget brings the window back under budget: pruning first, then
// compaction if pruning alone is not enough. When neither suffices the
// outcome is marked Exhausted and the caller proceeds with a warning.
func (s *Store) ReduceToBudget(ctx context.Context, summarize Summarizer) (Outcome, error) {
	var out Outcome
	if !s.OverBudget() {
		out.UnderBudget = true
		return out, nil
	}

	out.PrunedTurns = s.Prune()
	if !s.OverBudget() {
		out.UnderBudget = true
		return out, nil
	}

	for s.OverBudget() {
		prov, err := s.Compact(ctx, summarize)
		if err != nil {
			return out, err
		}
		if prov == nil {
			// All content already at minimum.
			out.Exhausted = true
			return out, nil
		}
		out.CompactedRange = prov
	}
	out.UnderBudget = true
	return out, nil
}
