package history

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"steward/model"
)

func newTestStore(budget, recency int) *Store {
	return NewStore(Config{TokenBudget: budget, RecencyFloor: recency})
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	s := newTestStore(1000, 2)

	first := s.AppendUser("list files")
	second := s.AppendAgent("listing", []model.ToolCall{{ID: "c1", Name: "list_dir", Args: []byte(`{"path":"src"}`)}})
	third := s.AppendToolResults([]model.ToolResult{model.OKResult("c1", "a.go\nb.go")})

	if first != 0 || second != 1 || third != 2 {
		t.Fatalf("unexpected sequence: %d, %d, %d", first, second, third)
	}
	if s.NextSeq() != 3 {
		t.Errorf("expected next seq 3, got %d", s.NextSeq())
	}
}

func TestPruneSkipsRecentTurns(t *testing.T) {
	s := newTestStore(100, 2)
	big := strings.Repeat("output line\n", 400)

	s.AppendUser("task")
	s.AppendToolResults([]model.ToolResult{model.OKResult("c1", big)})
	s.AppendToolResults([]model.ToolResult{model.OKResult("c2", big)})
	s.AppendToolResults([]model.ToolResult{model.OKResult("c3", big)})

	pruned := s.Prune()
	if pruned != 1 {
		t.Fatalf("expected 1 pruned turn (recency floor protects the rest), got %d", pruned)
	}

	turns := s.Turns()
	if !turns[1].Pruned {
		t.Error("expected old tool turn to be pruned")
	}
	if turns[1].ToolResults[0].Output != "" {
		t.Error("expected pruned output to be removed")
	}
	if turns[1].PrunedNote == "" {
		t.Error("expected a marker of what was removed")
	}
	if turns[2].Pruned || turns[3].Pruned {
		t.Error("recency floor must protect the newest turns")
	}
}

func TestPruneIsIdempotent(t *testing.T) {
	s := newTestStore(100, 1)
	big := strings.Repeat("x", 8000)

	s.AppendToolResults([]model.ToolResult{model.OKResult("c1", big)})
	s.AppendUser("next")
	s.AppendUser("latest")

	if n := s.Prune(); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if n := s.Prune(); n != 0 {
		t.Fatalf("second prune must be a no-op, got %d", n)
	}
}

func TestPruneTruncatesContentOnRuneBoundary(t *testing.T) {
	s := newTestStore(100, 1)
	// 3-byte runes: a fixed byte offset lands mid-rune.
	s.AppendUser(strings.Repeat("世界", 2000))
	s.AppendUser("next")
	s.AppendUser("latest")

	if n := s.Prune(); n != 1 {
		t.Fatalf("expected 1 pruned turn, got %d", n)
	}

	content := s.Turns()[0].Content
	if !utf8.ValidString(content) {
		t.Error("truncated content is not valid UTF-8")
	}
	if !strings.HasSuffix(content, "…") {
		t.Error("expected truncation marker on reduced content")
	}
}

func staticSummarizer(summary string) Summarizer {
	return func(ctx context.Context, turns []model.Turn) (string, error) {
		return summary, nil
	}
}

func TestCompactReplacesRangeWithProvenance(t *testing.T) {
	s := newTestStore(50, 2)
	for i := 0; i < 8; i++ {
		s.AppendUser(strings.Repeat("some context ", 50))
	}

	prov, err := s.Compact(context.Background(), staticSummarizer("summary of early work"))
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if prov == nil {
		t.Fatal("expected a compaction to happen")
	}
	if prov.FromSeq != 0 || prov.ToSeq != 5 {
		t.Errorf("expected provenance 0-5, got %d-%d", prov.FromSeq, prov.ToSeq)
	}

	turns := s.Turns()
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns after compaction (summary + 2 recent), got %d", len(turns))
	}
	if !turns[0].IsCompaction() {
		t.Error("expected first turn to be the compaction record")
	}
	if turns[0].Content != "summary of early work" {
		t.Errorf("unexpected summary content: %q", turns[0].Content)
	}
}

func TestCompactIsIdempotentOverCoveredRange(t *testing.T) {
	s := newTestStore(50, 2)
	for i := 0; i < 8; i++ {
		s.AppendUser(strings.Repeat("some context ", 50))
	}

	first, err := s.Compact(context.Background(), staticSummarizer("s1"))
	if err != nil || first == nil {
		t.Fatalf("first compaction: prov=%v err=%v", first, err)
	}

	// Nothing left outside the recency floor: a second pass must not
	// re-summarize or produce a duplicate record.
	second, err := s.Compact(context.Background(), staticSummarizer("s2"))
	if err != nil {
		t.Fatalf("second compaction errored: %v", err)
	}
	if second != nil {
		t.Fatalf("expected no-op, got new range %d-%d", second.FromSeq, second.ToSeq)
	}

	count := 0
	for _, turn := range s.Turns() {
		if turn.IsCompaction() {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one compaction record, got %d", count)
	}
}

func TestReduceToBudgetPrunesBeforeCompacting(t *testing.T) {
	s := newTestStore(400, 2)
	big := strings.Repeat("tool output ", 300)
	for i := 0; i < 6; i++ {
		s.AppendToolResults([]model.ToolResult{model.OKResult("c", big)})
	}

	out, err := s.ReduceToBudget(context.Background(), staticSummarizer("condensed"))
	if err != nil {
		t.Fatalf("ReduceToBudget failed: %v", err)
	}
	if out.PrunedTurns == 0 {
		t.Error("expected pruning to run first")
	}
	if !out.UnderBudget && !out.Exhausted {
		t.Error("expected the window to be under budget or proven irreducible")
	}
	if out.UnderBudget && s.EstimatedSize() > s.Budget() {
		t.Errorf("reported under budget but size %d > budget %d", s.EstimatedSize(), s.Budget())
	}
}

func TestReduceToBudgetReportsExhaustion(t *testing.T) {
	// Budget so small even the recency floor exceeds it.
	s := newTestStore(10, 4)
	for i := 0; i < 4; i++ {
		s.AppendUser(strings.Repeat("irreducible recent content ", 20))
	}

	out, err := s.ReduceToBudget(context.Background(), staticSummarizer("unused"))
	if err != nil {
		t.Fatalf("ReduceToBudget failed: %v", err)
	}
	if !out.Exhausted {
		t.Error("expected exhaustion: nothing outside the recency floor to reduce")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := newTestStore(1000, 2)
	s.AppendUser("goal")
	s.AppendAgent("working", []model.ToolCall{{ID: "c1", Name: "read_file", Args: []byte(`{"path":"a.go"}`)}})
	s.AppendToolResults([]model.ToolResult{model.OKResult("c1", "package a")})

	turns := s.Turns()
	next := s.NextSeq()

	restored := newTestStore(1000, 2)
	if err := restored.Restore(turns, next); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got := restored.Turns()
	if len(got) != len(turns) {
		t.Fatalf("expected %d turns, got %d", len(turns), len(got))
	}
	for i := range got {
		if got[i].Seq != turns[i].Seq || got[i].Role != turns[i].Role || got[i].Content != turns[i].Content {
			t.Errorf("turn %d mismatch after restore", i)
		}
	}
	if restored.NextSeq() != next {
		t.Errorf("expected next seq %d, got %d", next, restored.NextSeq())
	}

	// Appends after restore continue the original sequence.
	if seq := restored.AppendUser("continue"); seq != next {
		t.Errorf("expected appended seq %d, got %d", next, seq)
	}
}

func TestRestoreRejectsNonMonotonicSequence(t *testing.T) {
	s := newTestStore(1000, 2)
	bad := []model.Turn{{Seq: 3, Role: model.RoleUser}, {Seq: 1, Role: model.RoleAgent}}
	if err := s.Restore(bad, 4); err == nil {
		t.Fatal("expected error for non-monotonic turn sequence")
	}
}
