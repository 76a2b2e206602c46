package history

import (
	"fmt"
	"unicode/utf8"

	"steward/model"
)

// pruneOutputThreshold is the minimum size (estimated tokens) a tool output
// must have before pruning strips it.
const pruneOutputThreshold = 200

// Prune strips bulky tool output and oversized content from turns older than
// the recency floor. The turn keeps its role and sequence index and gains a
// short marker of what was removed. Already-pruned turns and compaction
// summaries are skipped, so pruning is idempotent. Returns the number of
// turns reduced.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := len(s.turns) - s.recency
	if cutoff <= 0 {
		return 0
	}

	pruned := 0
	for i := 0; i < cutoff; i++ {
		t := s.turns[i]
		if t.Pruned || t.IsCompaction() {
			continue
		}
		reduced, changed := s.reduceTurn(t)
		if !changed {
			continue
		}
		delete(s.sizes, t.Seq)
		s.turns[i] = reduced
		pruned++
	}
	return pruned
}

// reduceTurn returns a reduced rendering of a turn, preserving role, seq,
// and tool-call/result pairing while dropping large payloads.
func (s *Store) reduceTurn(t model.Turn) (model.Turn, bool) {
	changed := false
	out := t.Clone()

	for i, r := range out.ToolResults {
		size := s.est.Count(r.Output)
		if size <= pruneOutputThreshold {
			continue
		}
		out.ToolResults[i].Output = ""
		out.ToolResults[i].Error = r.Error
		changed = true
		if out.PrunedNote == "" {
			out.PrunedNote = fmt.Sprintf("tool output removed (~%d tokens)", size)
		} else {
			out.PrunedNote += fmt.Sprintf("; tool output removed (~%d tokens)", size)
		}
	}

	if size := s.est.Count(out.Content); size > 4*pruneOutputThreshold {
		out.Content = truncateRunes(out.Content, 512) + " …"
		out.PrunedNote = appendNote(out.PrunedNote, fmt.Sprintf("content truncated (~%d tokens)", size))
		changed = true
	}

	if changed {
		out.Pruned = true
	}
	return out, changed
}

// truncateRunes cuts s at the last rune boundary at or before limit bytes,
// so truncation never leaves invalid UTF-8 in the window.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
