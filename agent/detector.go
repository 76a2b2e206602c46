// Loop detection: recognizes repetition and stagnation in recent iterations.
//
// Information Hiding:
// - Call fingerprinting hidden
// - Window bookkeeping and strike escalation hidden

package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"steward/model"
)

// SignalKind classifies what the detector observed.
type SignalKind int

const (
	// SignalNone means the run looks productive.
	SignalNone SignalKind = iota
	// SignalCorrective means stagnation was detected; the next planning
	// request should carry a corrective directive.
	SignalCorrective
	// SignalAbort means stagnation survived a corrective directive and the
	// run should stop.
	SignalAbort
)

// Signal is the detector's verdict for one iteration.
type Signal struct {
	Kind   SignalKind
	Reason string
}

// CorrectiveDirective is injected into planning when the detector fires.
const CorrectiveDirective = "You appear to be stuck repeating the same actions without progress. " +
	"Stop, reconsider your approach, and either try a different strategy or finish with your best answer."

// Detector inspects the most recent iterations for identical repeated calls,
// oscillation between two alternatives, and zero net progress. One detection
// yields a corrective signal; a second consecutive detection without
// behavioral change escalates to abort.
type Detector struct {
	window    int
	threshold int
	history   [][]string // call fingerprints per iteration, oldest first
	strikes   int
}

// NewDetector creates a detector over a window of recent iterations.
func NewDetector(window, threshold int) *Detector {
	if window <= 0 {
		window = 6
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &Detector{window: window, threshold: threshold}
}

// Observe records one iteration's tool calls and returns the verdict.
// Iterations with no calls (completions) reset nothing and never fire.
func (d *Detector) Observe(calls []model.ToolCall) Signal {
	if len(calls) == 0 {
		return Signal{Kind: SignalNone}
	}

	d.history = append(d.history, fingerprints(calls))
	if len(d.history) > d.window {
		d.history = d.history[len(d.history)-d.window:]
	}

	reason, stuck := d.detect()
	if !stuck {
		d.strikes = 0
		return Signal{Kind: SignalNone}
	}

	d.strikes++
	if d.strikes >= 2 {
		return Signal{Kind: SignalAbort, Reason: reason}
	}
	return Signal{Kind: SignalCorrective, Reason: reason}
}

func (d *Detector) detect() (string, bool) {
	if reason, ok := d.detectRepetition(); ok {
		return reason, true
	}
	if reason, ok := d.detectOscillation(); ok {
		return reason, true
	}
	if reason, ok := d.detectNoProgress(); ok {
		return reason, true
	}
	return "", false
}

// detectRepetition fires when an identical call (tool + arguments) from the
// latest iteration appears at least threshold times within the window. Only
// the latest iteration's calls count as candidates: a call the model already
// moved past must not keep the detector firing.
func (d *Detector) detectRepetition() (string, bool) {
	latest := make(map[string]bool)
	for _, fp := range d.history[len(d.history)-1] {
		latest[fp] = true
	}

	counts := make(map[string]int)
	for _, iter := range d.history {
		for _, fp := range iter {
			if !latest[fp] {
				continue
			}
			counts[fp]++
			if counts[fp] >= d.threshold {
				return fmt.Sprintf("identical tool call repeated %d times within the last %d iterations", counts[fp], len(d.history)), true
			}
		}
	}
	return "", false
}

// detectOscillation fires on an A,B,A,B pattern across the last four
// iterations with A != B.
func (d *Detector) detectOscillation() (string, bool) {
	n := len(d.history)
	if n < 4 {
		return "", false
	}
	a, b := iterKey(d.history[n-4]), iterKey(d.history[n-3])
	if a == b {
		return "", false
	}
	if iterKey(d.history[n-2]) == a && iterKey(d.history[n-1]) == b {
		return "oscillating between two alternating actions", true
	}
	return "", false
}

// detectNoProgress fires when a full window of iterations surfaced no new
// calls: every iteration's call set is one already seen earlier in the window.
func (d *Detector) detectNoProgress() (string, bool) {
	if len(d.history) < d.window {
		return "", false
	}
	seen := map[string]bool{iterKey(d.history[0]): true}
	for _, iter := range d.history[1:] {
		key := iterKey(iter)
		if !seen[key] {
			return "", false
		}
	}
	return fmt.Sprintf("no new actions across the last %d iterations", d.window), true
}

// Reset clears detector state, for resumed runs that changed strategy.
func (d *Detector) Reset() {
	d.history = nil
	d.strikes = 0
}

// fingerprints produces stable per-call identifiers from tool name and
// argument bytes. Call IDs are excluded: two calls are identical when the
// model asks for the same tool with the same arguments.
func fingerprints(calls []model.ToolCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		sum := sha256.Sum256(c.Args)
		out[i] = c.Name + ":" + hex.EncodeToString(sum[:8])
	}
	return out
}

func iterKey(fps []string) string {
	sorted := make([]string, len(fps))
	copy(sorted, fps)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
