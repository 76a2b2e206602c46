// Observer event feed.
//
// The loop emits events for UIs and logs. Emission is strictly non-blocking:
// a slow or absent observer never stalls the loop.

package agent

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// EventKind identifies what happened.
type EventKind string

const (
	// EventStateTransition reports the controller moving between states.
	EventStateTransition EventKind = "state-transition"
	// EventContentFragment carries one streamed content fragment.
	EventContentFragment EventKind = "content-fragment"
	// EventToolCallStart reports a tool call entering execution.
	EventToolCallStart EventKind = "tool-call-start"
	// EventToolCallEnd reports a tool call's result.
	EventToolCallEnd EventKind = "tool-call-end"
	// EventApprovalPrompt reports a confirmation request going out.
	EventApprovalPrompt EventKind = "approval-prompt"
	// EventCorrectiveIssued reports the loop detector injecting a
	// corrective directive.
	EventCorrectiveIssued EventKind = "corrective-issued"
	// EventCheckpointWritten reports a checkpoint save.
	EventCheckpointWritten EventKind = "checkpoint-written"
)

// Event is one entry on the observer feed.
type Event struct {
	Kind      EventKind
	At        time.Time
	Iteration int

	// Populated per kind.
	From, To     string // state transitions
	Fragment     string // content fragments
	ToolName     string // tool call start/end, approval prompts
	CallID       string
	Status       string // tool call end
	Reason       string // corrective directives
	CheckpointID string
}

// Sink consumes events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// ChannelSink forwards events to a buffered channel, dropping on overflow
// so the loop never stalls behind a slow consumer.
type ChannelSink struct {
	ch      chan Event
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{
		ch:     make(chan Event, buffer),
		logger: slog.Default(),
	}
}

// Events returns the receive side of the feed.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close closes the feed. Emit after Close is a no-op.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// Emit implements Sink. Full buffers drop the event.
func (s *ChannelSink) Emit(event Event) {
	defer func() {
		// Emit racing Close is tolerated; a dropped event beats a panic.
		_ = recover()
	}()
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
		s.logger.Debug("observer feed full, dropping event", "kind", event.Kind)
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

var (
	_ Sink = NopSink{}
	_ Sink = (*ChannelSink)(nil)
)
