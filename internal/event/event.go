// Package event defines the structured lifecycle events emitted by agents and
// the control loop, and the sinks that consume them.
package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a lifecycle event.
type Kind int

const (
	_ Kind = iota
	// EpisodeStart is emitted when an agent is activated.
	EpisodeStart
	// PostConditionReached is emitted when the active task's post-condition holds.
	PostConditionReached
	// ACCViolated is emitted at most once per action when any ACC is false.
	ACCViolated
	// HigherPostConditionReached is emitted when a higher task's goal holds.
	HigherPostConditionReached
	// LocalReset is emitted when an agent exhausts its action budget.
	LocalReset
	// GlobalReset is emitted when the whole tree, switcher and environment reset.
	GlobalReset
	// EpisodeEnd is emitted when an agent is deactivated.
	EpisodeEnd
)

var kindNames = map[Kind]string{
	EpisodeStart:               "episode_start",
	PostConditionReached:       "post_condition_reached",
	ACCViolated:                "acc_violated",
	HigherPostConditionReached: "higher_post_condition_reached",
	LocalReset:                 "local_reset",
	GlobalReset:                "global_reset",
	EpisodeEnd:                 "episode_end",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Cause is why an agent's turn ended (or didn't).
type Cause int

const (
	// CauseNone means the turn continues.
	CauseNone Cause = iota
	// CausePostCondition means the task succeeded.
	CausePostCondition
	// CauseHigherPostCondition means a higher task's goal was reached.
	CauseHigherPostCondition
	// CauseACC means an always-constraint condition was violated.
	CauseACC
	// CauseBudget means the action budget was exhausted.
	CauseBudget
	// CausePreempted means another agent took control.
	CausePreempted
	// CauseReset means a global reset ended the turn.
	CauseReset
	// CauseError means the agent failed to act, e.g. every action was masked.
	CauseError
)

var causeNames = [...]string{"none", "post_condition", "higher_post_condition", "acc", "budget", "preempted", "reset", "error"}

func (c Cause) String() string {
	if c >= 0 && int(c) < len(causeNames) {
		return causeNames[c]
	}
	return "unknown"
}

// ParseCause is the inverse of Cause.String.
func ParseCause(s string) (Cause, bool) {
	for i, name := range causeNames {
		if name == s {
			return Cause(i), true
		}
	}
	return 0, false
}

// Event is a single lifecycle event.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	Time      time.Time
	Agent     string
	Episode   int
	EpisodeID uuid.UUID
	// LocalStep is the agent's action count when the event was emitted.
	LocalStep int
	// Condition names the condition that triggered the event, if any.
	Condition string
	// Reward is the cumulative episode reward, set on EpisodeEnd.
	Reward float64
	// Cause is set on EpisodeEnd.
	Cause Cause
}

// New returns an Event of the given kind with a fresh ID and timestamp.
func New(kind Kind) Event {
	return Event{ID: uuid.New(), Kind: kind, Time: time.Now().UTC()}
}

// Sink consumes lifecycle events. Emit must not block the control loop.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout emits to every sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// LogSink logs events with slog.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", e.Kind.String(), "localStep", e.LocalStep}
	if e.Agent != "" {
		attrs = append(attrs, "agent", e.Agent, "episode", e.Episode)
	}
	if e.Condition != "" {
		attrs = append(attrs, "condition", e.Condition)
	}
	if e.Kind == EpisodeEnd {
		attrs = append(attrs, "cause", e.Cause.String(), "reward", e.Reward)
	}
	logger.Info("[event] "+e.Kind.String(), attrs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Count returns the number of recorded events of kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Clear drops all recorded events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
