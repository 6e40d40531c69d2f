package tree

import (
	"errors"
	"fmt"
	"log/slog"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/event"
)

// ErrNoAgent is returned when a learning leaf is built without an agent or
// switcher.
var ErrNoAgent = errors.New("tree: learning leaf has no agent")

// LeafOption configures a RunPolicyUntil leaf.
type LeafOption func(*RunPolicyUntil)

// WithACCs sets the always-constraint conditions.
func WithACCs(accs ...*condition.Condition) LeafOption {
	return func(l *RunPolicyUntil) { l.task.ACCs = append(l.task.ACCs, accs...) }
}

// WithHigherPosts sets the higher post-conditions.
func WithHigherPosts(posts ...*condition.Condition) LeafOption {
	return func(l *RunPolicyUntil) { l.task.HigherPosts = append(l.task.HigherPosts, posts...) }
}

// WithACCTerminal makes an ACC violation end the leaf with Failure. By
// default violations are penalized and the leaf keeps running until another
// condition or the action budget ends it.
func WithACCTerminal(terminal bool) LeafOption {
	return func(l *RunPolicyUntil) { l.task.ACCTerminal = terminal }
}

// WithLeafLogger sets the logger.
func WithLeafLogger(logger *slog.Logger) LeafOption {
	return func(l *RunPolicyUntil) { l.logger = logger }
}

// RunPolicyUntil hands control to its agent and lets it act once per tick
// until the post-condition holds (Success), or a higher post-condition,
// terminal ACC or exhausted budget ends the turn (Failure).
type RunPolicyUntil struct {
	base
	agent    *agent.Agent
	switcher *agent.Switcher
	task     agent.Task
	logger   *slog.Logger
}

// NewRunPolicyUntil constructs a learning leaf.
func NewRunPolicyUntil(name string, a *agent.Agent, s *agent.Switcher, post *condition.Condition, opts ...LeafOption) (*RunPolicyUntil, error) {
	if a == nil || s == nil {
		return nil, fmt.Errorf("%w (node=%q)", ErrNoAgent, name)
	}
	if post == nil {
		return nil, fmt.Errorf("tree: learning leaf %q has no post-condition", name)
	}
	l := &RunPolicyUntil{
		base:     base{name: name},
		agent:    a,
		switcher: s,
		task:     agent.Task{Post: post},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l, nil
}

// Agent returns the bound agent.
func (l *RunPolicyUntil) Agent() *agent.Agent { return l.agent }

// Post returns the post-condition.
func (l *RunPolicyUntil) Post() *condition.Condition { return l.task.Post }

// ACCs returns the always-constraint conditions.
func (l *RunPolicyUntil) ACCs() []*condition.Condition { return l.task.ACCs }

// HigherPosts returns the higher post-conditions.
func (l *RunPolicyUntil) HigherPosts() []*condition.Condition { return l.task.HigherPosts }

// ACCTerminal reports whether ACC violations end the leaf.
func (l *RunPolicyUntil) ACCTerminal() bool { return l.task.ACCTerminal }

// Children implements Node.
func (l *RunPolicyUntil) Children() []Node { return nil }

// owns reports whether this leaf's turn is the one in progress.
func (l *RunPolicyUntil) owns() bool {
	return l.switcher.Active() == l.agent && l.agent.Task() == &l.task
}

// Tick implements Node.
func (l *RunPolicyUntil) Tick() (bt.Status, error) {
	if !l.owns() {
		// the agent may be mid-turn for another leaf sharing it
		l.switcher.Deactivate(l.agent, event.CausePreempted)
		l.agent.Assign(&l.task)
		if err := l.switcher.Activate(l.agent); err != nil {
			return l.record(bt.Failure, fmt.Errorf("tree: leaf %q: %w", l.name, err))
		}
		l.logger.Debug("[tree] activated agent", "node", l.name, "agent", l.agent.Name())
	}

	step, err := l.agent.Act()
	if err != nil {
		l.switcher.Deactivate(l.agent, event.CauseError)
		return l.record(bt.Failure, fmt.Errorf("tree: leaf %q: %w", l.name, err))
	}

	status := l.statusOf(step.Outcome)
	if status != bt.Running {
		l.switcher.Deactivate(l.agent, step.Outcome)
		l.logger.Debug("[tree] leaf finished", "node", l.name, "agent", l.agent.Name(), "status", status.String(), "cause", step.Outcome.String(), "actions", l.agent.ActionCount())
	}
	return l.record(status, nil)
}

func (l *RunPolicyUntil) statusOf(outcome event.Cause) bt.Status {
	switch outcome {
	case event.CausePostCondition:
		return bt.Success
	case event.CauseHigherPostCondition, event.CauseBudget:
		return bt.Failure
	case event.CauseACC:
		if l.task.ACCTerminal {
			return bt.Failure
		}
	}
	return bt.Running
}

// Reset implements Node. The agent itself is reset by the switcher.
func (l *RunPolicyUntil) Reset() { l.status = 0 }
