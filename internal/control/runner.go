// Package control drives a behavior tree at a fixed rate and owns the global
// reset path.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/event"
	"github.com/joeycumines/safeswitch/internal/tree"
)

// DefaultMaxSteps is the default global reset period, in ticks.
const DefaultMaxSteps = 10000

// Environment restores world state on a global reset.
type Environment interface {
	Reset()
}

// Stepper advances the world by one control period after each tick.
type Stepper interface {
	Step()
}

// Option configures a Runner.
type Option func(*Runner)

// WithEnvironment sets the collaborator reset on every global reset.
func WithEnvironment(env Environment) Option {
	return func(r *Runner) { r.env = env }
}

// WithStepper sets the world stepper.
func WithStepper(stepper Stepper) Option {
	return func(r *Runner) { r.stepper = stepper }
}

// WithMaxSteps sets the global reset period. Zero disables periodic resets.
func WithMaxSteps(n int) Option {
	return func(r *Runner) { r.maxSteps = n }
}

// WithSink sets the lifecycle event sink.
func WithSink(sink event.Sink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithRunID overrides the generated run ID, e.g. to match an event store.
func WithRunID(id uuid.UUID) Option {
	return func(r *Runner) { r.runID = id }
}

// WithTickHook registers fn, called after every tick with its result.
func WithTickHook(fn func(status bt.Status, err error)) Option {
	return func(r *Runner) { r.onTick = fn }
}

// Runner ticks a tree once per control step and performs global resets.
// Step and Reset are safe to call from different goroutines; they never
// overlap.
type Runner struct {
	mu       sync.Mutex
	tree     *tree.Tree
	switcher *agent.Switcher
	env      Environment
	stepper  Stepper
	maxSteps int
	sink     event.Sink
	logger   *slog.Logger
	onTick   func(bt.Status, error)

	runID        uuid.UUID
	steps        int
	totalSteps   int
	resets       int
	resetPending bool
}

// New constructs a Runner.
func New(tr *tree.Tree, switcher *agent.Switcher, opts ...Option) (*Runner, error) {
	if tr == nil {
		return nil, errors.New("control: nil tree")
	}
	if switcher == nil {
		return nil, errors.New("control: nil switcher")
	}
	r := &Runner{
		tree:     tr,
		switcher: switcher,
		maxSteps: DefaultMaxSteps,
		runID:    uuid.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxSteps < 0 {
		return nil, fmt.Errorf("control: invalid max steps %d", r.maxSteps)
	}
	if r.sink == nil {
		r.sink = event.Discard
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// RunID identifies this runner's lifetime.
func (r *Runner) RunID() uuid.UUID { return r.runID }

// Steps returns the number of ticks since the last global reset.
func (r *Runner) Steps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.steps
}

// TotalSteps returns the number of ticks since construction.
func (r *Runner) TotalSteps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSteps
}

// Resets returns the number of global resets performed.
func (r *Runner) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// Step performs one control step: tick the tree, apply any global reset that
// is due, then advance the world.
func (r *Runner) Step() (bt.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, err := r.tree.Tick()
	if r.onTick != nil {
		r.onTick(status, err)
	}
	if err != nil {
		return status, err
	}
	r.steps++
	r.totalSteps++
	switch {
	case r.resetPending:
		r.reset("requested")
	case r.maxSteps > 0 && r.steps%r.maxSteps == 0:
		r.reset("max steps")
	}
	if r.stepper != nil {
		r.stepper.Step()
	}
	return status, nil
}

// Reset performs a global reset immediately.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset("external")
}

// RequestReset schedules a global reset at the end of the current tick. It
// must only be called while a tick is in progress, e.g. from a Do leaf.
func (r *Runner) RequestReset() {
	r.resetPending = true
}

// ResetAction is a Do action that requests a global reset and succeeds.
func (r *Runner) ResetAction() tree.Action {
	return tree.ActionFunc(func() (bt.Status, error) {
		r.RequestReset()
		return bt.Success, nil
	})
}

func (r *Runner) reset(reason string) {
	r.logger.Info("[control] global reset", "reason", reason, "steps", r.steps, "run", r.runID)
	r.tree.Reset()
	r.switcher.Reset()
	if r.env != nil {
		r.env.Reset()
	}
	e := event.New(event.GlobalReset)
	e.LocalStep = r.steps
	r.sink.Emit(e)
	r.steps = 0
	r.resets++
	r.resetPending = false
}

var errStepLimit = errors.New("control: step limit reached")

// Run steps at the given period until ctx is done, a step fails, or limit
// steps have run (limit <= 0 means no limit). A zero period steps back to
// back. Cancellation is not an error.
func (r *Runner) Run(ctx context.Context, period time.Duration, limit int) error {
	if period < 0 {
		return fmt.Errorf("control: invalid period %s", period)
	}
	if period == 0 {
		for n := 0; limit <= 0 || n < limit; n++ {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := r.Step(); err != nil {
				return err
			}
		}
		return nil
	}
	var n int
	ticker := bt.NewTicker(ctx, period, bt.New(func([]bt.Node) (bt.Status, error) {
		status, err := r.Step()
		if err != nil {
			return status, err
		}
		n++
		if limit > 0 && n >= limit {
			return status, errStepLimit
		}
		return status, nil
	}))
	<-ticker.Done()
	err := ticker.Err()
	if errors.Is(err, errStepLimit) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// RunSteps performs n steps back to back, without pacing.
func (r *Runner) RunSteps(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Step(); err != nil {
			return fmt.Errorf("control: step %d: %w", i+1, err)
		}
	}
	return nil
}
