// Package agent implements the per-policy lifecycle controller and the
// switcher that keeps at most one policy in control of the shared body.
package agent

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joeycumines/safeswitch/internal/cbf"
	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/event"
)

const (
	// DefaultMaxActions is the per-episode action budget.
	DefaultMaxActions = 5000
	// DefaultActionsPerDecision is the decision cadence K.
	DefaultActionsPerDecision = 5
)

var (
	// ErrInactive is returned by Act when the agent is not in control.
	ErrInactive = errors.New("agent: not active")
	// ErrInvalidAction is returned when a policy chooses an action outside
	// the mask.
	ErrInvalidAction = errors.New("agent: invalid action")
)

// Policy chooses an action given the current mask, where mask[i] reports
// whether action i is allowed.
type Policy interface {
	Decide(mask []bool) (int, error)
}

// PolicyFunc adapts a function to a Policy.
type PolicyFunc func(mask []bool) (int, error)

// Decide implements Policy.
func (f PolicyFunc) Decide(mask []bool) (int, error) { return f(mask) }

// Actuator applies a chosen action to the shared body.
type Actuator interface {
	Apply(action int)
}

// ActuatorFunc adapts a function to an Actuator.
type ActuatorFunc func(action int)

// Apply implements Actuator.
func (f ActuatorFunc) Apply(action int) { f(action) }

// Task is the condition set an agent is evaluated against while in control.
type Task struct {
	Post        *condition.Condition
	ACCs        []*condition.Condition
	HigherPosts []*condition.Condition
	// ACCTerminal makes a violated ACC end the turn. Otherwise violations
	// are penalized and the action budget is still checked.
	ACCTerminal bool
}

// Step describes one Act call.
type Step struct {
	Action int
	// Fresh is true if the policy was asked for a new decision.
	Fresh   bool
	Outcome event.Cause
}

// Option configures an Agent.
type Option func(*Agent)

// WithActuator sets where chosen actions are applied.
func WithActuator(actuator Actuator) Option {
	return func(a *Agent) { a.actuator = actuator }
}

// WithMasker sets the action masker. Without one every action is allowed.
func WithMasker(masker *cbf.Masker) Option {
	return func(a *Agent) { a.masker = masker }
}

// WithMaxActions sets the per-episode action budget.
func WithMaxActions(n int) Option {
	return func(a *Agent) { a.maxActions = n }
}

// WithActionsPerDecision sets the decision cadence.
func WithActionsPerDecision(k int) Option {
	return func(a *Agent) { a.actionsPerDecision = k }
}

// WithSink sets the lifecycle event sink.
func WithSink(sink event.Sink) Option {
	return func(a *Agent) { a.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithViolationHook registers fn, called once per violated ACC and once per
// reached higher post-condition, so a hook that stops the body runs on both
// exits.
func WithViolationHook(fn func(cond *condition.Condition)) Option {
	return func(a *Agent) { a.onViolation = fn }
}

// WithLocalReset registers fn, called when the action budget is exhausted.
func WithLocalReset(fn func()) Option {
	return func(a *Agent) { a.localReset = fn }
}

// WithShaper adds a per-step reward shaper. newShaper is called at the start
// of every episode.
func WithShaper(newShaper func() Shaper) Option {
	return func(a *Agent) { a.newShaper = newShaper }
}

// Agent is the lifecycle record of one policy. It lives for the whole
// process and is reset, not recreated, between episodes.
//
// Agent is not safe for concurrent use; the control loop serializes access.
type Agent struct {
	name               string
	numActions         int
	policy             Policy
	actuator           Actuator
	masker             *cbf.Masker
	maxActions         int
	actionsPerDecision int
	sink               event.Sink
	logger             *slog.Logger
	onViolation        func(*condition.Condition)
	localReset         func()
	newShaper          func() Shaper

	task        *Task
	shaper      Shaper
	mask        []bool
	active      bool
	actionCount int
	lastAction  int
	hasLast     bool
	reward      float64
	episode     int
	episodeID   uuid.UUID
}

// New constructs an Agent.
func New(name string, numActions int, policy Policy, opts ...Option) (*Agent, error) {
	if name == "" {
		return nil, errors.New("agent: name cannot be empty")
	}
	if numActions <= 0 {
		return nil, fmt.Errorf("agent %q: invalid action count %d", name, numActions)
	}
	if policy == nil {
		return nil, fmt.Errorf("agent %q: policy cannot be nil", name)
	}
	a := &Agent{
		name:               name,
		numActions:         numActions,
		policy:             policy,
		maxActions:         DefaultMaxActions,
		actionsPerDecision: DefaultActionsPerDecision,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxActions <= 0 {
		return nil, fmt.Errorf("agent %q: invalid max actions %d", name, a.maxActions)
	}
	if a.actionsPerDecision <= 0 {
		return nil, fmt.Errorf("agent %q: invalid actions per decision %d", name, a.actionsPerDecision)
	}
	if a.masker == nil {
		a.masker = &cbf.Masker{}
	}
	if a.sink == nil {
		a.sink = event.Discard
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.mask = make([]bool, numActions)
	return a, nil
}

func (a *Agent) String() string { return a.name }

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// NumActions returns the size of the discrete action set.
func (a *Agent) NumActions() int { return a.numActions }

// MaxActions returns the per-episode action budget.
func (a *Agent) MaxActions() int { return a.maxActions }

// ActionsPerDecision returns the decision cadence.
func (a *Agent) ActionsPerDecision() int { return a.actionsPerDecision }

// ActionCount returns the number of actions taken this episode.
func (a *Agent) ActionCount() int { return a.actionCount }

// Reward returns the cumulative reward of the current (or last) episode.
func (a *Agent) Reward() float64 { return a.reward }

// Episode returns the number of episodes begun.
func (a *Agent) Episode() int { return a.episode }

// Active reports whether the agent is in control.
func (a *Agent) Active() bool { return a.active }

// Masker returns the agent's action masker.
func (a *Agent) Masker() *cbf.Masker { return a.masker }

// Task returns the currently assigned task, possibly nil.
func (a *Agent) Task() *Task { return a.task }

// Assign sets the task the agent is evaluated against. It must be called
// while the agent is inactive.
func (a *Agent) Assign(task *Task) { a.task = task }

// WriteActionMask fills mask with the agent's currently allowed actions.
// It has no side effects on the agent.
func (a *Agent) WriteActionMask(mask []bool) error {
	if len(mask) != a.numActions {
		return fmt.Errorf("agent %q: mask length %d, want %d", a.name, len(mask), a.numActions)
	}
	if err := a.masker.WriteActionMask(mask); err != nil {
		return fmt.Errorf("agent %q: %w", a.name, err)
	}
	return nil
}

// Act takes one action: a fresh policy decision every ActionsPerDecision
// actions, otherwise a repeat of the previous action. A repeat that is no
// longer allowed by the mask falls back to a fresh decision. The action is
// applied, then OnActionReceived evaluates the task conditions.
func (a *Agent) Act() (Step, error) {
	if !a.active {
		return Step{}, fmt.Errorf("%w: %s", ErrInactive, a.name)
	}
	step := Step{Action: a.lastAction}
	if a.actionCount%a.actionsPerDecision == 0 || !a.hasLast || !a.masker.IsActionSafe(a.lastAction) {
		action, err := a.decide()
		if err != nil {
			return Step{}, err
		}
		step.Action = action
		step.Fresh = true
	}
	a.lastAction, a.hasLast = step.Action, true
	if a.actuator != nil {
		a.actuator.Apply(step.Action)
	}
	step.Outcome = a.OnActionReceived(step.Action)
	return step, nil
}

func (a *Agent) decide() (int, error) {
	if err := a.WriteActionMask(a.mask); err != nil {
		return 0, err
	}
	action, err := a.policy.Decide(a.mask)
	if err != nil {
		return 0, fmt.Errorf("agent %q: decide: %w", a.name, err)
	}
	if action < 0 || action >= a.numActions || !a.mask[action] {
		return 0, fmt.Errorf("%w: agent %q chose %d", ErrInvalidAction, a.name, action)
	}
	return action, nil
}

// OnActionReceived records an applied action and evaluates, in order, the
// post-condition, the higher post-conditions, the ACCs and the action
// budget. The first category that ends the turn skips the rest. Advisory
// ACC violations do not end the turn, so the budget is still checked and
// wins if exhausted.
func (a *Agent) OnActionReceived(action int) event.Cause {
	a.actionCount++
	a.reward -= 1 / float64(a.maxActions)
	if a.shaper != nil {
		a.reward += a.shaper.Reward()
	}
	if a.checkPost() {
		return event.CausePostCondition
	}
	if a.checkHigherPosts() {
		return event.CauseHigherPostCondition
	}
	violated := a.checkACCs()
	if violated && a.task.ACCTerminal {
		return event.CauseACC
	}
	if a.actionCount >= a.maxActions {
		a.reward--
		a.logger.Info("[agent] action budget exhausted", "agent", a.name, "actions", a.actionCount, "lastAction", action)
		a.emit(event.LocalReset, "")
		if a.localReset != nil {
			a.localReset()
		}
		return event.CauseBudget
	}
	if violated {
		return event.CauseACC
	}
	return event.CauseNone
}

func (a *Agent) checkPost() bool {
	if a.task == nil || !a.task.Post.Eval() {
		return false
	}
	a.reward++
	a.logger.Debug("[agent] post-condition met", "agent", a.name, "condition", a.task.Post.Name())
	a.emit(event.PostConditionReached, a.task.Post.Name())
	return true
}

func (a *Agent) checkHigherPosts() bool {
	if a.task == nil {
		return false
	}
	reached := false
	for _, hpc := range a.task.HigherPosts {
		if !hpc.Eval() {
			continue
		}
		if a.onViolation != nil {
			a.onViolation(hpc)
		}
		if !reached {
			a.emit(event.HigherPostConditionReached, hpc.Name())
		}
		reached = true
		a.logger.Debug("[agent] higher post-condition reached", "agent", a.name, "condition", hpc.Name())
	}
	return reached
}

func (a *Agent) checkACCs() bool {
	if a.task == nil {
		return false
	}
	punished := false
	for _, acc := range a.task.ACCs {
		if acc.Eval() {
			continue
		}
		if a.onViolation != nil {
			a.onViolation(acc)
		}
		if !punished {
			a.reward--
			a.emit(event.ACCViolated, acc.Name())
		}
		punished = true
		a.logger.Debug("[agent] ACC violated", "agent", a.name, "condition", acc.Name())
	}
	return punished
}

func (a *Agent) begin() {
	a.active = true
	a.actionCount = 0
	a.hasLast = false
	a.reward = 0
	a.episode++
	a.episodeID = uuid.New()
	a.shaper = nil
	if a.newShaper != nil {
		a.shaper = a.newShaper()
	}
	a.logger.Debug("[agent] episode begin", "agent", a.name, "episode", a.episode)
	a.emit(event.EpisodeStart, "")
}

func (a *Agent) end(cause event.Cause) {
	a.active = false
	e := a.newEvent(event.EpisodeEnd, "")
	e.Cause = cause
	e.Reward = a.reward
	a.logger.Debug("[agent] episode end", "agent", a.name, "episode", a.episode, "cause", cause.String(), "reward", a.reward)
	a.sink.Emit(e)
}

func (a *Agent) newEvent(kind event.Kind, cond string) event.Event {
	e := event.New(kind)
	e.Agent = a.name
	e.Episode = a.episode
	e.EpisodeID = a.episodeID
	e.LocalStep = a.actionCount
	e.Condition = cond
	return e
}

func (a *Agent) emit(kind event.Kind, cond string) {
	a.sink.Emit(a.newEvent(kind, cond))
}
