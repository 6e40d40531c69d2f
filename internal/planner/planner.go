// Package planner builds reactive task trees from a goal and a set of
// skills using Planning and Acting with Behavior Trees (go-pabt).
//
// A skill is a learning leaf described by what it achieves (its
// post-condition) and what it needs (its preconditions). The planner expands
// failing conditions into the skills that achieve them, which yields the
// same "Selector(guard, Sequence(preconditions..., RunPolicyUntil))" shape
// that is otherwise written by hand.
package planner

import (
	"errors"
	"fmt"
	"log/slog"

	bt "github.com/joeycumines/go-behaviortree"
	pabtpkg "github.com/joeycumines/go-pabt"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/tree"
)

// Skill declares a learning leaf to the planner.
type Skill struct {
	Name  string
	Agent *agent.Agent
	// Post is the condition the skill achieves.
	Post *condition.Condition
	// Pre are the conditions the skill needs. They are also held as ACCs
	// while the skill runs.
	Pre []*condition.Condition
	// Options are passed to the leaf.
	Options []tree.LeafOption
}

// Planner is a go-pabt state over named conditions, with one action per
// skill.
type Planner struct {
	goal       []*condition.Condition
	conditions map[string]*condition.Condition
	actions    []*action
	logger     *slog.Logger
}

var (
	_ pabtpkg.IState = (*Planner)(nil)
	_ tree.Source    = (*Planner)(nil)
)

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// New builds a Planner. Every skill becomes a RunPolicyUntil leaf bound to
// switcher.
func New(switcher *agent.Switcher, goal []*condition.Condition, skills []Skill, opts ...Option) (*Planner, error) {
	if len(goal) == 0 {
		return nil, errors.New("planner: empty goal")
	}
	p := &Planner{goal: goal, conditions: make(map[string]*condition.Condition)}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, c := range goal {
		if err := p.register(c); err != nil {
			return nil, err
		}
	}
	for _, s := range skills {
		if err := p.register(s.Post); err != nil {
			return nil, fmt.Errorf("planner: skill %q: %w", s.Name, err)
		}
		for _, c := range s.Pre {
			if err := p.register(c); err != nil {
				return nil, fmt.Errorf("planner: skill %q: %w", s.Name, err)
			}
		}
		leafOpts := append([]tree.LeafOption{tree.WithACCs(s.Pre...), tree.WithLeafLogger(p.logger)}, s.Options...)
		leaf, err := tree.NewRunPolicyUntil(s.Name, s.Agent, switcher, s.Post, leafOpts...)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		pre := make(pabtpkg.IConditions, 0, len(s.Pre))
		for _, c := range s.Pre {
			pre = append(pre, cond{name: c.Name()})
		}
		p.actions = append(p.actions, &action{
			name:       s.Name,
			conditions: []pabtpkg.IConditions{pre},
			effects:    pabtpkg.Effects{effect{key: s.Post.Name()}},
			leaf:       leaf,
		})
	}
	return p, nil
}

func (p *Planner) register(c *condition.Condition) error {
	if c == nil {
		return errors.New("nil condition")
	}
	if prev, ok := p.conditions[c.Name()]; ok && prev != c {
		return fmt.Errorf("condition %q defined twice", c.Name())
	}
	p.conditions[c.Name()] = c
	return nil
}

// Variable implements pabtpkg.IState. Keys are condition names and values
// are the current truth of the condition.
func (p *Planner) Variable(key any) (any, error) {
	name, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("planner: unexpected key type %T", key)
	}
	c, ok := p.conditions[name]
	if !ok {
		return nil, fmt.Errorf("planner: unknown condition %q", name)
	}
	return c.Eval(), nil
}

// Actions implements pabtpkg.IState, returning the skills whose
// post-condition satisfies failed.
func (p *Planner) Actions(failed pabtpkg.Condition) ([]pabtpkg.IAction, error) {
	var actions []pabtpkg.IAction
	for _, a := range p.actions {
		for _, e := range a.effects {
			if e.Key() == failed.Key() && failed.Match(e.Value()) {
				actions = append(actions, a)
				break
			}
		}
	}
	p.logger.Debug("[planner] expanding condition", "condition", failed.Key(), "actions", len(actions))
	return actions, nil
}

// Build implements tree.Source.
func (p *Planner) Build() (bt.Node, error) {
	goal := make(pabtpkg.IConditions, 0, len(p.goal))
	for _, c := range p.goal {
		goal = append(goal, cond{name: c.Name()})
	}
	plan, err := pabtpkg.INew(p, []pabtpkg.IConditions{goal})
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return plan.Node(), nil
}

// Nodes implements tree.Source.
func (p *Planner) Nodes() []tree.Node {
	nodes := make([]tree.Node, len(p.actions))
	for i, a := range p.actions {
		nodes[i] = a.leaf
	}
	return nodes
}

// Leaves returns the learning leaf built for each skill, in order.
func (p *Planner) Leaves() []*tree.RunPolicyUntil {
	leaves := make([]*tree.RunPolicyUntil, len(p.actions))
	for i, a := range p.actions {
		leaves[i] = a.leaf
	}
	return leaves
}

// Subtree wraps the planner as a tree node.
func (p *Planner) Subtree(name string) *tree.Subtree {
	return tree.NewSubtree(name, p)
}

type cond struct{ name string }

func (c cond) Key() any { return c.name }

func (c cond) Match(value any) bool {
	v, ok := value.(bool)
	return ok && v
}

type effect struct{ key string }

func (e effect) Key() any   { return e.key }
func (e effect) Value() any { return true }

type action struct {
	name       string
	conditions []pabtpkg.IConditions
	effects    pabtpkg.Effects
	leaf       *tree.RunPolicyUntil
}

func (a *action) Conditions() []pabtpkg.IConditions { return a.conditions }
func (a *action) Effects() pabtpkg.Effects          { return a.effects }
func (a *action) Node() bt.Node                     { return tree.BT(a.leaf) }
