package scenario

import (
	"fmt"
	"log/slog"
	"sort"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/cbf"
	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/control"
	"github.com/joeycumines/safeswitch/internal/dynamics"
	"github.com/joeycumines/safeswitch/internal/event"
	"github.com/joeycumines/safeswitch/internal/planner"
	"github.com/joeycumines/safeswitch/internal/sim"
	"github.com/joeycumines/safeswitch/internal/tree"
)

// DefaultAlpha is the barrier safety-margin factor when none is given.
const DefaultAlpha = 1.0

// Options tune how a scenario is built.
type Options struct {
	Sink   event.Sink
	Logger *slog.Logger
	// DisableCBF turns every agent's masker into a passthrough.
	DisableCBF bool
	// CBFDebug logs every barrier evaluation.
	CBFDebug bool
	// CBFGain overrides the class-K gain when positive.
	CBFGain float64
	// Control options are appended after the scenario's own.
	Control []control.Option
}

// System is a fully wired scenario.
type System struct {
	Scenario   *Scenario
	World      *sim.World
	Conditions map[string]*condition.Condition
	Barriers   map[string]cbf.Barrier
	Agents     []*agent.Agent
	Switcher   *agent.Switcher
	Tree       *tree.Tree
	Runner     *control.Runner
}

// Agent returns the named agent.
func (sys *System) Agent(name string) (*agent.Agent, bool) {
	for _, a := range sys.Agents {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

type builder struct {
	s      *Scenario
	opts   Options
	sys    *System
	agents map[string]*agent.Agent
}

// Build constructs the world, conditions, barriers, agents, tree and
// control loop described by s. Any invalid configuration, including
// degenerate barrier geometry, aborts the build.
func Build(s *Scenario, opts Options) (*System, error) {
	if opts.Sink == nil {
		opts.Sink = event.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &builder{
		s:    s,
		opts: opts,
		sys: &System{
			Scenario:   s,
			Conditions: make(map[string]*condition.Condition),
			Barriers:   make(map[string]cbf.Barrier),
		},
		agents: make(map[string]*agent.Agent),
	}
	for _, step := range []func() error{b.world, b.conditions, b.barriers, b.buildAgents, b.tree, b.runner} {
		if err := step(); err != nil {
			return nil, err
		}
	}
	opts.Logger.Info("[scenario] built", "name", s.Name, "agents", len(b.sys.Agents), "barriers", len(b.sys.Barriers), "conditions", len(b.sys.Conditions))
	return b.sys, nil
}

func vec(v Vec) dynamics.Vec3 { return dynamics.Vec3{X: v[0], Y: v[1], Z: v[2]} }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *builder) world() error {
	w, err := sim.NewWorld(b.s.World.DT, sim.WithMaxSpeed(b.s.World.MaxSpeed), sim.WithWorldLogger(b.opts.Logger))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, name := range sortedKeys(b.s.World.Bodies) {
		body := b.s.World.Bodies[name]
		if _, err := w.AddBody(name, dynamics.State{Position: vec(body.Position), Velocity: vec(body.Velocity)}); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	for _, name := range sortedKeys(b.s.World.Points) {
		if err := w.AddPoint(name, vec(b.s.World.Points[name])); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	b.sys.World = w
	return nil
}

func (b *builder) conditions() error {
	for _, name := range sortedKeys(b.s.Conditions) {
		c, err := b.sys.World.Define(name, b.s.Conditions[name])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		b.sys.Conditions[name] = c
	}
	return nil
}

func (b *builder) barriers() error {
	for _, spec := range b.s.Barriers {
		alpha := spec.Alpha
		if alpha == 0 {
			alpha = DefaultAlpha
		}
		var (
			barrier cbf.Barrier
			err     error
		)
		switch {
		case spec.Wall != nil:
			barrier, err = cbf.NewWall(vec(spec.Wall.Point), vec(spec.Wall.Normal), alpha)
		case spec.Point != nil:
			barrier, err = cbf.NewPoint(vec(spec.Point.Center), alpha, spec.Point.Scale)
		case spec.Min != nil:
			barrier, err = cbf.NewMin(b.refs(spec.Min)...)
		default:
			barrier, err = cbf.NewMax(b.refs(spec.Max)...)
		}
		if err != nil {
			return fmt.Errorf("%w: barrier %q: %w", ErrInvalid, spec.Name, err)
		}
		b.sys.Barriers[spec.Name] = barrier
	}
	return nil
}

func (b *builder) refs(names []string) []cbf.Barrier {
	out := make([]cbf.Barrier, len(names))
	for i, name := range names {
		out[i] = b.sys.Barriers[name]
	}
	return out
}

func (b *builder) buildAgents() error {
	w := b.sys.World
	for _, spec := range b.s.Agents {
		fail := func(err error) error {
			return fmt.Errorf("%w: agent %q: %w", ErrInvalid, spec.Name, err)
		}
		body, _ := w.Body(spec.Body)
		layout := sim.Grid25
		if spec.Layout != "" {
			l, err := sim.ParseLayout(spec.Layout)
			if err != nil {
				return fail(err)
			}
			layout = l
		}
		accel := spec.Accel
		if accel == 0 {
			accel = 1
		}
		act, err := sim.NewActuator(layout, body, accel)
		if err != nil {
			return fail(err)
		}

		var provider dynamics.Provider = sim.NewPosVel(act)
		if spec.RelativeTo != "" {
			ref, _ := w.Body(spec.RelativeTo)
			if provider, err = sim.NewRelative(act, ref); err != nil {
				return fail(err)
			}
		}
		checkers := make([]cbf.SafetyChecker, 0, len(spec.Barriers))
		for _, name := range spec.Barriers {
			appOpts := []cbf.ApplicatorOption{
				cbf.WithName(spec.Name + "/" + name),
				cbf.WithDebug(b.opts.CBFDebug),
				cbf.WithLogger(b.opts.Logger),
			}
			if b.opts.CBFGain > 0 {
				appOpts = append(appOpts, cbf.WithGain(b.opts.CBFGain))
			}
			app, err := cbf.NewApplicator(b.sys.Barriers[name], provider, appOpts...)
			if err != nil {
				return fail(err)
			}
			checkers = append(checkers, app)
		}
		masker := cbf.NewMasker(checkers...)
		masker.SetEnabled(!b.opts.DisableCBF)

		var policy agent.Policy
		switch spec.Policy {
		case "seek":
			target := spec.Seek
			policy = sim.NewSeek(act, func() dynamics.Vec3 {
				p, _ := w.Position(target)
				return p
			})
		default:
			policy = sim.NewRandom(spec.Seed)
		}

		agentOpts := []agent.Option{
			agent.WithActuator(act),
			agent.WithMasker(masker),
			agent.WithSink(b.opts.Sink),
			agent.WithLogger(b.opts.Logger),
		}
		if spec.MaxActions != 0 {
			agentOpts = append(agentOpts, agent.WithMaxActions(spec.MaxActions))
		}
		if spec.ActionsPerDecision != 0 {
			agentOpts = append(agentOpts, agent.WithActionsPerDecision(spec.ActionsPerDecision))
		}
		if spec.Shaper != nil {
			dist, err := w.Distance(spec.Body, spec.Shaper.To)
			if err != nil {
				return fail(err)
			}
			kind := spec.Shaper.Kind
			agentOpts = append(agentOpts, agent.WithShaper(func() agent.Shaper {
				if kind == "onlyImproving" {
					return agent.NewOnlyImproving(dist)
				}
				return agent.NewDistance(dist)
			}))
		}
		a, err := agent.New(spec.Name, act.NumActions(), policy, agentOpts...)
		if err != nil {
			return fail(err)
		}
		b.agents[spec.Name] = a
		b.sys.Agents = append(b.sys.Agents, a)
	}
	b.sys.Switcher = agent.NewSwitcher(b.sys.Agents...)
	b.sys.Switcher.SetLogger(b.opts.Logger)
	return nil
}

func (b *builder) conds(names []string) []*condition.Condition {
	out := make([]*condition.Condition, len(names))
	for i, name := range names {
		out[i] = b.sys.Conditions[name]
	}
	return out
}

func (b *builder) node(n *Node) (tree.Node, error) {
	kind, name, err := n.Kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case "sequence", "selector":
		children := make([]tree.Node, 0, len(n.Children))
		for i := range n.Children {
			c, err := b.node(&n.Children[i])
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if kind == "sequence" {
			return tree.NewSequence(name, children...), nil
		}
		return tree.NewSelector(name, children...), nil
	case "guard":
		return tree.NewGuard(name, b.sys.Conditions[n.Condition]), nil
	case "learn":
		leaf, err := tree.NewRunPolicyUntil(name, b.agents[n.Agent], b.sys.Switcher, b.sys.Conditions[n.Post],
			tree.WithACCs(b.conds(n.ACCs)...),
			tree.WithHigherPosts(b.conds(n.HigherPosts)...),
			tree.WithACCTerminal(n.ACCTerminal),
			tree.WithLeafLogger(b.opts.Logger),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return leaf, nil
	case "do":
		return tree.NewDo(name, b.action(n.Action)), nil
	default:
		skills := make([]planner.Skill, len(n.Skills))
		for i, sk := range n.Skills {
			skills[i] = planner.Skill{
				Name:    sk.Name,
				Agent:   b.agents[sk.Agent],
				Post:    b.sys.Conditions[sk.Post],
				Pre:     b.conds(sk.Pre),
				Options: []tree.LeafOption{tree.WithACCTerminal(sk.ACCTerminal)},
			}
		}
		p, err := planner.New(b.sys.Switcher, b.conds(n.Goal), skills, planner.WithLogger(b.opts.Logger))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return p.Subtree(name), nil
	}
}

func (b *builder) action(name string) tree.Action {
	switch name {
	case "reset":
		return tree.ActionFunc(func() (bt.Status, error) {
			return b.sys.Runner.ResetAction().Do()
		})
	case "failure":
		return tree.ActionFunc(func() (bt.Status, error) { return bt.Failure, nil })
	case "running":
		return tree.ActionFunc(func() (bt.Status, error) { return bt.Running, nil })
	default:
		return tree.ActionFunc(func() (bt.Status, error) { return bt.Success, nil })
	}
}

func (b *builder) tree() error {
	root, err := b.node(&b.s.Tree.Root)
	if err != nil {
		return err
	}
	opts := []tree.Option{tree.WithLogger(b.opts.Logger)}
	if b.s.Tree.DeriveHigherPosts {
		opts = append(opts, tree.WithDerivedHigherPosts())
	}
	tr, err := tree.New(root, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	b.sys.Tree = tr
	return nil
}

func (b *builder) runner() error {
	opts := append([]control.Option{
		control.WithEnvironment(b.sys.World),
		control.WithStepper(b.sys.World),
		control.WithSink(b.opts.Sink),
		control.WithLogger(b.opts.Logger),
	}, b.opts.Control...)
	r, err := control.New(b.sys.Tree, b.sys.Switcher, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	b.sys.Runner = r
	return nil
}
