// Package tree implements the policy-switching behavior tree: a closed set
// of node kinds ticked once per control step, with resumable Sequence and
// Selector composites and learning leaves that hand control between agents.
//
// Statuses are the go-behaviortree statuses, and a Tree can be exposed as a
// bt.Node so it can be driven by bt.NewTicker.
package tree

import (
	"fmt"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/safeswitch/internal/condition"
)

// Node is a behavior tree node. The set of implementations is closed:
// Sequence, Selector, Guard, Do, RunPolicyUntil and Subtree.
type Node interface {
	// Name identifies the node in logs and rendering.
	Name() string
	// Tick advances the node by one control step.
	Tick() (bt.Status, error)
	// Reset clears transient run state, keeping configuration.
	Reset()
	// Children returns the node's children, if any.
	Children() []Node
	// Status returns the result of the last tick, or 0 if not ticked since
	// the last Reset.
	Status() bt.Status
	node()
}

type base struct {
	name   string
	status bt.Status
}

func (b *base) Name() string      { return b.name }
func (b *base) Status() bt.Status { return b.status }
func (b *base) node()             {}

func (b *base) record(status bt.Status, err error) (bt.Status, error) {
	b.status = status
	return status, err
}

func invalidStatus(n Node, status bt.Status) error {
	return fmt.Errorf("tree: node %q returned invalid status %d", n.Name(), status)
}

// Sequence ticks its children in order until one does not succeed. While a
// child is Running, later ticks resume at that child.
type Sequence struct {
	base
	children []Node
	current  int
}

// NewSequence constructs a Sequence.
func NewSequence(name string, children ...Node) *Sequence {
	return &Sequence{base: base{name: name}, children: children}
}

// Children implements Node.
func (s *Sequence) Children() []Node { return s.children }

// Tick implements Node.
func (s *Sequence) Tick() (bt.Status, error) {
	for s.current < len(s.children) {
		child := s.children[s.current]
		status, err := child.Tick()
		if err != nil {
			s.current = 0
			return s.record(bt.Failure, err)
		}
		switch status {
		case bt.Success:
			s.current++
		case bt.Running:
			return s.record(bt.Running, nil)
		case bt.Failure:
			s.current = 0
			return s.record(bt.Failure, nil)
		default:
			s.current = 0
			return s.record(bt.Failure, invalidStatus(child, status))
		}
	}
	s.current = 0
	return s.record(bt.Success, nil)
}

// Reset implements Node.
func (s *Sequence) Reset() {
	s.current = 0
	s.status = 0
	for _, c := range s.children {
		c.Reset()
	}
}

// Selector ticks its children in order until one does not fail. While a
// child is Running, later ticks resume at that child.
type Selector struct {
	base
	children []Node
	current  int
}

// NewSelector constructs a Selector.
func NewSelector(name string, children ...Node) *Selector {
	return &Selector{base: base{name: name}, children: children}
}

// Children implements Node.
func (s *Selector) Children() []Node { return s.children }

// Tick implements Node.
func (s *Selector) Tick() (bt.Status, error) {
	for s.current < len(s.children) {
		child := s.children[s.current]
		status, err := child.Tick()
		if err != nil {
			s.current = 0
			return s.record(bt.Failure, err)
		}
		switch status {
		case bt.Failure:
			s.current++
		case bt.Running:
			return s.record(bt.Running, nil)
		case bt.Success:
			s.current = 0
			return s.record(bt.Success, nil)
		default:
			s.current = 0
			return s.record(bt.Failure, invalidStatus(child, status))
		}
	}
	s.current = 0
	return s.record(bt.Failure, nil)
}

// Reset implements Node.
func (s *Selector) Reset() {
	s.current = 0
	s.status = 0
	for _, c := range s.children {
		c.Reset()
	}
}

// Guard succeeds if its condition holds and fails otherwise. It is never
// Running.
type Guard struct {
	base
	cond *condition.Condition
}

// NewGuard constructs a Guard. If pred is not already a *condition.Condition
// it is named after the guard.
func NewGuard(name string, pred condition.Predicate) *Guard {
	c, ok := pred.(*condition.Condition)
	if !ok || c == nil {
		c = condition.New(name, pred)
	}
	return &Guard{base: base{name: name}, cond: c}
}

// Condition returns the guarded condition.
func (g *Guard) Condition() *condition.Condition { return g.cond }

// Children implements Node.
func (g *Guard) Children() []Node { return nil }

// Tick implements Node.
func (g *Guard) Tick() (bt.Status, error) {
	if g.cond.Eval() {
		return g.record(bt.Success, nil)
	}
	return g.record(bt.Failure, nil)
}

// Reset implements Node.
func (g *Guard) Reset() { g.status = 0 }

// Action is the body of a Do leaf.
type Action interface {
	Do() (bt.Status, error)
}

// ActionFunc adapts a function to an Action.
type ActionFunc func() (bt.Status, error)

// Do implements Action.
func (f ActionFunc) Do() (bt.Status, error) { return f() }

// Do invokes its action on every tick. Any state lives in the action.
type Do struct {
	base
	action Action
}

// NewDo constructs a Do leaf. Panics if action is nil.
func NewDo(name string, action Action) *Do {
	if action == nil {
		panic(fmt.Sprintf("tree.NewDo: action cannot be nil (node=%q)", name))
	}
	return &Do{base: base{name: name}, action: action}
}

// Children implements Node.
func (d *Do) Children() []Node { return nil }

// Tick implements Node.
func (d *Do) Tick() (bt.Status, error) {
	status, err := d.action.Do()
	if err != nil {
		return d.record(bt.Failure, err)
	}
	switch status {
	case bt.Running, bt.Success, bt.Failure:
		return d.record(status, nil)
	default:
		return d.record(bt.Failure, invalidStatus(d, status))
	}
}

// Reset implements Node.
func (d *Do) Reset() { d.status = 0 }

// Source supplies a subtree built outside this package, such as a plan.
type Source interface {
	// Build returns a fresh root for the subtree.
	Build() (bt.Node, error)
	// Nodes returns the tree nodes the built subtree ticks.
	Nodes() []Node
}

// Subtree ticks a bt.Node obtained from a Source, rebuilding it after every
// Reset.
type Subtree struct {
	base
	source Source
	root   bt.Node
}

// NewSubtree constructs a Subtree. Panics if source is nil.
func NewSubtree(name string, source Source) *Subtree {
	if source == nil {
		panic(fmt.Sprintf("tree.NewSubtree: source cannot be nil (node=%q)", name))
	}
	return &Subtree{base: base{name: name}, source: source}
}

// Children implements Node.
func (s *Subtree) Children() []Node { return s.source.Nodes() }

// Tick implements Node.
func (s *Subtree) Tick() (bt.Status, error) {
	if s.root == nil {
		root, err := s.source.Build()
		if err != nil {
			return s.record(bt.Failure, fmt.Errorf("tree: subtree %q: %w", s.name, err))
		}
		if root == nil {
			return s.record(bt.Failure, fmt.Errorf("tree: subtree %q: nil root", s.name))
		}
		s.root = root
	}
	status, err := s.root.Tick()
	if err != nil {
		return s.record(bt.Failure, err)
	}
	return s.record(status, nil)
}

// Reset implements Node.
func (s *Subtree) Reset() {
	s.root = nil
	s.status = 0
	for _, c := range s.source.Nodes() {
		c.Reset()
	}
}

// BT adapts n to a go-behaviortree node.
func BT(n Node) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) { return n.Tick() })
}

// Walk visits n and its descendants depth first.
func Walk(n Node, fn func(n Node, depth int)) {
	walk(n, 0, fn)
}

func walk(n Node, depth int, fn func(Node, int)) {
	fn(n, depth)
	for _, c := range n.Children() {
		walk(c, depth+1, fn)
	}
}
