package tree

import (
	"errors"
	"fmt"
	"log/slog"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/safeswitch/internal/condition"
)

// ErrDuplicateNode is returned when a node is reachable more than once.
var ErrDuplicateNode = errors.New("tree: duplicate node")

// Option configures a Tree.
type Option func(*Tree)

// WithDerivedHigherPosts gives every learning leaf the guard conditions of
// the Selectors above its nearest Selector as higher post-conditions, so a
// leaf stops as soon as a goal further up the tree is already met.
func WithDerivedHigherPosts() Option {
	return func(t *Tree) { t.derive = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tree) { t.logger = logger }
}

// Tree is a validated behavior tree root.
type Tree struct {
	root   Node
	derive bool
	logger *slog.Logger
	ticks  int
}

// New validates root and returns a Tree. Every node must appear exactly
// once.
func New(root Node, opts ...Option) (*Tree, error) {
	if root == nil {
		return nil, errors.New("tree: nil root")
	}
	t := &Tree{root: root}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if err := validate(root, map[Node]bool{}); err != nil {
		return nil, err
	}
	if t.derive {
		derive(root, nil)
	}
	return t, nil
}

func validate(n Node, seen map[Node]bool) error {
	if seen[n] {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, n.Name())
	}
	seen[n] = true
	if n.Name() == "" {
		return fmt.Errorf("tree: unnamed %T", n)
	}
	for i, c := range n.Children() {
		if c == nil {
			return fmt.Errorf("tree: node %q has nil child %d", n.Name(), i)
		}
		if err := validate(c, seen); err != nil {
			return err
		}
	}
	return nil
}

// derive walks n carrying the guard conditions of each enclosing Selector,
// outermost first.
func derive(n Node, selectors [][]*condition.Condition) {
	switch n := n.(type) {
	case *Selector:
		var guards []*condition.Condition
		for _, c := range n.children {
			if g, ok := c.(*Guard); ok {
				guards = append(guards, g.cond)
			}
		}
		selectors = append(selectors, guards)
	case *Subtree:
		selectors = append(selectors, nil)
	case *RunPolicyUntil:
		if len(selectors) > 1 {
			for _, guards := range selectors[:len(selectors)-1] {
				for _, c := range guards {
					n.addHigherPost(c)
				}
			}
		}
		return
	}
	for _, c := range n.Children() {
		derive(c, selectors)
	}
}

func (l *RunPolicyUntil) addHigherPost(c *condition.Condition) {
	if c.Name() == l.task.Post.Name() {
		return
	}
	for _, h := range l.task.HigherPosts {
		if h.Name() == c.Name() {
			return
		}
	}
	l.task.HigherPosts = append(l.task.HigherPosts, c)
}

// Root returns the root node.
func (t *Tree) Root() Node { return t.root }

// Ticks returns the number of ticks since the last Reset.
func (t *Tree) Ticks() int { return t.ticks }

// Tick ticks the root once.
func (t *Tree) Tick() (bt.Status, error) {
	t.ticks++
	status, err := t.root.Tick()
	if err != nil {
		t.logger.Error("[tree] tick failed", "tick", t.ticks, "error", err)
	}
	return status, err
}

// Reset clears the run state of every node.
func (t *Tree) Reset() {
	t.ticks = 0
	t.root.Reset()
}

// BT exposes the tree as a go-behaviortree node.
func (t *Tree) BT() bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) { return t.Tick() })
}

// Leaves returns every learning leaf, in tree order.
func (t *Tree) Leaves() []*RunPolicyUntil {
	var leaves []*RunPolicyUntil
	Walk(t.root, func(n Node, _ int) {
		if l, ok := n.(*RunPolicyUntil); ok {
			leaves = append(leaves, l)
		}
	})
	return leaves
}
