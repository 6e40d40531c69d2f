// Package scenario loads YAML scenario files describing a world, its
// conditions and barriers, the agents acting in it and the behavior tree
// that schedules them, and builds the corresponding runtime objects.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every scenario validation failure.
var ErrInvalid = errors.New("scenario: invalid")

// Vec is an [x, y, z] triple.
type Vec [3]float64

// Scenario is the decoded scenario file.
type Scenario struct {
	Name       string            `yaml:"name"`
	World      World             `yaml:"world"`
	Conditions map[string]string `yaml:"conditions"`
	Barriers   []Barrier         `yaml:"barriers"`
	Agents     []Agent           `yaml:"agents"`
	Tree       Tree              `yaml:"tree"`
}

// World describes the point-mass world.
type World struct {
	DT       float64         `yaml:"dt"`
	MaxSpeed float64         `yaml:"maxSpeed"`
	Bodies   map[string]Body `yaml:"bodies"`
	Points   map[string]Vec  `yaml:"points"`
}

// Body is a body's initial state.
type Body struct {
	Position Vec `yaml:"position"`
	Velocity Vec `yaml:"velocity"`
}

// Barrier describes one named barrier. Exactly one of Wall, Point, Min and
// Max must be set.
type Barrier struct {
	Name  string  `yaml:"name"`
	Alpha float64 `yaml:"alpha"`
	Wall  *struct {
		Point  Vec `yaml:"point"`
		Normal Vec `yaml:"normal"`
	} `yaml:"wall"`
	Point *struct {
		Center Vec     `yaml:"center"`
		Scale  float64 `yaml:"scale"`
	} `yaml:"point"`
	Min []string `yaml:"min"`
	Max []string `yaml:"max"`
}

// Agent describes one policy and its safety filter.
type Agent struct {
	Name               string   `yaml:"name"`
	Body               string   `yaml:"body"`
	Layout             string   `yaml:"layout"`
	Accel              float64  `yaml:"accel"`
	Policy             string   `yaml:"policy"`
	Seek               string   `yaml:"seek"`
	Seed               uint64   `yaml:"seed"`
	MaxActions         int      `yaml:"maxActions"`
	ActionsPerDecision int      `yaml:"actionsPerDecision"`
	Barriers           []string `yaml:"barriers"`
	RelativeTo         string   `yaml:"relativeTo"`
	Shaper             *Shaper  `yaml:"shaper"`
}

// Shaper is an optional distance reward shaper.
type Shaper struct {
	Kind string `yaml:"kind"`
	To   string `yaml:"to"`
}

// Tree is the behavior tree section.
type Tree struct {
	DeriveHigherPosts bool `yaml:"deriveHigherPosts"`
	Root              Node `yaml:"root"`
}

// Node is one behavior tree node. Exactly one of Sequence, Selector, Guard,
// Learn, Do and Plan names the node and selects its kind.
type Node struct {
	Sequence string `yaml:"sequence"`
	Selector string `yaml:"selector"`
	Guard    string `yaml:"guard"`
	Learn    string `yaml:"learn"`
	Do       string `yaml:"do"`
	Plan     string `yaml:"plan"`

	Children []Node `yaml:"children"`

	// guard
	Condition string `yaml:"condition"`

	// learn
	Agent       string   `yaml:"agent"`
	Post        string   `yaml:"post"`
	ACCs        []string `yaml:"accs"`
	HigherPosts []string `yaml:"higherPosts"`
	ACCTerminal bool     `yaml:"accTerminal"`

	// do
	Action string `yaml:"action"`

	// plan
	Goal   []string `yaml:"goal"`
	Skills []Skill  `yaml:"skills"`
}

// Skill is a planner skill.
type Skill struct {
	Name        string   `yaml:"name"`
	Agent       string   `yaml:"agent"`
	Post        string   `yaml:"post"`
	Pre         []string `yaml:"pre"`
	ACCTerminal bool     `yaml:"accTerminal"`
}

// Kind returns the node kind and name.
func (n *Node) Kind() (kind, name string, err error) {
	set := 0
	for _, k := range [...]struct{ kind, name string }{
		{"sequence", n.Sequence},
		{"selector", n.Selector},
		{"guard", n.Guard},
		{"learn", n.Learn},
		{"do", n.Do},
		{"plan", n.Plan},
	} {
		if k.name != "" {
			kind, name = k.kind, k.name
			set++
		}
	}
	if set != 1 {
		return "", "", fmt.Errorf("%w: tree node must have exactly one of sequence, selector, guard, learn, do, plan (got %d)", ErrInvalid, set)
	}
	return kind, name, nil
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks references and required fields. Geometry is checked when
// the barriers are built.
func (s *Scenario) Validate() error {
	if !(s.World.DT > 0) {
		return invalid("world.dt must be positive")
	}
	if len(s.World.Bodies) == 0 {
		return invalid("world has no bodies")
	}
	barriers := make(map[string]bool, len(s.Barriers))
	for i, b := range s.Barriers {
		if b.Name == "" {
			return invalid("barrier %d has no name", i)
		}
		if barriers[b.Name] {
			return invalid("barrier %q defined twice", b.Name)
		}
		kinds := 0
		if b.Wall != nil {
			kinds++
		}
		if b.Point != nil {
			kinds++
		}
		if b.Min != nil {
			kinds++
		}
		if b.Max != nil {
			kinds++
		}
		if kinds != 1 {
			return invalid("barrier %q must have exactly one of wall, point, min, max", b.Name)
		}
		for _, ref := range append(append([]string(nil), b.Min...), b.Max...) {
			if !barriers[ref] {
				return invalid("barrier %q references undefined barrier %q", b.Name, ref)
			}
		}
		barriers[b.Name] = true
	}
	agents := make(map[string]bool, len(s.Agents))
	for i, a := range s.Agents {
		if a.Name == "" {
			return invalid("agent %d has no name", i)
		}
		if agents[a.Name] {
			return invalid("agent %q defined twice", a.Name)
		}
		agents[a.Name] = true
		if _, ok := s.World.Bodies[a.Body]; !ok {
			return invalid("agent %q: unknown body %q", a.Name, a.Body)
		}
		if a.RelativeTo != "" {
			if _, ok := s.World.Bodies[a.RelativeTo]; !ok {
				return invalid("agent %q: unknown reference body %q", a.Name, a.RelativeTo)
			}
		}
		for _, ref := range a.Barriers {
			if !barriers[ref] {
				return invalid("agent %q: unknown barrier %q", a.Name, ref)
			}
		}
		switch a.Policy {
		case "", "random":
		case "seek":
			if !s.hasPosition(a.Seek) {
				return invalid("agent %q: unknown seek target %q", a.Name, a.Seek)
			}
		default:
			return invalid("agent %q: unknown policy %q", a.Name, a.Policy)
		}
		if a.Shaper != nil {
			switch a.Shaper.Kind {
			case "distance", "onlyImproving":
			default:
				return invalid("agent %q: unknown shaper %q", a.Name, a.Shaper.Kind)
			}
			if !s.hasPosition(a.Shaper.To) {
				return invalid("agent %q: unknown shaper target %q", a.Name, a.Shaper.To)
			}
		}
	}
	return s.validateNode(&s.Tree.Root, agents)
}

func (s *Scenario) hasPosition(name string) bool {
	if _, ok := s.World.Bodies[name]; ok {
		return true
	}
	_, ok := s.World.Points[name]
	return ok
}

func (s *Scenario) checkConditions(node string, names ...string) error {
	for _, name := range names {
		if _, ok := s.Conditions[name]; !ok {
			return invalid("node %q: unknown condition %q", node, name)
		}
	}
	return nil
}

func (s *Scenario) validateNode(n *Node, agents map[string]bool) error {
	kind, name, err := n.Kind()
	if err != nil {
		return err
	}
	switch kind {
	case "sequence", "selector":
		if len(n.Children) == 0 {
			return invalid("%s %q has no children", kind, name)
		}
		for i := range n.Children {
			if err := s.validateNode(&n.Children[i], agents); err != nil {
				return err
			}
		}
		return nil
	case "guard":
		return s.checkConditions(name, n.Condition)
	case "learn":
		if !agents[n.Agent] {
			return invalid("node %q: unknown agent %q", name, n.Agent)
		}
		if err := s.checkConditions(name, n.Post); err != nil {
			return err
		}
		if err := s.checkConditions(name, n.ACCs...); err != nil {
			return err
		}
		return s.checkConditions(name, n.HigherPosts...)
	case "do":
		switch n.Action {
		case "reset", "success", "failure", "running":
			return nil
		}
		return invalid("node %q: unknown action %q", name, n.Action)
	default: // plan
		if len(n.Goal) == 0 {
			return invalid("plan %q has no goal", name)
		}
		if err := s.checkConditions(name, n.Goal...); err != nil {
			return err
		}
		for _, sk := range n.Skills {
			if !agents[sk.Agent] {
				return invalid("plan %q: skill %q: unknown agent %q", name, sk.Name, sk.Agent)
			}
			if err := s.checkConditions(name, sk.Post); err != nil {
				return err
			}
			if err := s.checkConditions(name, sk.Pre...); err != nil {
				return err
			}
		}
		return nil
	}
}
