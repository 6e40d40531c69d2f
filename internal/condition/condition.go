// Package condition provides the named boolean predicates used as behavior
// tree guards and as agent post-conditions, always-constraint conditions
// (ACCs) and higher post-conditions.
//
// Conditions are read-only observers: evaluating one must never mutate the
// environment or any agent.
package condition

import (
	"fmt"
	"log/slog"
)

// Predicate is a boolean function of no arguments, bound at construction to
// whatever collaborator it observes.
type Predicate interface {
	Eval() bool
}

// Func adapts an ordinary function to a Predicate.
type Func func() bool

// Eval implements Predicate.
func (f Func) Eval() bool { return f() }

// Condition is a named Predicate. Identity, for logging and events, is the
// name.
type Condition struct {
	name string
	pred Predicate
}

// New constructs a Condition.
//
// Panics if name is empty or pred is nil; both are programming errors caught
// at tree construction time.
func New(name string, pred Predicate) *Condition {
	if name == "" {
		panic("condition.New: name cannot be empty")
	}
	if pred == nil {
		panic(fmt.Sprintf("condition.New: predicate cannot be nil (condition=%q)", name))
	}
	return &Condition{name: name, pred: pred}
}

// Name returns the condition name.
func (c *Condition) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Eval evaluates the predicate. A nil Condition is never satisfied.
func (c *Condition) Eval() bool {
	if c == nil {
		return false
	}
	return c.pred.Eval()
}

func (c *Condition) String() string { return c.Name() }

// Names returns the names of conds, in order.
func Names(conds []*Condition) []string {
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = c.Name()
	}
	return names
}

// Queryer exposes named boolean queries of an environment, e.g.
// "ButtonPressed".
type Queryer interface {
	Query(name string) (bool, error)
}

type query struct {
	src  Queryer
	name string
}

// Query returns a Predicate that asks src for the named query. Query errors
// are logged and evaluate to false.
func Query(src Queryer, name string) Predicate {
	return &query{src: src, name: name}
}

func (q *query) Eval() bool {
	ok, err := q.src.Query(q.name)
	if err != nil {
		slog.Error("[condition] query failed", "query", q.name, "error", err)
		return false
	}
	return ok
}

type not struct{ p Predicate }

// Not negates p.
func Not(p Predicate) Predicate { return not{p} }

func (n not) Eval() bool { return !n.p.Eval() }

type all []Predicate

// All is satisfied when every predicate is. It evaluates every member, so
// logging side effects of the members are not skipped.
func All(preds ...Predicate) Predicate { return all(preds) }

func (a all) Eval() bool {
	ok := true
	for _, p := range a {
		if !p.Eval() {
			ok = false
		}
	}
	return ok
}
