package condition

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Observer exposes the observation values an Expr is evaluated against, e.g.
// {"player": {"x": 1.0, ...}, "dist": {"button": 0.4}}.
type Observer interface {
	Observations() map[string]any
}

// Expr is a Predicate backed by an expr-lang expression over the
// observations of an Observer. The expression is compiled once, at
// construction.
type Expr struct {
	expression string
	program    *vm.Program
	obs        Observer

	mu      sync.Mutex
	lastErr error
}

var _ Predicate = (*Expr)(nil)

// NewExpr compiles expression against the observation schema currently
// exposed by obs. Compilation errors are configuration errors.
//
// Expression syntax follows expr-lang (github.com/expr-lang/expr):
//   - Field access: player.x, dist.button
//   - Comparisons: dist.button < 0.5
//   - Boolean logic: player.y > 1 && abs(player.z) < 2
func NewExpr(obs Observer, expression string) (*Expr, error) {
	if obs == nil {
		return nil, fmt.Errorf("condition: expression %q requires an observer", expression)
	}
	if expression == "" {
		return nil, fmt.Errorf("condition: expression cannot be empty")
	}
	program, err := expr.Compile(expression,
		expr.Env(obs.Observations()),
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("condition: compile %q: %w", expression, err)
	}
	return &Expr{expression: expression, program: program, obs: obs}, nil
}

// Eval implements Predicate. Evaluation errors are logged, recorded for
// LastError, and evaluate to false.
func (e *Expr) Eval() bool {
	result, err := expr.Run(e.program, e.obs.Observations())
	if err == nil {
		b, ok := result.(bool)
		if ok {
			e.setErr(nil)
			return b
		}
		err = fmt.Errorf("expression returned non-boolean result: %T", result)
	}
	e.setErr(err)
	slog.Error("[condition] expression evaluation error",
		"expression", e.expression,
		"error", err)
	return false
}

func (e *Expr) setErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// LastError returns the error of the most recent Eval, distinguishing a
// legitimate false from a failed evaluation.
func (e *Expr) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// String returns the source expression.
func (e *Expr) String() string { return e.expression }
