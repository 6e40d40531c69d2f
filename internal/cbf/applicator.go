package cbf

import (
	"errors"
	"log/slog"
	"math"

	"github.com/joeycumines/safeswitch/internal/dynamics"
)

const (
	// DefaultGain is the class-K gain γ used in dh/dt + γh >= 0.
	DefaultGain = 1.0
	// DefaultStep is the finite difference horizon used to estimate dh/dt.
	DefaultStep = 1e-3
)

// Evaluation is the outcome of checking one candidate action.
type Evaluation struct {
	Action int
	H      float64
	HDot   float64
	Safe   bool
}

// Applicator evaluates the forward invariance condition of one barrier under
// one dynamics provider.
type Applicator struct {
	name     string
	barrier  Barrier
	provider dynamics.Provider
	gain     float64
	step     float64
	debug    bool
	logger   *slog.Logger
}

// ApplicatorOption configures an Applicator.
type ApplicatorOption func(*Applicator)

// WithGain sets the class-K gain. Non-positive values are ignored.
func WithGain(gain float64) ApplicatorOption {
	return func(a *Applicator) {
		if validGain(gain) {
			a.gain = gain
		}
	}
}

// WithStep sets the finite difference horizon. Non-positive values are ignored.
func WithStep(step float64) ApplicatorOption {
	return func(a *Applicator) {
		if validGain(step) {
			a.step = step
		}
	}
}

// WithDebug enables per-action debug logging of h and dh/dt.
func WithDebug(debug bool) ApplicatorOption {
	return func(a *Applicator) { a.debug = debug }
}

// WithLogger sets the logger used in debug mode.
func WithLogger(logger *slog.Logger) ApplicatorOption {
	return func(a *Applicator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithName labels the applicator in debug logs.
func WithName(name string) ApplicatorOption {
	return func(a *Applicator) { a.name = name }
}

// NewApplicator binds a barrier to a dynamics provider.
func NewApplicator(barrier Barrier, provider dynamics.Provider, opts ...ApplicatorOption) (*Applicator, error) {
	if barrier == nil {
		return nil, errors.New("cbf: applicator requires a barrier")
	}
	if provider == nil {
		return nil, errors.New("cbf: applicator requires a dynamics provider")
	}
	a := &Applicator{
		barrier:  barrier,
		provider: provider,
		gain:     DefaultGain,
		step:     DefaultStep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.name == "" {
		a.name = barrier.String()
	}
	return a, nil
}

// Barrier returns the bound barrier.
func (a *Applicator) Barrier() Barrier { return a.barrier }

// Evaluate computes h, the finite difference estimate of dh/dt under the
// given action, and whether dh/dt + γh >= 0. Non-finite values are unsafe.
func (a *Applicator) Evaluate(action int) Evaluation {
	x := a.provider.X()
	dxdt := a.provider.Dxdt(action)

	h := a.barrier.Value(x)
	next := a.barrier.Value(x.Advance(dxdt, a.step))
	hdot := (next - h) / a.step

	lhs := hdot + a.gain*h
	e := Evaluation{
		Action: action,
		H:      h,
		HDot:   hdot,
		Safe:   lhs >= 0 && !math.IsNaN(lhs),
	}
	if a.debug {
		a.logger.Debug("[cbf] evaluate",
			"applicator", a.name,
			"action", action,
			"h", h,
			"hdot", hdot,
			"safe", e.Safe)
	}
	return e
}

// IsActionSafe reports whether taking action keeps the barrier condition.
func (a *Applicator) IsActionSafe(action int) bool {
	return a.Evaluate(action).Safe
}
