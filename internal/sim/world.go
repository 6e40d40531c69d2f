// Package sim is a small kinematic point-mass world. It stands in for the
// external physics simulation so that the safety filter and the scheduler
// can be exercised end to end.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/dynamics"
)

// Body is a point mass moved by a commanded acceleration.
type Body struct {
	name    string
	state   dynamics.State
	initial dynamics.State
	acc     dynamics.Vec3
}

// Name returns the body name.
func (b *Body) Name() string { return b.name }

// State returns the current position and velocity.
func (b *Body) State() dynamics.State { return b.state }

// SetState overwrites the current state.
func (b *Body) SetState(s dynamics.State) { b.state = s }

// Acceleration returns the commanded acceleration.
func (b *Body) Acceleration() dynamics.Vec3 { return b.acc }

// SetAcceleration commands an acceleration until the next call.
func (b *Body) SetAcceleration(acc dynamics.Vec3) { b.acc = acc }

// WorldOption configures a World.
type WorldOption func(*World)

// WithMaxSpeed clamps body speed. Zero means unlimited.
func WithMaxSpeed(speed float64) WorldOption {
	return func(w *World) { w.maxSpeed = speed }
}

// WithWorldLogger sets the logger.
func WithWorldLogger(logger *slog.Logger) WorldOption {
	return func(w *World) { w.logger = logger }
}

// World holds bodies, fixed named points and named expression conditions.
type World struct {
	dt         float64
	maxSpeed   float64
	bodies     map[string]*Body
	points     map[string]dynamics.Vec3
	conditions map[string]*condition.Expr
	steps      int
	logger     *slog.Logger
}

// NewWorld returns an empty world stepping dt seconds per Step.
func NewWorld(dt float64, opts ...WorldOption) (*World, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("sim: invalid time step %v", dt)
	}
	w := &World{
		dt:         dt,
		bodies:     make(map[string]*Body),
		points:     make(map[string]dynamics.Vec3),
		conditions: make(map[string]*condition.Expr),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.maxSpeed < 0 {
		return nil, fmt.Errorf("sim: invalid max speed %v", w.maxSpeed)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// DT returns the time step.
func (w *World) DT() float64 { return w.dt }

// Steps returns the number of steps since the last Reset.
func (w *World) Steps() int { return w.steps }

func (w *World) checkName(name string) error {
	if name == "" {
		return errors.New("sim: empty name")
	}
	if name == "dist" || name == "step" {
		return fmt.Errorf("sim: %q is a reserved observation name", name)
	}
	if _, ok := w.bodies[name]; ok {
		return fmt.Errorf("sim: %q already defined", name)
	}
	if _, ok := w.points[name]; ok {
		return fmt.Errorf("sim: %q already defined", name)
	}
	return nil
}

// AddBody adds a body that returns to initial on Reset.
func (w *World) AddBody(name string, initial dynamics.State) (*Body, error) {
	if err := w.checkName(name); err != nil {
		return nil, err
	}
	if !initial.Position.IsFinite() || !initial.Velocity.IsFinite() {
		return nil, fmt.Errorf("sim: body %q has non-finite initial state", name)
	}
	b := &Body{name: name, state: initial, initial: initial}
	w.bodies[name] = b
	return b, nil
}

// Body returns the named body.
func (w *World) Body(name string) (*Body, bool) {
	b, ok := w.bodies[name]
	return b, ok
}

// AddPoint adds a fixed named point.
func (w *World) AddPoint(name string, p dynamics.Vec3) error {
	if err := w.checkName(name); err != nil {
		return err
	}
	if !p.IsFinite() {
		return fmt.Errorf("sim: point %q is not finite", name)
	}
	w.points[name] = p
	return nil
}

// Point returns the named point.
func (w *World) Point(name string) (dynamics.Vec3, bool) {
	p, ok := w.points[name]
	return p, ok
}

// Position returns the current position of a body or point.
func (w *World) Position(name string) (dynamics.Vec3, bool) {
	if b, ok := w.bodies[name]; ok {
		return b.state.Position, true
	}
	return w.Point(name)
}

// Distance returns a function measuring the distance between two named
// bodies or points.
func (w *World) Distance(from, to string) (func() float64, error) {
	if _, ok := w.Position(from); !ok {
		return nil, fmt.Errorf("sim: unknown body or point %q", from)
	}
	if _, ok := w.Position(to); !ok {
		return nil, fmt.Errorf("sim: unknown body or point %q", to)
	}
	return func() float64 {
		a, _ := w.Position(from)
		b, _ := w.Position(to)
		return a.Sub(b).Norm()
	}, nil
}

// Step advances every body by one time step with semi-implicit Euler
// integration.
func (w *World) Step() {
	for _, b := range w.bodies {
		v := b.state.Velocity.Add(b.acc.Scale(w.dt))
		if w.maxSpeed > 0 {
			if speed := v.Norm(); speed > w.maxSpeed {
				v = v.Scale(w.maxSpeed / speed)
			}
		}
		b.state.Velocity = v
		b.state.Position = b.state.Position.Add(v.Scale(w.dt))
	}
	w.steps++
}

// Reset returns every body to its initial state.
func (w *World) Reset() {
	for _, b := range w.bodies {
		b.state = b.initial
		b.acc = dynamics.Vec3{}
	}
	w.steps = 0
	w.logger.Debug("[sim] world reset")
}

// Observations implements condition.Observer. Each body is exposed by name
// with x, y, z, vx, vy, vz and speed. dist.<a>.<b> is the distance between
// any body a and any body or point b.
func (w *World) Observations() map[string]any {
	obs := make(map[string]any, len(w.bodies)+2)
	dist := make(map[string]any, len(w.bodies))
	for name, b := range w.bodies {
		p, v := b.state.Position, b.state.Velocity
		obs[name] = map[string]any{
			"x": p.X, "y": p.Y, "z": p.Z,
			"vx": v.X, "vy": v.Y, "vz": v.Z,
			"speed": v.Norm(),
		}
		d := make(map[string]any, len(w.bodies)+len(w.points))
		for other, ob := range w.bodies {
			if other != name {
				d[other] = p.Sub(ob.state.Position).Norm()
			}
		}
		for pname, pp := range w.points {
			d[pname] = p.Sub(pp).Norm()
		}
		dist[name] = d
	}
	obs["dist"] = dist
	obs["step"] = w.steps
	return obs
}

// Define compiles a named boolean expression over Observations and returns
// it as a Condition. The name is also answered by Query.
func (w *World) Define(name, expression string) (*condition.Condition, error) {
	if name == "" {
		return nil, errors.New("sim: empty condition name")
	}
	if _, ok := w.conditions[name]; ok {
		return nil, fmt.Errorf("sim: condition %q already defined", name)
	}
	e, err := condition.NewExpr(w, expression)
	if err != nil {
		return nil, fmt.Errorf("sim: condition %q: %w", name, err)
	}
	w.conditions[name] = e
	return condition.New(name, e), nil
}

// Query implements condition.Queryer.
func (w *World) Query(name string) (bool, error) {
	e, ok := w.conditions[name]
	if !ok {
		return false, fmt.Errorf("sim: unknown condition %q", name)
	}
	ok = e.Eval()
	return ok, e.LastError()
}

// Conditions returns the defined condition names, sorted.
func (w *World) Conditions() []string {
	names := make([]string, 0, len(w.conditions))
	for name := range w.conditions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
