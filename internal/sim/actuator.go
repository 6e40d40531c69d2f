package sim

import (
	"fmt"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/dynamics"
)

// Layout is a discrete action layout in the horizontal (x, z) plane.
type Layout int

const (
	// Grid25 is a 5x5 grid of accelerations in steps of half a unit.
	Grid25 Layout = iota
	// Grid9 is a 3x3 grid of unit accelerations.
	Grid9
	// Cross5 is no-op plus the four axis directions.
	Cross5
)

func (l Layout) String() string {
	switch l {
	case Grid25:
		return "grid25"
	case Grid9:
		return "grid9"
	case Cross5:
		return "cross5"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout parses a Layout name.
func ParseLayout(s string) (Layout, error) {
	for _, l := range []Layout{Grid25, Grid9, Cross5} {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("sim: unknown action layout %q", s)
}

// NumActions returns the size of the action set.
func (l Layout) NumActions() int {
	switch l {
	case Grid25:
		return 25
	case Grid9:
		return 9
	case Cross5:
		return 5
	default:
		return 0
	}
}

// Acceleration returns the unscaled acceleration for action.
func (l Layout) Acceleration(action int) dynamics.Vec3 {
	switch l {
	case Grid25:
		i, j := action%5, action/5
		return dynamics.Vec3{X: float64(i-2) / 2, Z: float64(j-2) / 2}
	case Grid9:
		i, j := action%3, action/3
		return dynamics.Vec3{X: float64(i - 1), Z: float64(j - 1)}
	case Cross5:
		switch action {
		case 1:
			return dynamics.Vec3{Z: 1}
		case 2:
			return dynamics.Vec3{Z: -1}
		case 3:
			return dynamics.Vec3{X: 1}
		case 4:
			return dynamics.Vec3{X: -1}
		}
	}
	return dynamics.Vec3{}
}

// Actuator maps discrete actions of a Layout onto a body's acceleration.
type Actuator struct {
	layout Layout
	scale  float64
	body   *Body
}

var _ agent.Actuator = (*Actuator)(nil)

// NewActuator binds layout to body, scaling accelerations by scale.
func NewActuator(layout Layout, body *Body, scale float64) (*Actuator, error) {
	if layout.NumActions() == 0 {
		return nil, fmt.Errorf("sim: invalid layout %v", layout)
	}
	if body == nil {
		return nil, fmt.Errorf("sim: actuator has no body")
	}
	if !(scale > 0) {
		return nil, fmt.Errorf("sim: invalid acceleration scale %v", scale)
	}
	return &Actuator{layout: layout, scale: scale, body: body}, nil
}

// Layout returns the action layout.
func (a *Actuator) Layout() Layout { return a.layout }

// NumActions returns the size of the action set.
func (a *Actuator) NumActions() int { return a.layout.NumActions() }

// Acceleration returns the scaled acceleration for action.
func (a *Actuator) Acceleration(action int) dynamics.Vec3 {
	return a.layout.Acceleration(action).Scale(a.scale)
}

// Apply implements agent.Actuator.
func (a *Actuator) Apply(action int) {
	a.body.SetAcceleration(a.Acceleration(action))
}

// PosVel provides a body's own position and velocity.
type PosVel struct {
	body     *Body
	actuator *Actuator
}

var _ dynamics.Provider = (*PosVel)(nil)

// NewPosVel returns a provider for the body driven by actuator.
func NewPosVel(actuator *Actuator) *PosVel {
	return &PosVel{body: actuator.body, actuator: actuator}
}

// X implements dynamics.Provider.
func (p *PosVel) X() dynamics.State { return p.body.state }

// Dxdt implements dynamics.Provider.
func (p *PosVel) Dxdt(action int) dynamics.State {
	return dynamics.State{Position: p.body.state.Velocity, Velocity: p.actuator.Acceleration(action)}
}

// Relative provides the actuated body's state relative to a reference body,
// which may itself be moving.
type Relative struct {
	body      *Body
	reference *Body
	actuator  *Actuator
}

var _ dynamics.Provider = (*Relative)(nil)

// NewRelative returns a provider of the actuated body's state relative to
// reference.
func NewRelative(actuator *Actuator, reference *Body) (*Relative, error) {
	if reference == nil {
		return nil, fmt.Errorf("sim: relative dynamics has no reference body")
	}
	return &Relative{body: actuator.body, reference: reference, actuator: actuator}, nil
}

// X implements dynamics.Provider.
func (p *Relative) X() dynamics.State {
	return dynamics.State{
		Position: p.body.state.Position.Sub(p.reference.state.Position),
		Velocity: p.body.state.Velocity.Sub(p.reference.state.Velocity),
	}
}

// Dxdt implements dynamics.Provider. The reference body's own acceleration
// is not known in advance and is treated as zero.
func (p *Relative) Dxdt(action int) dynamics.State {
	return dynamics.State{
		Position: p.body.state.Velocity.Sub(p.reference.state.Velocity),
		Velocity: p.actuator.Acceleration(action),
	}
}
