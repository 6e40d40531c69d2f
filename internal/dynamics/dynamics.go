// Package dynamics defines the state representation shared by the safety
// filter and the simulation bridge, and the Provider contract through which
// the filter reads the dynamical system.
package dynamics

import (
	"fmt"
	"math"
)

// Vec3 is a 3-D vector in the body's coordinate space.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns s*v.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the inner product.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Norm returns the euclidean length.
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Unit returns v scaled to length one, or the zero vector (and false) if v
// has no usable direction.
func (v Vec3) Unit() (Vec3, bool) {
	n := v.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Vec3{}, false
	}
	return v.Scale(1 / n), true
}

// IsFinite reports whether all components are finite.
func (v Vec3) IsFinite() bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.4g, %.4g, %.4g)", v.X, v.Y, v.Z)
}

// State is the (position, velocity) pair of a second-order system. When it
// is used as a derivative, Position holds dp/dt (velocity) and Velocity holds
// dv/dt (acceleration).
type State struct {
	Position Vec3
	Velocity Vec3
}

// Advance returns s + dt*d, a first-order step along the derivative d.
func (s State) Advance(d State, dt float64) State {
	return State{
		Position: s.Position.Add(d.Position.Scale(dt)),
		Velocity: s.Velocity.Add(d.Velocity.Scale(dt)),
	}
}

// Provider is the only bridge between the safety filter and the external
// simulation. Both methods must be free of side effects: masking is
// speculative and may query any number of candidate actions per tick.
type Provider interface {
	// X returns the current state.
	X() State
	// Dxdt returns the state derivative that would result from taking the
	// given discrete action from the current state.
	Dxdt(action int) State
}
