package cbf

import (
	"errors"
	"fmt"
	"math"

	"github.com/joeycumines/safeswitch/internal/dynamics"
)

// ErrDegenerateGeometry is returned when a barrier cannot be constructed
// because its geometry or gain does not define a safe set.
var ErrDegenerateGeometry = errors.New("cbf: degenerate barrier geometry")

// Barrier is a scalar safety function over state. The set of implementations
// is closed: Wall, Point, Min and Max.
type Barrier interface {
	// Value returns h(x). It is recomputed on every call.
	Value(x dynamics.State) float64
	// String describes the barrier for logs.
	String() string

	barrier()
}

var (
	_ Barrier = (*Wall)(nil)
	_ Barrier = (*Point)(nil)
	_ Barrier = (*Min)(nil)
	_ Barrier = (*Max)(nil)
)

// brakingTerm is the signed stopping distance v*|v|/(2*alpha) of a body with
// speed v along a direction and deceleration capability alpha. It is
// negative when moving toward the boundary.
func brakingTerm(v, alpha float64) float64 {
	return v * math.Abs(v) / (2 * alpha)
}

func validGain(alpha float64) bool {
	return alpha > 0 && !math.IsInf(alpha, 0) && !math.IsNaN(alpha)
}

// Wall is a second-order barrier for a plane. The safe side is the half-space
// the normal points into. The value combines the signed distance d = n·(p-p0)
// with the braking term of the normal velocity v = n·v:
//
//	h = d + v|v|/(2α)
//
// so h >= 0 while approaching the plane means the body can still stop before
// crossing it with deceleration α.
type Wall struct {
	point  dynamics.Vec3
	normal dynamics.Vec3
	alpha  float64
}

// NewWall constructs a Wall barrier. The normal is normalized; a zero or
// non-finite normal, a non-finite point, or a non-positive alpha fails with
// ErrDegenerateGeometry.
func NewWall(point, normal dynamics.Vec3, alpha float64) (*Wall, error) {
	if !point.IsFinite() {
		return nil, fmt.Errorf("%w: wall point %v is not finite", ErrDegenerateGeometry, point)
	}
	unit, ok := normal.Unit()
	if !ok {
		return nil, fmt.Errorf("%w: wall normal %v has no direction", ErrDegenerateGeometry, normal)
	}
	if !validGain(alpha) {
		return nil, fmt.Errorf("%w: wall alpha must be positive, got %v", ErrDegenerateGeometry, alpha)
	}
	return &Wall{point: point, normal: unit, alpha: alpha}, nil
}

// Value implements Barrier.
func (w *Wall) Value(x dynamics.State) float64 {
	d := w.normal.Dot(x.Position.Sub(w.point))
	v := w.normal.Dot(x.Velocity)
	return d + brakingTerm(v, w.alpha)
}

func (w *Wall) String() string {
	return fmt.Sprintf("wall(p=%v, n=%v, α=%g)", w.point, w.normal, w.alpha)
}

func (*Wall) barrier() {}

// Point keeps the body at least Radius away from a target point. It is an
// approximation of the second-order barrier: the braking term uses the
// radial velocity only, ignoring curvature of the exclusion sphere.
//
//	h = |p-c| - r + vr|vr|/(2α)
type Point struct {
	center dynamics.Vec3
	radius float64
	alpha  float64
}

// NewPoint constructs a Point barrier around center. The exclusion radius is
// the scale of the body (its diameter); alpha is the deceleration capability
// used by the braking term.
func NewPoint(center dynamics.Vec3, alpha, scale float64) (*Point, error) {
	if !center.IsFinite() {
		return nil, fmt.Errorf("%w: point center %v is not finite", ErrDegenerateGeometry, center)
	}
	if !validGain(alpha) {
		return nil, fmt.Errorf("%w: point alpha must be positive, got %v", ErrDegenerateGeometry, alpha)
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: point scale must be positive, got %v", ErrDegenerateGeometry, scale)
	}
	return &Point{center: center, radius: scale, alpha: alpha}, nil
}

// Radius returns the exclusion radius.
func (b *Point) Radius() float64 { return b.radius }

// Value implements Barrier.
func (b *Point) Value(x dynamics.State) float64 {
	rel := x.Position.Sub(b.center)
	var vr float64
	if u, ok := rel.Unit(); ok {
		vr = u.Dot(x.Velocity)
	}
	return rel.Norm() - b.radius + brakingTerm(vr, b.alpha)
}

func (b *Point) String() string {
	return fmt.Sprintf("point(c=%v, r=%g, α=%g)", b.center, b.radius, b.alpha)
}

func (*Point) barrier() {}

// Min is the intersection of its children's safe sets.
type Min struct {
	children []Barrier
}

// NewMin composes children so that the state is safe only if it is safe for
// all of them. At least one child is required.
func NewMin(children ...Barrier) (*Min, error) {
	if err := checkChildren("min", children); err != nil {
		return nil, err
	}
	return &Min{children: append([]Barrier(nil), children...)}, nil
}

// Value implements Barrier.
func (m *Min) Value(x dynamics.State) float64 {
	h := m.children[0].Value(x)
	for _, c := range m.children[1:] {
		h = math.Min(h, c.Value(x))
	}
	return h
}

func (m *Min) String() string { return compositeString("min", m.children) }

func (*Min) barrier() {}

// Max is the union of its children's safe sets, e.g. "below the ledge OR on
// the bridge".
type Max struct {
	children []Barrier
}

// NewMax composes children so that the state is safe if it is safe for any of
// them. At least one child is required.
func NewMax(children ...Barrier) (*Max, error) {
	if err := checkChildren("max", children); err != nil {
		return nil, err
	}
	return &Max{children: append([]Barrier(nil), children...)}, nil
}

// Value implements Barrier.
func (m *Max) Value(x dynamics.State) float64 {
	h := m.children[0].Value(x)
	for _, c := range m.children[1:] {
		h = math.Max(h, c.Value(x))
	}
	return h
}

func (m *Max) String() string { return compositeString("max", m.children) }

func (*Max) barrier() {}

func checkChildren(kind string, children []Barrier) error {
	if len(children) == 0 {
		return fmt.Errorf("%w: %s composite requires at least one child", ErrDegenerateGeometry, kind)
	}
	for i, c := range children {
		if c == nil {
			return fmt.Errorf("%w: %s composite child %d is nil", ErrDegenerateGeometry, kind, i)
		}
	}
	return nil
}

func compositeString(kind string, children []Barrier) string {
	s := kind + "("
	for i, c := range children {
		if i > 0 {
			s += ", "
		}
		s += c.String()
	}
	return s + ")"
}
