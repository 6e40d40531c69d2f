package dynamics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVec3_Arithmetic(t *testing.T) {
	t.Parallel()

	a := Vec3{1, 2, 3}
	b := Vec3{-1, 0.5, 2}

	assert.Equal(t, Vec3{0, 2.5, 5}, a.Add(b))
	assert.Equal(t, Vec3{2, 1.5, 1}, a.Sub(b))
	assert.Equal(t, Vec3{2, 4, 6}, a.Scale(2))
	assert.InDelta(t, 6.0, a.Dot(b), 1e-12)
	assert.InDelta(t, math.Sqrt(14), a.Norm(), 1e-12)
}

func TestVec3_Unit(t *testing.T) {
	t.Parallel()

	u, ok := Vec3{0, 3, 4}.Unit()
	require.True(t, ok)
	assert.InDelta(t, 1.0, u.Norm(), 1e-12)
	assert.InDelta(t, 0.6, u.Y, 1e-12)

	_, ok = Vec3{}.Unit()
	assert.False(t, ok)

	_, ok = Vec3{math.NaN(), 0, 0}.Unit()
	assert.False(t, ok)
}

func TestState_Advance(t *testing.T) {
	t.Parallel()

	s := State{Position: Vec3{1, 0, 0}, Velocity: Vec3{0, 0, 1}}
	d := State{Position: s.Velocity, Velocity: Vec3{1, 0, 0}}

	next := s.Advance(d, 0.5)
	assert.Equal(t, Vec3{1, 0, 0.5}, next.Position)
	assert.Equal(t, Vec3{0.5, 0, 1}, next.Velocity)
}
