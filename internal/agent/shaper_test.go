package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	d := 10.0
	s := NewDistance(func() float64 { return d })

	d = 8
	assert.InDelta(t, 0.2, s.Reward(), 1e-9)
	d = 9
	assert.InDelta(t, -0.1, s.Reward(), 1e-9)
	d = 9
	assert.Zero(t, s.Reward())
}

func TestOnlyImproving(t *testing.T) {
	t.Parallel()

	d := 10.0
	s := NewOnlyImproving(func() float64 { return d })

	d = 8
	assert.InDelta(t, 0.2, s.Reward(), 1e-9)
	d = 9
	assert.Zero(t, s.Reward())
	d = 7
	assert.InDelta(t, 0.1, s.Reward(), 1e-9)
}

func TestShapers_ZeroStart(t *testing.T) {
	t.Parallel()

	d := 0.0
	a := NewDistance(func() float64 { return d })
	b := NewOnlyImproving(func() float64 { return d })
	d = -1
	assert.Zero(t, a.Reward())
	assert.Zero(t, b.Reward())
}
