package cbf

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safeswitch/internal/dynamics"
)

// pointMass is a provider whose actions are accelerations along X.
type pointMass struct {
	x     dynamics.State
	acc   []float64
	calls int
}

func (p *pointMass) X() dynamics.State { return p.x }

func (p *pointMass) Dxdt(action int) dynamics.State {
	p.calls++
	return dynamics.State{Position: p.x.Velocity, Velocity: dynamics.Vec3{X: p.acc[action]}}
}

func newApproaching() *pointMass {
	return &pointMass{
		// one unit from the wall, closing at unit speed
		x:   dynamics.State{Position: dynamics.Vec3{X: 1}, Velocity: dynamics.Vec3{X: -1}},
		acc: []float64{-1, 0, 1},
	}
}

func TestApplicator_ForwardInvariance(t *testing.T) {
	t.Parallel()

	wall, err := NewWall(dynamics.Vec3{}, dynamics.Vec3{X: 1}, 1)
	require.NoError(t, err)
	pm := newApproaching()
	app, err := NewApplicator(wall, pm)
	require.NoError(t, err)

	// h = 0.5, dh/dt = -1 + a, so the condition needs a >= 0.5
	e := app.Evaluate(2)
	assert.InDelta(t, 0.5, e.H, 1e-9)
	assert.InDelta(t, 0.0, e.HDot, 1e-2)
	assert.True(t, e.Safe)

	assert.False(t, app.IsActionSafe(1))
	assert.False(t, app.IsActionSafe(0))

	before := pm.x
	_ = app.Evaluate(0)
	assert.Equal(t, before, pm.x, "evaluation must not mutate the provider")
}

func TestApplicator_Gain(t *testing.T) {
	t.Parallel()

	wall, err := NewWall(dynamics.Vec3{}, dynamics.Vec3{X: 1}, 1)
	require.NoError(t, err)

	// with γ = 4 the coasting action satisfies -1 + 4*0.5 >= 0
	app, err := NewApplicator(wall, newApproaching(), WithGain(4))
	require.NoError(t, err)
	assert.True(t, app.IsActionSafe(1))
	assert.False(t, app.IsActionSafe(0))

	// invalid options fall back to defaults
	app, err = NewApplicator(wall, newApproaching(), WithGain(-1), WithStep(0))
	require.NoError(t, err)
	assert.False(t, app.IsActionSafe(1))
}

func TestApplicator_DebugDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	wall, err := NewWall(dynamics.Vec3{}, dynamics.Vec3{X: 1}, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	plain, err := NewApplicator(wall, newApproaching())
	require.NoError(t, err)
	debug, err := NewApplicator(wall, newApproaching(), WithDebug(true), WithLogger(logger), WithName("ledge"))
	require.NoError(t, err)

	for a := 0; a < 3; a++ {
		assert.Equal(t, plain.Evaluate(a), debug.Evaluate(a))
	}
	out := buf.String()
	assert.Contains(t, out, "applicator=ledge")
	assert.Contains(t, out, "hdot=")
}

func TestNewApplicator_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	wall, err := NewWall(dynamics.Vec3{}, dynamics.Vec3{X: 1}, 1)
	require.NoError(t, err)

	_, err = NewApplicator(nil, newApproaching())
	require.Error(t, err)
	_, err = NewApplicator(wall, nil)
	require.Error(t, err)
}
