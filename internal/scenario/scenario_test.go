package scenario

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safeswitch/internal/cbf"
	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/control"
	"github.com/joeycumines/safeswitch/internal/event"
)

const minimal = `
name: minimal
world:
  dt: 0.1
  bodies:
    player: {position: [0, 0, 0]}
  points:
    target: [1, 0, 0]
conditions:
  Near: "dist.player.target < 0.5"
barriers:
  - name: wall
    wall: {point: [2, 0, 0], normal: [-1, 0, 0]}
agents:
  - name: Mover
    body: player
    policy: seek
    seek: target
    barriers: [wall]
tree:
  root:
    learn: MoveToTarget
    agent: Mover
    post: Near
`

func TestLoad(t *testing.T) {
	t.Parallel()

	s, err := Load("testdata/bridge.yaml")
	require.NoError(t, err)
	assert.Equal(t, "bridge", s.Name)
	assert.Len(t, s.Barriers, 5)
	assert.Equal(t, []string{"railLeft", "railRight"}, s.Barriers[3].Min)
	assert.Len(t, s.Agents, 2)
	assert.True(t, s.Tree.DeriveHigherPosts)

	kind, name, err := s.Tree.Root.Kind()
	require.NoError(t, err)
	assert.Equal(t, "sequence", kind)
	assert.Equal(t, "Root", name)

	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		old     string
		new     string
		wantErr string
	}{
		{"unknown field", "name: minimal", "name: minimal\nbogus: 1", "bogus"},
		{"zero dt", "dt: 0.1", "dt: 0", "world.dt"},
		{"two barrier kinds", "wall: {point: [2, 0, 0], normal: [-1, 0, 0]}", "wall: {point: [2, 0, 0], normal: [-1, 0, 0]}\n    min: [wall]", "exactly one"},
		{"unknown barrier ref", "barriers: [wall]", "barriers: [fence]", "unknown barrier"},
		{"unknown body", "body: player", "body: ghost", "unknown body"},
		{"unknown policy", "policy: seek", "policy: magic", "unknown policy"},
		{"unknown seek target", "seek: target", "seek: nowhere", "seek target"},
		{"unknown condition", "post: Near", "post: Far", "unknown condition"},
		{"unknown agent", "agent: Mover", "agent: Nobody", "unknown agent"},
		{"two node kinds", "learn: MoveToTarget", "learn: MoveToTarget\n    do: Reset", "exactly one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := strings.Replace(minimal, tt.old, tt.new, 1)
			require.NotEqual(t, minimal, src)
			_, err := Parse(strings.NewReader(src))
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuild_DegenerateGeometry(t *testing.T) {
	t.Parallel()

	src := strings.Replace(minimal, "normal: [-1, 0, 0]", "normal: [0, 0, 0]", 1)
	s, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	_, err = Build(s, Options{})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, cbf.ErrDegenerateGeometry)
}

func TestBuild_InvalidExpression(t *testing.T) {
	t.Parallel()

	src := strings.Replace(minimal, `"dist.player.target < 0.5"`, `"dist.player.target <"`, 1)
	s, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	_, err = Build(s, Options{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestBuild_Minimal(t *testing.T) {
	t.Parallel()

	s, err := Parse(strings.NewReader(minimal))
	require.NoError(t, err)
	rec := &event.Recorder{}
	sys, err := Build(s, Options{Sink: rec})
	require.NoError(t, err)

	mover, ok := sys.Agent("Mover")
	require.True(t, ok)
	assert.Equal(t, 25, mover.NumActions())
	assert.Equal(t, 1, mover.Masker().Len())
	assert.True(t, mover.Masker().Enabled())
	_, ok = sys.Agent("Nobody")
	assert.False(t, ok)

	require.NoError(t, sys.Runner.RunSteps(context.Background(), 200))
	assert.GreaterOrEqual(t, rec.Count(event.PostConditionReached), 1)
}

func TestBuild_DisableCBF(t *testing.T) {
	t.Parallel()

	s, err := Parse(strings.NewReader(minimal))
	require.NoError(t, err)
	sys, err := Build(s, Options{DisableCBF: true, CBFGain: 2})
	require.NoError(t, err)
	assert.False(t, sys.Agents[0].Masker().Enabled())
}

func TestBuild_Bridge(t *testing.T) {
	t.Parallel()

	s, err := Load("testdata/bridge.yaml")
	require.NoError(t, err)
	rec := &event.Recorder{}
	sys, err := Build(s, Options{Sink: rec, Control: []control.Option{control.WithMaxSteps(2000)}})
	require.NoError(t, err)

	leaves := sys.Tree.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, []string{"AtGoal"}, condition.Names(leaves[0].HigherPosts()))
	assert.Empty(t, leaves[1].HigherPosts())
	assert.Equal(t, []string{"OnBridge"}, condition.Names(leaves[1].ACCs()))

	require.NoError(t, sys.Runner.RunSteps(context.Background(), 600))

	reached := map[string]int{}
	for _, e := range rec.Events() {
		if e.Kind == event.PostConditionReached {
			reached[e.Agent]++
		}
	}
	assert.Positive(t, reached["Mover"])
	assert.Positive(t, reached["Climber"])
	assert.Positive(t, rec.Count(event.GlobalReset))
	assert.Positive(t, sys.Runner.Resets())

	for _, a := range sys.Agents {
		assert.Positive(t, a.Episode(), a.Name())
	}
}

func TestBuild_Planned(t *testing.T) {
	t.Parallel()

	s, err := Load("testdata/bridge_planned.yaml")
	require.NoError(t, err)
	rec := &event.Recorder{}
	sys, err := Build(s, Options{Sink: rec})
	require.NoError(t, err)

	require.NoError(t, sys.Runner.RunSteps(context.Background(), 600))
	assert.Positive(t, rec.Count(event.PostConditionReached))
	assert.Positive(t, rec.Count(event.EpisodeStart))
}
