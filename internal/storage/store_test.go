package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safeswitch/internal/event"
)

func openMemory(t *testing.T, runID uuid.UUID) *Store {
	t.Helper()
	s, err := Open(":memory:", runID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type episode struct {
	agent      string
	id         uuid.UUID
	violations int
	steps      int
	cause      event.Cause
	reward     float64
}

func (ep episode) emit(sink event.Sink) {
	start := event.New(event.EpisodeStart)
	start.Agent, start.EpisodeID = ep.agent, ep.id
	sink.Emit(start)
	for i := range ep.violations {
		e := event.New(event.ACCViolated)
		e.Agent, e.EpisodeID, e.LocalStep, e.Condition = ep.agent, ep.id, i+1, "OnBridge"
		sink.Emit(e)
	}
	if ep.cause == event.CauseBudget {
		e := event.New(event.LocalReset)
		e.Agent, e.EpisodeID, e.LocalStep = ep.agent, ep.id, ep.steps
		sink.Emit(e)
	}
	end := event.New(event.EpisodeEnd)
	end.Agent, end.EpisodeID, end.LocalStep, end.Cause, end.Reward = ep.agent, ep.id, ep.steps, ep.cause, ep.reward
	sink.Emit(end)
}

func TestStore_Summary(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	s := openMemory(t, runID)
	for _, ep := range []episode{
		{agent: "Mover", id: uuid.New(), steps: 10, cause: event.CausePostCondition, reward: 0.9},
		{agent: "Mover", id: uuid.New(), violations: 2, steps: 30, cause: event.CauseBudget, reward: -2.1},
		{agent: "Climber", id: uuid.New(), violations: 1, steps: 20, cause: event.CausePostCondition, reward: 0.5},
	} {
		ep.emit(s)
	}
	s.Emit(event.New(event.GlobalReset))

	require.NoError(t, s.Err())
	assert.Equal(t, 12, s.Written())

	summary, err := s.Summary(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, summary, 2)

	climber, mover := summary[0], summary[1]
	assert.Equal(t, "Climber", climber.Agent)
	assert.Equal(t, 1, climber.Episodes)
	assert.Equal(t, 1.0, climber.ViolationRate())

	assert.Equal(t, "Mover", mover.Agent)
	assert.Equal(t, 2, mover.Episodes)
	assert.Equal(t, 1, mover.Successes)
	assert.Equal(t, 2, mover.ACCViolations)
	assert.Equal(t, 1, mover.ViolatingEpisodes)
	assert.Equal(t, 1, mover.LocalResets)
	assert.InDelta(t, 0.5, mover.SuccessRate(), 1e-9)
	assert.InDelta(t, 0.5, mover.ViolationRate(), 1e-9)
	assert.InDelta(t, 20, mover.MeanSteps, 1e-9)
	assert.InDelta(t, -0.6, mover.MeanReward, 1e-9)

	counts, err := s.Counts(context.Background(), runID.String())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[event.EpisodeEnd])
	assert.Equal(t, 1, counts[event.GlobalReset])

	other, err := s.Summary(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_RunsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.db")
	first, second := uuid.New(), uuid.New()

	s, err := Open(path, first, nil)
	require.NoError(t, err)
	s.Emit(event.New(event.GlobalReset))
	require.NoError(t, s.Close())

	s, err = Open(path, second, nil)
	require.NoError(t, err)
	defer s.Close()
	s.Emit(event.New(event.GlobalReset))
	s.Emit(event.New(event.GlobalReset))

	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.String(), runs[0].ID)
	assert.Equal(t, 1, runs[0].Events)
	assert.Equal(t, 2, runs[1].Events)
	assert.False(t, runs[1].Last.Before(runs[1].First))
}

func TestStore_EmitErrorIsRemembered(t *testing.T) {
	t.Parallel()

	s := openMemory(t, uuid.New())
	e := event.New(event.GlobalReset)
	s.Emit(e)
	s.Emit(e) // duplicate primary key
	assert.Error(t, s.Err())
	assert.Equal(t, 1, s.Written())
}

func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Open("", uuid.New(), nil)
	assert.Error(t, err)
}
