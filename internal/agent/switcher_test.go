package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safeswitch/internal/event"
)

func TestSwitcher_ActivateHandsOffControl(t *testing.T) {
	t.Parallel()

	rec := &event.Recorder{}
	agentA, err := New("A", 4, &firstAllowed{}, WithSink(rec))
	require.NoError(t, err)
	agentB, err := New("B", 4, &firstAllowed{}, WithSink(rec))
	require.NoError(t, err)
	s := NewSwitcher(agentA, agentB)

	require.NoError(t, s.Activate(agentA))
	_, err = agentA.Act()
	require.NoError(t, err)

	require.NoError(t, s.Activate(agentB))
	assert.Same(t, agentB, s.Active())
	_, err = agentA.Act()
	assert.ErrorIs(t, err, ErrInactive)
	_, err = agentB.Act()
	assert.NoError(t, err)

	assert.Equal(t, []event.Kind{event.EpisodeStart, event.EpisodeEnd, event.EpisodeStart}, rec.Kinds())
	assert.Equal(t, event.CausePreempted, rec.Events()[1].Cause)
}

func TestSwitcher_ActivateIsIdempotent(t *testing.T) {
	t.Parallel()

	rec := &event.Recorder{}
	agentA, err := New("A", 4, &firstAllowed{}, WithSink(rec))
	require.NoError(t, err)
	s := NewSwitcher(agentA)

	require.NoError(t, s.Activate(agentA))
	_, err = agentA.Act()
	require.NoError(t, err)
	require.NoError(t, s.Activate(agentA))

	assert.Equal(t, 1, rec.Count(event.EpisodeStart))
	assert.Equal(t, 1, agentA.Episode())
	assert.Equal(t, 1, agentA.ActionCount())
}

func TestSwitcher_UnknownAgent(t *testing.T) {
	t.Parallel()

	stranger, err := New("stranger", 4, &firstAllowed{})
	require.NoError(t, err)
	s := NewSwitcher()

	assert.ErrorIs(t, s.Activate(stranger), ErrUnknownAgent)
	assert.ErrorIs(t, s.Activate(nil), ErrUnknownAgent)
	assert.Nil(t, s.Active())
}

func TestSwitcher_Reset(t *testing.T) {
	t.Parallel()

	rec := &event.Recorder{}
	a, err := New("A", 4, &firstAllowed{}, WithSink(rec))
	require.NoError(t, err)
	s := NewSwitcher(a, a, nil)
	assert.Len(t, s.Agents(), 1)

	s.Reset()
	assert.Empty(t, rec.Events())

	require.NoError(t, s.Activate(a))
	s.Reset()
	assert.Nil(t, s.Active())
	assert.False(t, a.Active())
	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, event.CauseReset, events[1].Cause)
}

func TestSwitcher_SinkMayQuerySwitcher(t *testing.T) {
	t.Parallel()

	var s *Switcher
	var seen []*Agent
	sink := event.SinkFunc(func(e event.Event) {
		if e.Kind == event.EpisodeStart || e.Kind == event.EpisodeEnd {
			seen = append(seen, s.Active())
		}
	})
	agentA, err := New("A", 4, &firstAllowed{}, WithSink(sink))
	require.NoError(t, err)
	agentB, err := New("B", 4, &firstAllowed{}, WithSink(sink))
	require.NoError(t, err)
	s = NewSwitcher(agentA, agentB)

	require.NoError(t, s.Activate(agentA))
	require.NoError(t, s.Activate(agentB))
	assert.True(t, s.Deactivate(agentB, event.CausePostCondition))
	require.NoError(t, s.Activate(agentA))
	s.Reset()

	assert.Equal(t, []*Agent{agentA, agentB, agentB, nil, agentA, nil}, seen)
}
