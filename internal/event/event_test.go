package event

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_RoundTrip(t *testing.T) {
	t.Parallel()

	for k := EpisodeStart; k <= EpisodeEnd; k++ {
		parsed, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, parsed)
	}
	assert.Equal(t, "unknown", Kind(0).String())
	_, ok := ParseKind("nope")
	assert.False(t, ok)
}

func TestCause_RoundTrip(t *testing.T) {
	t.Parallel()

	for c := CauseNone; c <= CauseError; c++ {
		parsed, ok := ParseCause(c.String())
		require.True(t, ok)
		assert.Equal(t, c, parsed)
	}
	assert.Equal(t, "unknown", Cause(-1).String())
}

func TestNew(t *testing.T) {
	t.Parallel()

	e := New(LocalReset)
	assert.Equal(t, LocalReset, e.Kind)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Time.IsZero())
}

func TestRecorderAndFanout(t *testing.T) {
	t.Parallel()

	var a, b Recorder
	var n int
	sink := Fanout{&a, &b, SinkFunc(func(Event) { n++ }), Discard}

	sink.Emit(New(EpisodeStart))
	sink.Emit(New(ACCViolated))
	sink.Emit(New(ACCViolated))

	assert.Equal(t, 3, n)
	assert.Equal(t, []Kind{EpisodeStart, ACCViolated, ACCViolated}, a.Kinds())
	assert.Equal(t, 2, b.Count(ACCViolated))
	assert.Len(t, b.Events(), 3)

	a.Clear()
	assert.Empty(t, a.Events())
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	e := New(EpisodeEnd)
	e.Agent = "MoveToTarget"
	e.Cause = CauseBudget
	e.LocalStep = 12
	sink.Emit(e)

	out := buf.String()
	assert.Contains(t, out, "kind=episode_end")
	assert.Contains(t, out, "agent=MoveToTarget")
	assert.Contains(t, out, "cause=budget")
	assert.Contains(t, out, "localStep=12")
}
