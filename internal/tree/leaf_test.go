package tree

import (
	"errors"
	"testing"

	bt "github.com/joeycumines/go-behaviortree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/event"
)

type fixture struct {
	rec      *event.Recorder
	switcher *agent.Switcher
	acts     map[string]int
}

func newFixture() *fixture {
	return &fixture{rec: &event.Recorder{}, switcher: agent.NewSwitcher(), acts: map[string]int{}}
}

func (f *fixture) agent(t *testing.T, name string, opts ...agent.Option) *agent.Agent {
	t.Helper()
	policy := agent.PolicyFunc(func([]bool) (int, error) { return 0, nil })
	opts = append([]agent.Option{
		agent.WithSink(f.rec),
		agent.WithActuator(agent.ActuatorFunc(func(int) { f.acts[name]++ })),
	}, opts...)
	a, err := agent.New(name, 4, policy, opts...)
	require.NoError(t, err)
	f.switcher.Add(a)
	return a
}

func flag(name string, v *bool) *condition.Condition {
	return condition.New(name, condition.Func(func() bool { return *v }))
}

func TestRunPolicyUntil_PostConditionSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.agent(t, "MoveToTarget")
	reached := false
	post := flag("IsControllingTarget", &reached)
	leaf, err := NewRunPolicyUntil("MoveToTarget", a, f.switcher, post)
	require.NoError(t, err)
	tr, err := New(NewSelector("MoveSelector", NewGuard("CloseToTarget", post), leaf))
	require.NoError(t, err)

	status, err := tr.Tick()
	require.NoError(t, err)
	assert.Equal(t, bt.Running, status)
	assert.Same(t, a, f.switcher.Active())

	reached = true
	status, err = tr.Tick()
	require.NoError(t, err)
	assert.Equal(t, bt.Success, status)
	assert.Equal(t, bt.Success, leaf.Status())
	assert.Nil(t, f.switcher.Active())
	assert.False(t, a.Active())

	for range 5 {
		status, err = tr.Tick()
		require.NoError(t, err)
		assert.Equal(t, bt.Success, status)
	}
	assert.Equal(t, 2, f.acts["MoveToTarget"])
	_, err = a.Act()
	assert.ErrorIs(t, err, agent.ErrInactive)

	assert.Equal(t, []event.Kind{event.EpisodeStart, event.PostConditionReached, event.EpisodeEnd}, f.rec.Kinds())
	assert.Equal(t, event.CausePostCondition, f.rec.Events()[2].Cause)
}

func TestRunPolicyUntil_BudgetExhaustionFails(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.agent(t, "PushTargetUp", agent.WithMaxActions(4))
	never := false
	leaf, err := NewRunPolicyUntil("PushTargetUp", a, f.switcher, flag("PlayerUp", &never),
		WithACCs(condition.New("Always", condition.Func(func() bool { return true }))),
		WithHigherPosts(flag("ButtonPressed", &never)),
	)
	require.NoError(t, err)
	root := NewSequence("Root", leaf)

	var statuses []bt.Status
	for range 4 {
		status, err := root.Tick()
		require.NoError(t, err)
		statuses = append(statuses, status)
	}
	assert.Equal(t, []bt.Status{bt.Running, bt.Running, bt.Running, bt.Failure}, statuses)
	assert.Equal(t, 1, f.rec.Count(event.LocalReset))
	assert.Nil(t, f.switcher.Active())

	events := f.rec.Events()
	last := events[len(events)-1]
	assert.Equal(t, event.EpisodeEnd, last.Kind)
	assert.Equal(t, event.CauseBudget, last.Cause)
	assert.Equal(t, 4, last.LocalStep)
}

func TestRunPolicyUntil_ACC(t *testing.T) {
	t.Parallel()

	for _, terminal := range []bool{false, true} {
		f := newFixture()
		a := f.agent(t, "PushTargetToButton")
		never, ok := false, false
		leaf, err := NewRunPolicyUntil("PushTargetToButton", a, f.switcher, flag("ButtonPressed", &never),
			WithACCs(flag("PlayerUp", &ok)),
			WithACCTerminal(terminal),
		)
		require.NoError(t, err)
		assert.Equal(t, terminal, leaf.ACCTerminal())

		status, err := leaf.Tick()
		require.NoError(t, err)
		assert.Equal(t, 1, f.rec.Count(event.ACCViolated))
		if terminal {
			assert.Equal(t, bt.Failure, status)
			assert.Nil(t, f.switcher.Active())
		} else {
			assert.Equal(t, bt.Running, status)
			assert.Same(t, a, f.switcher.Active())
		}
	}
}

func TestRunPolicyUntil_AdvisoryACCDoesNotOutliveBudget(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.agent(t, "PushTargetToButton", agent.WithMaxActions(3))
	never, ok := false, false
	leaf, err := NewRunPolicyUntil("PushTargetToButton", a, f.switcher, flag("ButtonPressed", &never),
		WithACCs(flag("PlayerUp", &ok)),
	)
	require.NoError(t, err)
	root := NewSequence("Root", leaf)

	var statuses []bt.Status
	for range 3 {
		status, err := root.Tick()
		require.NoError(t, err)
		statuses = append(statuses, status)
	}
	assert.Equal(t, []bt.Status{bt.Running, bt.Running, bt.Failure}, statuses)
	assert.Equal(t, 3, f.rec.Count(event.ACCViolated))
	assert.Equal(t, 1, f.rec.Count(event.LocalReset))
	assert.Equal(t, 3, a.ActionCount())
	assert.Nil(t, f.switcher.Active())

	events := f.rec.Events()
	last := events[len(events)-1]
	assert.Equal(t, event.EpisodeEnd, last.Kind)
	assert.Equal(t, event.CauseBudget, last.Cause)
}

func TestRunPolicyUntil_ActErrorDeactivates(t *testing.T) {
	t.Parallel()

	f := newFixture()
	policy := agent.PolicyFunc(func([]bool) (int, error) { return 0, errors.New("no policy output") })
	a, err := agent.New("Broken", 4, policy, agent.WithSink(f.rec))
	require.NoError(t, err)
	f.switcher.Add(a)
	never := false
	leaf, err := NewRunPolicyUntil("Broken", a, f.switcher, flag("Done", &never))
	require.NoError(t, err)

	status, err := leaf.Tick()
	assert.Error(t, err)
	assert.Equal(t, bt.Failure, status)
	assert.Nil(t, f.switcher.Active())
	assert.False(t, a.Active())

	events := f.rec.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, event.EpisodeEnd, last.Kind)
	assert.Equal(t, event.CauseError, last.Cause)
}

func TestRunPolicyUntil_HigherPostFails(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.agent(t, "MoveToTrigger")
	never, higher := false, true
	leaf, err := NewRunPolicyUntil("MoveToTrigger", a, f.switcher, flag("IsControllingGoalTrigger", &never),
		WithHigherPosts(flag("GoalPressed", &higher)))
	require.NoError(t, err)

	status, err := leaf.Tick()
	require.NoError(t, err)
	assert.Equal(t, bt.Failure, status)
	assert.Equal(t, 1, f.rec.Count(event.HigherPostConditionReached))
	assert.Zero(t, f.rec.Count(event.PostConditionReached))
	assert.Less(t, a.Reward(), 0.0)
}

func TestRunPolicyUntil_NoAgent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.agent(t, "a")
	post := condition.New("p", condition.Func(func() bool { return true }))

	_, err := NewRunPolicyUntil("leaf", nil, f.switcher, post)
	assert.ErrorIs(t, err, ErrNoAgent)
	_, err = NewRunPolicyUntil("leaf", a, nil, post)
	assert.ErrorIs(t, err, ErrNoAgent)
	_, err = NewRunPolicyUntil("leaf", a, f.switcher, nil)
	assert.Error(t, err)
}

func TestRunPolicyUntil_HandsOffBetweenLeaves(t *testing.T) {
	t.Parallel()

	f := newFixture()
	first := f.agent(t, "first")
	second := f.agent(t, "second")
	firstDone, secondDone := false, false
	l1, err := NewRunPolicyUntil("first", first, f.switcher, flag("firstDone", &firstDone))
	require.NoError(t, err)
	l2, err := NewRunPolicyUntil("second", second, f.switcher, flag("secondDone", &secondDone))
	require.NoError(t, err)
	tr, err := New(NewSequence("root", l1, l2))
	require.NoError(t, err)

	_, err = tr.Tick()
	require.NoError(t, err)
	firstDone = true
	_, err = tr.Tick()
	require.NoError(t, err)
	assert.Same(t, second, f.switcher.Active(), "success hands control to the next leaf within the same tick")
	assert.Equal(t, 2, f.acts["first"])
	assert.Equal(t, 1, f.acts["second"])

	secondDone = true
	status, err := tr.Tick()
	require.NoError(t, err)
	assert.Equal(t, bt.Success, status)
	assert.Nil(t, f.switcher.Active())
}

func TestRunPolicyUntil_SharedAgent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	shared := f.agent(t, "MovePlayerUp")
	never := false
	l1, err := NewRunPolicyUntil("PushTargetUp", shared, f.switcher, flag("PlayerUp", &never))
	require.NoError(t, err)
	l2, err := NewRunPolicyUntil("MovePlayerUp", shared, f.switcher, flag("PlayerUp", &never))
	require.NoError(t, err)

	_, err = l1.Tick()
	require.NoError(t, err)
	_, err = l2.Tick()
	require.NoError(t, err)

	assert.Equal(t, 2, shared.Episode())
	assert.Equal(t, 1, shared.ActionCount())
	assert.Same(t, &l2.task, shared.Task())
	assert.Equal(t, []event.Kind{event.EpisodeStart, event.EpisodeEnd, event.EpisodeStart}, f.rec.Kinds())
	assert.Equal(t, event.CausePreempted, f.rec.Events()[1].Cause)
}

func TestDerivedHigherPosts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	var goal, button, controlling, up bool
	goalPressed := flag("GoalPressed", &goal)
	buttonPressed := flag("ButtonPressed", &button)
	isControlling := flag("IsControllingTarget", &controlling)
	playerUp := flag("PlayerUp", &up)

	moveToTarget, err := NewRunPolicyUntil("MoveToTarget", f.agent(t, "MoveToTarget"), f.switcher, isControlling)
	require.NoError(t, err)
	pushToButton, err := NewRunPolicyUntil("PushTargetToButton", f.agent(t, "PushTargetToButton"), f.switcher, buttonPressed,
		WithACCs(playerUp), WithHigherPosts(goalPressed))
	require.NoError(t, err)

	_, err = New(NewSelector("PushTriggerToGoalSelector",
		NewGuard("TriggerAtGoal", goalPressed),
		NewSequence("PushTriggerToGoalSequence",
			NewSelector("PushTargetToButtonSelector",
				NewGuard("TargetAtButton", buttonPressed),
				NewSequence("PushTargetToButtonSequence",
					NewSelector("MoveSelector", NewGuard("CloseToTarget", isControlling), moveToTarget),
					pushToButton,
				),
			),
		),
	), WithDerivedHigherPosts())
	require.NoError(t, err)

	assert.Equal(t, []string{"GoalPressed", "ButtonPressed"}, condition.Names(moveToTarget.HigherPosts()))
	assert.Equal(t, []string{"GoalPressed"}, condition.Names(pushToButton.HigherPosts()))
}

func TestTree_Leaves(t *testing.T) {
	t.Parallel()

	f := newFixture()
	never := false
	l1, err := NewRunPolicyUntil("one", f.agent(t, "one"), f.switcher, flag("x", &never))
	require.NoError(t, err)
	l2, err := NewRunPolicyUntil("two", f.agent(t, "two"), f.switcher, flag("y", &never))
	require.NoError(t, err)
	tr, err := New(NewSelector("root", l1, NewSequence("seq", l2)))
	require.NoError(t, err)
	assert.Equal(t, []*RunPolicyUntil{l1, l2}, tr.Leaves())
}
