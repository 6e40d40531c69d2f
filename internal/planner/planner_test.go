package planner

import (
	"testing"

	bt "github.com/joeycumines/go-behaviortree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/tree"
)

type world struct {
	controlling, buttonPressed bool
}

func newAgent(t *testing.T, s *agent.Switcher, name string, onAct func()) *agent.Agent {
	t.Helper()
	a, err := agent.New(name, 4,
		agent.PolicyFunc(func([]bool) (int, error) { return 0, nil }),
		agent.WithActuator(agent.ActuatorFunc(func(int) { onAct() })),
	)
	require.NoError(t, err)
	s.Add(a)
	return a
}

func TestPlanner_StateContract(t *testing.T) {
	t.Parallel()

	w := &world{}
	s := agent.NewSwitcher()
	controlling := condition.New("IsControllingTarget", condition.Func(func() bool { return w.controlling }))
	pressed := condition.New("ButtonPressed", condition.Func(func() bool { return w.buttonPressed }))

	p, err := New(s, []*condition.Condition{pressed}, []Skill{
		{Name: "MoveToTarget", Agent: newAgent(t, s, "MoveToTarget", func() {}), Post: controlling},
		{Name: "PushTargetToButton", Agent: newAgent(t, s, "PushTargetToButton", func() {}), Post: pressed, Pre: []*condition.Condition{controlling}},
	})
	require.NoError(t, err)

	v, err := p.Variable("ButtonPressed")
	require.NoError(t, err)
	assert.Equal(t, false, v)
	w.buttonPressed = true
	v, err = p.Variable("ButtonPressed")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = p.Variable("Nope")
	assert.Error(t, err)
	_, err = p.Variable(42)
	assert.Error(t, err)

	actions, err := p.Actions(cond{name: "ButtonPressed"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "PushTargetToButton", actions[0].(*action).name)
	require.Len(t, actions[0].Conditions(), 1)
	assert.Len(t, actions[0].Conditions()[0], 1)

	actions, err = p.Actions(cond{name: "Unreachable"})
	require.NoError(t, err)
	assert.Empty(t, actions)

	leaves := p.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, []string{"IsControllingTarget"}, condition.Names(leaves[1].ACCs()))
	assert.Len(t, p.Nodes(), 2)
}

func TestPlanner_Validation(t *testing.T) {
	t.Parallel()

	s := agent.NewSwitcher()
	c := condition.New("c", condition.Func(func() bool { return false }))
	dup := condition.New("c", condition.Func(func() bool { return true }))

	_, err := New(s, nil, nil)
	assert.Error(t, err)

	_, err = New(s, []*condition.Condition{c}, []Skill{{Name: "x", Agent: newAgent(t, s, "x", func() {}), Post: dup}})
	assert.Error(t, err)

	_, err = New(s, []*condition.Condition{c}, []Skill{{Name: "x", Post: c}})
	assert.ErrorIs(t, err, tree.ErrNoAgent)
}

func TestPlanner_ExecutesSkillsTowardGoal(t *testing.T) {
	t.Parallel()

	w := &world{}
	s := agent.NewSwitcher()
	var moveActs, pushActs int
	controlling := condition.New("IsControllingTarget", condition.Func(func() bool { return w.controlling }))
	pressed := condition.New("ButtonPressed", condition.Func(func() bool { return w.buttonPressed }))
	move := newAgent(t, s, "MoveToTarget", func() {
		moveActs++
		if moveActs >= 3 {
			w.controlling = true
		}
	})
	push := newAgent(t, s, "PushTargetToButton", func() {
		pushActs++
		if pushActs >= 2 {
			w.buttonPressed = true
		}
	})

	p, err := New(s, []*condition.Condition{pressed}, []Skill{
		{Name: "MoveToTarget", Agent: move, Post: controlling},
		{Name: "PushTargetToButton", Agent: push, Post: pressed, Pre: []*condition.Condition{controlling}},
	})
	require.NoError(t, err)
	tr, err := tree.New(p.Subtree("Plan"))
	require.NoError(t, err)

	var status bt.Status
	for range 50 {
		status, err = tr.Tick()
		require.NoError(t, err)
		if status == bt.Success {
			break
		}
	}
	assert.Equal(t, bt.Success, status)
	assert.True(t, w.buttonPressed)
	assert.GreaterOrEqual(t, moveActs, 3)
	assert.GreaterOrEqual(t, pushActs, 2)
	assert.Nil(t, s.Active())
}
