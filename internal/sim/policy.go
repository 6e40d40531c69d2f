package sim

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/joeycumines/safeswitch/internal/agent"
	"github.com/joeycumines/safeswitch/internal/dynamics"
)

var errNoAllowedAction = errors.New("sim: no allowed action")

// Random picks uniformly among the allowed actions.
type Random struct {
	rng *rand.Rand
}

var _ agent.Policy = (*Random)(nil)

// NewRandom returns a Random policy with a deterministic seed.
func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Decide implements agent.Policy.
func (p *Random) Decide(mask []bool) (int, error) {
	allowed := 0
	for _, ok := range mask {
		if ok {
			allowed++
		}
	}
	if allowed == 0 {
		return 0, errNoAllowedAction
	}
	n := p.rng.IntN(allowed)
	for i, ok := range mask {
		if !ok {
			continue
		}
		if n == 0 {
			return i, nil
		}
		n--
	}
	return 0, errNoAllowedAction
}

// Seek steers a body toward a target with a proportional-derivative law,
// choosing the allowed action whose acceleration is closest to the desired
// one.
type Seek struct {
	actuator *Actuator
	target   func() dynamics.Vec3
	gain     float64
	damping  float64
}

var _ agent.Policy = (*Seek)(nil)

// NewSeek returns a Seek policy. target is sampled on every decision.
func NewSeek(actuator *Actuator, target func() dynamics.Vec3) *Seek {
	return &Seek{actuator: actuator, target: target, gain: 1, damping: 1.5}
}

// Decide implements agent.Policy.
func (p *Seek) Decide(mask []bool) (int, error) {
	s := p.actuator.body.state
	want := p.target().Sub(s.Position).Scale(p.gain).Sub(s.Velocity.Scale(p.damping))
	want.Y = 0
	best, bestDist := -1, math.Inf(1)
	for i, ok := range mask {
		if !ok {
			continue
		}
		if d := p.actuator.Acceleration(i).Sub(want).Norm(); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, errNoAllowedAction
	}
	return best, nil
}
