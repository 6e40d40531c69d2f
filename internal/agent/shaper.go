package agent

// Shaper contributes an extra reward term on every action.
type Shaper interface {
	Reward() float64
}

// Distance rewards progress toward a target, normalized by the distance at
// the start of the episode. Moving away is penalized symmetrically.
type Distance struct {
	distance func() float64
	start    float64
	last     float64
}

// NewDistance samples the starting distance immediately.
func NewDistance(distance func() float64) *Distance {
	d := distance()
	return &Distance{distance: distance, start: d, last: d}
}

// Reward implements Shaper.
func (s *Distance) Reward() float64 {
	d := s.distance()
	defer func() { s.last = d }()
	if s.start <= 0 {
		return 0
	}
	return (s.last - d) / s.start
}

// OnlyImproving rewards only new best distances.
type OnlyImproving struct {
	distance func() float64
	start    float64
	best     float64
}

// NewOnlyImproving samples the starting distance immediately.
func NewOnlyImproving(distance func() float64) *OnlyImproving {
	d := distance()
	return &OnlyImproving{distance: distance, start: d, best: d}
}

// Reward implements Shaper.
func (s *OnlyImproving) Reward() float64 {
	d := s.distance()
	if d >= s.best || s.start <= 0 {
		return 0
	}
	r := (s.best - d) / s.start
	s.best = d
	return r
}
