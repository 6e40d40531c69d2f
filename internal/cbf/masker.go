package cbf

import (
	"errors"
	"fmt"
)

// ErrAllActionsMasked is returned when every action in the set is unsafe.
var ErrAllActionsMasked = errors.New("cbf: all actions masked")

// SafetyChecker decides whether a single discrete action is safe.
// *Applicator implements it.
type SafetyChecker interface {
	IsActionSafe(action int) bool
}

var _ SafetyChecker = (*Applicator)(nil)

// Masker combines safety checkers into a discrete action mask. The zero
// value has no checkers and permits every action.
type Masker struct {
	checkers []SafetyChecker
	disabled bool
}

// NewMasker constructs an enabled Masker over the given checkers.
func NewMasker(checkers ...SafetyChecker) *Masker {
	return &Masker{checkers: append([]SafetyChecker(nil), checkers...)}
}

// SetEnabled toggles masking. A disabled masker permits every action.
func (m *Masker) SetEnabled(enabled bool) { m.disabled = !enabled }

// Enabled reports whether masking is active.
func (m *Masker) Enabled() bool { return !m.disabled }

// Len returns the number of configured checkers.
func (m *Masker) Len() int { return len(m.checkers) }

func (m *Masker) passthrough() bool {
	return m == nil || m.disabled || len(m.checkers) == 0
}

// IsActionSafe reports whether every checker considers action safe.
func (m *Masker) IsActionSafe(action int) bool {
	if m.passthrough() {
		return true
	}
	for _, c := range m.checkers {
		if !c.IsActionSafe(action) {
			return false
		}
	}
	return true
}

// WriteActionMask fills mask, where mask[i] reports whether action i is
// allowed. It fails with ErrAllActionsMasked if no action remains allowed.
func (m *Masker) WriteActionMask(mask []bool) error {
	if len(mask) == 0 {
		return errors.New("cbf: action mask must have at least one entry")
	}
	if m.passthrough() {
		for i := range mask {
			mask[i] = true
		}
		return nil
	}
	allowed := 0
	for i := range mask {
		mask[i] = m.IsActionSafe(i)
		if mask[i] {
			allowed++
		}
	}
	if allowed == 0 {
		return fmt.Errorf("%w: %d of %d actions unsafe under %d applicator(s)", ErrAllActionsMasked, len(mask), len(mask), len(m.checkers))
	}
	return nil
}

// Mask allocates and returns the mask for numActions actions.
func (m *Masker) Mask(numActions int) ([]bool, error) {
	if numActions <= 0 {
		return nil, fmt.Errorf("cbf: invalid action count %d", numActions)
	}
	mask := make([]bool, numActions)
	if err := m.WriteActionMask(mask); err != nil {
		return nil, err
	}
	return mask, nil
}
