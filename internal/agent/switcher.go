package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joeycumines/safeswitch/internal/event"
)

// ErrUnknownAgent is returned when activating an agent outside the roster.
var ErrUnknownAgent = errors.New("agent: unknown agent")

// Switcher owns the single "currently active agent" slot.
type Switcher struct {
	mu     sync.Mutex
	roster []*Agent
	active *Agent
	logger *slog.Logger
}

// NewSwitcher returns a Switcher over the given roster.
func NewSwitcher(agents ...*Agent) *Switcher {
	s := &Switcher{logger: slog.Default()}
	s.Add(agents...)
	return s
}

// SetLogger replaces the logger.
func (s *Switcher) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// Add appends agents to the roster, ignoring duplicates.
func (s *Switcher) Add(agents ...*Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range agents {
		if a != nil && !s.contains(a) {
			s.roster = append(s.roster, a)
		}
	}
}

func (s *Switcher) contains(a *Agent) bool {
	for _, r := range s.roster {
		if r == a {
			return true
		}
	}
	return false
}

// Agents returns a copy of the roster.
func (s *Switcher) Agents() []*Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Agent(nil), s.roster...)
}

// Active returns the active agent, or nil.
func (s *Switcher) Active() *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activate hands control to a, deactivating the current agent first. It is
// a no-op if a is already active.
//
// Lifecycle events are emitted after the slot is updated and the lock is
// released, so sinks may call back into the Switcher.
func (s *Switcher) Activate(a *Agent) error {
	s.mu.Lock()
	if a == nil || !s.contains(a) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnknownAgent, a)
	}
	if s.active == a {
		s.mu.Unlock()
		return nil
	}
	prev := s.active
	s.active = a
	logger := s.logger
	s.mu.Unlock()

	if prev != nil {
		logger.Debug("[switcher] preempting agent", "from", prev.name, "to", a.name)
		prev.end(event.CausePreempted)
	}
	a.begin()
	return nil
}

// Deactivate ends a's turn with cause, if a is active. It reports whether a
// was active.
func (s *Switcher) Deactivate(a *Agent, cause event.Cause) bool {
	s.mu.Lock()
	if a == nil || s.active != a {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.mu.Unlock()

	a.end(cause)
	return true
}

// Reset deactivates the current agent and clears the slot.
func (s *Switcher) Reset() {
	s.mu.Lock()
	prev := s.active
	s.active = nil
	s.mu.Unlock()

	if prev != nil {
		prev.end(event.CauseReset)
	}
}
