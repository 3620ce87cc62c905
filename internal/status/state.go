// Package status tracks the engine's view of transport connectivity. The
// transport owns the connection; this machine only reflects what the event
// stream implies, for display and diagnostics.
package status

import (
	"fmt"
	"slices"
	"sync"

	"chatview/internal/bus"
)

// State is an observed connectivity state.
type State string

const (
	// Booting: the engine started but no event has been seen yet.
	Booting State = "BOOTING"
	// Ready: serving normally.
	Ready State = "READY"
	// Resyncing: a reconnect was signalled and gap fills are running.
	Resyncing State = "RESYNCING"
	// Degraded: recent gap fills or refreshes kept failing.
	Degraded State = "DEGRADED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:   {Ready, Resyncing, Degraded},
	Ready:     {Resyncing, Degraded},
	Resyncing: {Ready, Degraded},
	Degraded:  {Ready, Resyncing},
}

// StatusChange is the bus payload for a transition.
type StatusChange struct {
	From State
	To   State
}

// Machine tracks and enforces connectivity state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.KindConnStatus, StatusChange{From: from, To: to})
	}
	return nil
}
