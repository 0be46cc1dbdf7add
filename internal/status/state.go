package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/clinivo/messaging/internal/bus"
)

// State represents the transport connection state for one session.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	// Fallback is the degraded mode entered after the reconnect attempt
	// cap is exhausted. Message flow continues via polling. A session
	// never upgrades out of Fallback; callers must reconnect explicitly
	// in a new session.
	Fallback State = "FALLBACK"
)

// validTransitions defines allowed state transitions. Fallback is terminal
// except for an explicit disconnect tearing the session down.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Fallback, Disconnected},
	Connected:    {Connecting, Disconnected},
	Fallback:     {Disconnected},
}

// Machine tracks and enforces transport state transitions. It is owned
// exclusively by the transport client; everything else only observes it.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
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

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: Change{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
