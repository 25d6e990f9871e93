package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/suhas-24/couple-chat-app-sub002/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions.
//
// FAILED is terminal for automatic retries: only an explicit reconnect
// (FAILED -> CONNECTING) or teardown (FAILED -> DISCONNECTED) leaves it.
// RECONNECTING self-loops because each failed attempt re-enters it.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Failed},
	Connecting:   {Connected, Reconnecting, Failed, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Reconnecting, Failed, Disconnected},
	Failed:       {Connecting, Disconnected},
}

// Snapshot is the connection state as exposed to observers. Connected and
// Reconnecting are derived from the tagged state, so the contradictory
// combination connected && reconnecting cannot be produced.
type Snapshot struct {
	Connected    bool   `json:"connected"`
	Reconnecting bool   `json:"reconnecting"`
	Err          string `json:"error,omitempty"`
}

// Change is the payload of conn.state_changed bus events.
type Change struct {
	From State
	To   State
	Err  string
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	err     string
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
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

// Snapshot returns the observer-facing view of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshotOf(m.current, m.err)
}

// Transition attempts to move to a new state. Returns an error and leaves the
// state unchanged if the transition is not allowed.
func (m *Machine) Transition(to State) error {
	return m.transition(to, "")
}

// Fail transitions to Failed carrying a terminal error message.
func (m *Machine) Fail(errMsg string) error {
	return m.transition(Failed, errMsg)
}

func (m *Machine) transition(to State, errMsg string) error {
	m.mu.Lock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	// Entering a healthy state clears any previous error.
	if to != Failed {
		errMsg = ""
	}
	m.err = errMsg
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit("conn.state_changed", Change{From: from, To: to, Err: errMsg})
	}
	return nil
}

func snapshotOf(s State, errMsg string) Snapshot {
	return Snapshot{
		Connected:    s == Connected,
		Reconnecting: s == Connecting || s == Reconnecting,
		Err:          errMsg,
	}
}
