// Package alert tracks the operator-facing alert state for a monitoring
// session.
//
// The machine is intentionally tiny: it is a function of the last two
// severity classifications plus the dismiss flag, never of the full history.
// Its one non-obvious rule is the re-arm invariant: an operator's dismissal
// applies to the current escalation episode only, so a fresh rising edge
// into WARNING/DANGER always clears the dismissal, while sustained
// congestion never flaps a dismissed alert back on.
package alert

import (
	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// State is the externally visible alert state.
type State struct {
	Current   traffic.Status `json:"current"`
	Previous  traffic.Status `json:"previous"`
	Dismissed bool           `json:"dismissed"`
}

// Elevated reports whether the current tier calls for attention.
func (s State) Elevated() bool {
	return s.Current.Congested()
}

// Active reports whether the alert banner should be showing: elevated and
// not dismissed by the operator.
func (s State) Active() bool {
	return s.Elevated() && !s.Dismissed
}

// Machine owns the alert state for one session. Not safe for concurrent
// use; the session serializes access.
type Machine struct {
	current   traffic.Status
	previous  traffic.Status
	dismissed bool
}

// NewMachine returns a machine in the initial state: NORMAL, not dismissed.
func NewMachine() *Machine {
	return &Machine{
		current:  traffic.StatusNormal,
		previous: traffic.StatusNormal,
	}
}

// Observe evaluates one newly accepted snapshot status. It must be called
// exactly once per accepted snapshot, after the history append. Returns true
// when the observation re-armed a dismissed alert (a rising edge into
// congestion).
func (m *Machine) Observe(status traffic.Status) bool {
	rearmed := false
	if status.Congested() && !m.current.Congested() {
		rearmed = m.dismissed
		m.dismissed = false
	}

	m.previous = m.current
	m.current = status
	return rearmed
}

// Dismiss records an explicit operator dismissal (Apply, Reject, or manual
// override all land here).
func (m *Machine) Dismiss() {
	m.dismissed = true
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	return State{
		Current:   m.current,
		Previous:  m.previous,
		Dismissed: m.dismissed,
	}
}
