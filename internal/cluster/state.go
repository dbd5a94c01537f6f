package cluster

// State is the lifecycle state of an orchestrated cluster session.
type State string

const (
	StateUnstarted    State = "UNSTARTED"
	StateProvisioning State = "PROVISIONING"
	StateRunning      State = "RUNNING"
	StateTerminating  State = "TERMINATING"
	StateTerminated   State = "TERMINATED"
	StateFailed       State = "FAILED"
)

// HasHandle reports whether a session in this state can own a cluster handle.
func (s State) HasHandle() bool {
	switch s {
	case StateRunning, StateTerminating, StateTerminated:
		return true
	}
	return false
}

// IsFinal reports whether no further lifecycle operation changes the state.
func (s State) IsFinal() bool {
	return s == StateTerminated || s == StateFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateUnstarted:
		return next == StateProvisioning || next == StateRunning
	case StateProvisioning:
		return next == StateRunning || next == StateFailed
	case StateRunning:
		return next == StateTerminating
	case StateTerminating:
		return next == StateTerminated || next == StateRunning
	}
	return false
}

// ParseState converts a persisted state name back into a State.
func ParseState(s string) (State, bool) {
	switch st := State(s); st {
	case StateUnstarted, StateProvisioning, StateRunning, StateTerminating, StateTerminated, StateFailed:
		return st, true
	}
	return StateUnstarted, false
}
