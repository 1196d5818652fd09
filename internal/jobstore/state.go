package jobstore

// State models the job-store connection lifecycle. Transitions:
// Disconnected -> Connecting -> Ready <-> Degraded. Scheduling calls fail
// fast unless the store has reached Ready at least once.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

func (q *Queue) setState(next State) {
	q.mu.Lock()
	prev := q.state
	if prev == next {
		q.mu.Unlock()
		return
	}
	q.state = next
	cb := q.OnStateChange
	q.mu.Unlock()

	if cb != nil {
		cb(prev, next)
	}
}

// State returns the current connection state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Queue) available() bool {
	st := q.State()
	return st == StateReady || st == StateDegraded
}
