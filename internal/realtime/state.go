package realtime

import "time"

// State is the lifecycle of the realtime channel. Exactly one is active per
// session; only the manager's run goroutine transitions it.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// Status carries the state plus the retry bookkeeping while Reconnecting.
type Status struct {
	State   State
	Attempt int
	Delay   time.Duration
}
