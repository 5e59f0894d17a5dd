package dispatch

import "strconv"

// State is the lifecycle position of a Consumer. Only the Consumer changes it.
type State int32

const (
	Created State = iota
	Subscribing
	Polling
	Dispatching
	Backoff
	Stopped
)

var stateNames = map[State]string{
	Created:     "created",
	Subscribing: "subscribing",
	Polling:     "polling",
	Dispatching: "dispatching",
	Backoff:     "backoff",
	Stopped:     "stopped",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func (c *Consumer) State() State { return State(c.state.Load()) }

// setState moves the Consumer to s. Stopped is terminal: once there, every
// other transition is ignored.
func (c *Consumer) setState(s State) {
	var prior State
	for {
		prior = State(c.state.Load())
		if prior == Stopped && s != Stopped {
			return
		}
		if c.state.CompareAndSwap(int32(prior), int32(s)) {
			break
		}
	}
	LoopState.WithLabelValues(c.name).Set(float64(s))
	if debugState && prior != s {
		c.logf("[dispatch] Debug: consumer %s state %s -> %s", c.name, prior, s)
	}
}
