package simulator

import (
	"errors"
	"fmt"
)

// State is the lifecycle stage of a simulator process
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateTerminated State = "terminated"
)

// ErrIllegalTransition is returned when an entry is moved out of order
var ErrIllegalTransition = errors.New("illegal simulator state transition")

// transitions lists the states reachable from each state
var transitions = map[State][]State{
	StateStarting: {StateRunning, StateTerminated},
	StateRunning:  {StateStopping, StateTerminated},
	StateStopping: {StateTerminated},
}

func (s State) canMoveTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !from.canMoveTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
