package session

import (
	"errors"
	"fmt"

	"github.com/square-key-labs/strawgo-screener/src/conversation"
	"github.com/square-key-labs/strawgo-screener/src/storage"
)

// ErrInvalidTransition is returned when a state change is not in the
// transition table.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// State is the lifecycle of one call.
type State int

const (
	StateIdle State = iota
	StateGreeting
	StateListening
	StateAccumulating
	StateProcessing
	StateReplying
	StateForwarded
	StateEnded
	StateBooked
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateAccumulating:
		return "accumulating"
	case StateProcessing:
		return "processing"
	case StateReplying:
		return "replying"
	case StateForwarded:
		return "forwarded"
	case StateEnded:
		return "ended"
	case StateBooked:
		return "booked"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the call has been routed.
func (s State) Terminal() bool {
	return s == StateForwarded || s == StateEnded || s == StateBooked
}

// Closed is reachable from every state, so it is not listed.
var transitions = map[State][]State{
	StateIdle:         {StateGreeting},
	StateGreeting:     {StateListening},
	StateListening:    {StateAccumulating, StateProcessing},
	StateAccumulating: {StateListening, StateProcessing},
	StateProcessing:   {StateReplying, StateListening},
	StateReplying:     {StateListening, StateForwarded, StateEnded, StateBooked},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed || from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func terminalState(a conversation.Action) State {
	switch a {
	case conversation.ActionForward:
		return StateForwarded
	case conversation.ActionBook:
		return StateBooked
	default:
		return StateEnded
	}
}

func outcomeOf(s State) storage.Outcome {
	switch s {
	case StateForwarded:
		return storage.OutcomeForwarded
	case StateEnded:
		return storage.OutcomeEnded
	case StateBooked:
		return storage.OutcomeBooked
	default:
		return storage.OutcomeHangup
	}
}
