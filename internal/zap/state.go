package zap

import "time"

// State is a step of the settlement state machine
type State string

const (
	StateIdle                  State = "idle"
	StateRequestingInvoice     State = "requesting-invoice"
	StateChannelAttempt        State = "channel-attempt"
	StateAwaitingManualPayment State = "awaiting-manual-payment"
	StateSettled               State = "settled"
	StateFailed                State = "failed"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:                  {StateRequestingInvoice, StateFailed},
	StateRequestingInvoice:     {StateChannelAttempt, StateAwaitingManualPayment, StateFailed},
	StateChannelAttempt:        {StateChannelAttempt, StateAwaitingManualPayment, StateSettled, StateFailed},
	StateAwaitingManualPayment: {StateSettled, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one state change
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}
