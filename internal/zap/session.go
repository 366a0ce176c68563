package zap

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/aggregates"
)

// Session tracks one zap through the settlement state machine
type Session struct {
	ID         string
	Recipient  string
	Target     aggregates.Target
	AmountSats int64

	mu      sync.Mutex
	state   State
	request *nostr.Event
	invoice string
	relays  []string
	channel ChannelKind
	receipt *nostr.Event
	err     *SettlementError
	history []Transition

	done   chan struct{}
	cancel context.CancelFunc
	notify func(*Session, Transition)
}

func newSession(id string, p Params, notify func(*Session, Transition)) *Session {
	return &Session{
		ID:         id,
		Recipient:  p.Recipient,
		Target:     p.Target,
		AmountSats: p.AmountSats,
		state:      StateIdle,
		channel:    Manual,
		done:       make(chan struct{}),
		notify:     notify,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Invoice is the pending bolt11 invoice; it is cleared when confirmation times out
func (s *Session) Invoice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoice
}

// Request is the signed zap request, once built
func (s *Session) Request() *nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

// Channel is the channel that settled the zap, or Manual
func (s *Session) Channel() ChannelKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Receipt is the matching receipt observed during manual settlement
func (s *Session) Receipt() *nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipt
}

// Err is the failure outcome, nil unless the session failed
func (s *Session) Err() *SettlementError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// History returns every transition so far
func (s *Session) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

// Done is closed when the session reaches a terminal state
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is terminal or ctx ends
func (s *Session) Wait(ctx context.Context) (State, *SettlementError) {
	select {
	case <-s.done:
		return s.State(), s.Err()
	case <-ctx.Done():
		return s.State(), nil
	}
}

// Cancel abandons the zap; a pending confirmation poll stops immediately
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.fail(newError(CodeAbandoned, nil), "cancelled")
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// transition moves to state to. Invalid or post-terminal transitions are ignored
// and reported as false.
func (s *Session) transition(to State, reason string, mutate func(*Session)) bool {
	s.mu.Lock()
	from := s.state
	if from.Terminal() || !canTransition(from, to) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	if mutate != nil {
		mutate(s)
	}
	tr := Transition{From: from, To: to, Reason: reason, At: time.Now()}
	s.history = append(s.history, tr)
	if to.Terminal() {
		close(s.done)
	}
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(s, tr)
	}
	return true
}

func (s *Session) fail(err *SettlementError, reason string) bool {
	if reason == "" {
		reason = string(err.Code)
	}
	return s.transition(StateFailed, reason, func(s *Session) {
		s.err = err
		if err.Code == CodeConfirmationTimeout {
			s.invoice = ""
		}
	})
}
