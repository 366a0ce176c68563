// Package nostrtest provides an in-memory relay endpoint and throwaway identities for tests.
package nostrtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// ErrRejected is returned by Publish when the endpoint refuses an event
var ErrRejected = errors.New("nostrtest: event rejected")

// Endpoint is an in-memory relay. Exported knobs must be set before use.
type Endpoint struct {
	url string

	// Delay is applied before answering a query; a deadline shorter than Delay times out
	Delay time.Duration
	// QueryErr makes every query fail
	QueryErr error
	// PublishFailures is how many publishes are rejected before accepting
	PublishFailures int
	// RejectAll makes every publish fail
	RejectAll bool
	// HonorDeletions removes events targeted by their author's kind 5 requests
	HonorDeletions bool

	mu        sync.Mutex
	events    map[string]*nostr.Event
	queries   int
	publishes int
}

// NewEndpoint creates an empty endpoint answering as url
func NewEndpoint(url string) *Endpoint {
	return &Endpoint{url: url, events: make(map[string]*nostr.Event)}
}

func (e *Endpoint) URL() string { return e.url }

// Add stores events directly, bypassing publish knobs
func (e *Endpoint) Add(events ...*nostr.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range events {
		e.events[ev.ID] = ev
	}
}

// Has reports whether an event with id is stored
func (e *Endpoint) Has(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.events[id]
	return ok
}

// Events returns all stored events, newest first
func (e *Endpoint) Events() []*nostr.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*nostr.Event, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev)
	}
	sortNewest(out)
	return out
}

// EventsOfKind returns stored events of kind, newest first
func (e *Endpoint) EventsOfKind(kind int) []*nostr.Event {
	var out []*nostr.Event
	for _, ev := range e.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// QueryCount is the number of queries served or attempted
func (e *Endpoint) QueryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queries
}

// PublishCount is the number of publish attempts received
func (e *Endpoint) PublishCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publishes
}

func (e *Endpoint) Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	e.mu.Lock()
	e.queries++
	e.mu.Unlock()

	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.QueryErr != nil {
		return nil, e.QueryErr
	}

	all := e.Events()
	seen := make(map[string]bool)
	var result []*nostr.Event
	for _, f := range filters {
		matched := 0
		for _, ev := range all {
			if !f.Matches(ev) {
				continue
			}
			if f.Limit > 0 && matched >= f.Limit {
				break
			}
			matched++
			if !seen[ev.ID] {
				seen[ev.ID] = true
				result = append(result, ev)
			}
		}
	}
	return result, nil
}

func (e *Endpoint) Publish(ctx context.Context, event nostr.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishes++

	if e.RejectAll {
		return ErrRejected
	}
	if e.PublishFailures > 0 {
		e.PublishFailures--
		return ErrRejected
	}

	ev := event
	e.events[ev.ID] = &ev

	if ev.Kind == 5 && e.HonorDeletions {
		for _, tag := range ev.Tags {
			if len(tag) < 2 || tag[0] != "e" {
				continue
			}
			if target, ok := e.events[tag[1]]; ok && target.PubKey == ev.PubKey {
				delete(e.events, tag[1])
			}
		}
	}
	return nil
}

func sortNewest(events []*nostr.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

// Identity is a throwaway keypair
type Identity struct {
	SecretKey string
	PublicKey string
}

// NewIdentity generates a fresh keypair
func NewIdentity() Identity {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	return Identity{SecretKey: sk, PublicKey: pk}
}

// Event builds and signs an event authored by id
func (id Identity) Event(t testing.TB, kind int, content string, tags nostr.Tags, createdAt nostr.Timestamp) *nostr.Event {
	t.Helper()
	if tags == nil {
		tags = nostr.Tags{}
	}
	ev := &nostr.Event{
		Kind:      kind,
		Content:   content,
		Tags:      tags,
		CreatedAt: createdAt,
		PubKey:    id.PublicKey,
	}
	if err := ev.Sign(id.SecretKey); err != nil {
		t.Fatalf("failed to sign test event: %v", err)
	}
	return ev
}

// Signer returns a signer holding id's key
func (id Identity) Signer() *Signer {
	return &Signer{identity: id}
}

// Signer satisfies the engine's signer interface for tests
type Signer struct {
	identity Identity
	// Decline makes SignEvent fail
	Decline bool
}

func (s *Signer) GetPublicKey(context.Context) (string, error) {
	return s.identity.PublicKey, nil
}

func (s *Signer) SignEvent(_ context.Context, ev *nostr.Event) error {
	if s.Decline {
		return errors.New("nostrtest: user declined")
	}
	ev.PubKey = s.identity.PublicKey
	return ev.Sign(s.identity.SecretKey)
}
