// Package devrelay runs an in-memory relay for local development and tests.
package devrelay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/ops"
)

// Relay wraps a khatru relay backed by an in-memory event store
type Relay struct {
	relay  *khatru.Relay
	store  *slicestore.SliceStore
	logger *ops.Logger
}

// New creates a relay with an empty store
func New(name string, logger *ops.Logger) (*Relay, error) {
	if logger == nil {
		logger = ops.Default()
	}

	store := &slicestore.SliceStore{}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	rl := khatru.NewRelay()
	rl.Info.Name = name
	rl.Info.Description = "zapline development relay"
	rl.Info.Software = "https://github.com/sandwichfarm/zapline"

	rl.StoreEvent = append(rl.StoreEvent, store.SaveEvent)
	rl.QueryEvents = append(rl.QueryEvents, store.QueryEvents)
	rl.DeleteEvent = append(rl.DeleteEvent, store.DeleteEvent)
	rl.ReplaceEvent = append(rl.ReplaceEvent, store.ReplaceEvent)

	r := &Relay{
		relay:  rl,
		store:  store,
		logger: logger.WithComponent("devrelay"),
	}
	rl.OnEventSaved = append(rl.OnEventSaved, func(ctx context.Context, event *nostr.Event) {
		r.logger.Debug("event stored", "id", event.ID, "kind", event.Kind)
	})
	return r, nil
}

// Khatru returns the underlying Khatru relay instance
func (r *Relay) Khatru() *khatru.Relay {
	return r.relay
}

// ServeHTTP serves websocket and NIP-11 requests
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.relay.ServeHTTP(w, req)
}

// StoreEvent stores an event directly, bypassing websocket clients
func (r *Relay) StoreEvent(ctx context.Context, event *nostr.Event) error {
	for _, handler := range r.relay.StoreEvent {
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
	}
	return nil
}

// QueryEvents queries the store using a Nostr filter
func (r *Relay) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := r.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}
	return events, nil
}

// EventExists checks if an event is stored
func (r *Relay) EventExists(ctx context.Context, eventID string) (bool, error) {
	events, err := r.QueryEvents(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// DeleteEvent removes an event by id; missing events are not an error
func (r *Relay) DeleteEvent(ctx context.Context, eventID string) error {
	events, err := r.QueryEvents(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to query event before delete: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	for _, handler := range r.relay.DeleteEvent {
		if err := handler(ctx, events[0]); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
	}
	return nil
}

// ListenAndServe serves the relay on addr until ctx is cancelled
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("dev relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down relay: %w", err)
		}
		r.logger.LogShutdown(ctx.Err().Error())
		return nil
	}
}

// Close releases the store
func (r *Relay) Close() {
	r.store.Close()
}
