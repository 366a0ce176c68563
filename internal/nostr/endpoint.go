package nostr

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Endpoint is one remote relay the gateway can query and publish to
type Endpoint interface {
	URL() string
	// Query returns stored events matching any of filters
	Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error)
	// Publish returns nil only when the relay accepted the event
	Publish(ctx context.Context, event nostr.Event) error
}

// RelayEndpoint is an Endpoint backed by a pooled websocket connection
type RelayEndpoint struct {
	url  string
	pool *nostr.SimplePool
}

// NewRelayEndpoint creates an endpoint for url sharing connections through pool
func NewRelayEndpoint(pool *nostr.SimplePool, url string) *RelayEndpoint {
	return &RelayEndpoint{url: nostr.NormalizeURL(url), pool: pool}
}

func (e *RelayEndpoint) URL() string {
	return e.url
}

func (e *RelayEndpoint) Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	relay, err := e.pool.EnsureRelay(e.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", e.url, err)
	}

	var events []*nostr.Event
	for _, filter := range filters {
		batch, err := relay.QuerySync(ctx, filter)
		events = append(events, batch...)
		if err != nil {
			return events, fmt.Errorf("query %s: %w", e.url, err)
		}
		if ctx.Err() != nil {
			return events, ctx.Err()
		}
	}
	return events, nil
}

func (e *RelayEndpoint) Publish(ctx context.Context, event nostr.Event) error {
	relay, err := e.pool.EnsureRelay(e.url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", e.url, err)
	}
	if err := relay.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish to %s: %w", e.url, err)
	}
	return nil
}
