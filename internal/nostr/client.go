package nostr

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/zapline/internal/config"
)

// Client owns the relay connection pool and hands out endpoints over it
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays) *Client {
	pool := nostr.NewSimplePool(ctx)
	return &Client{
		pool:        pool,
		relayConfig: relayConfig,
	}
}

// Endpoint returns a pooled endpoint for url
func (c *Client) Endpoint(url string) Endpoint {
	return NewRelayEndpoint(c.pool, url)
}

// Endpoints returns pooled endpoints for urls
func (c *Client) Endpoints(urls []string) []Endpoint {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, u := range urls {
		endpoints = append(endpoints, c.Endpoint(u))
	}
	return endpoints
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}

// GetSeedRelays returns the configured seed relays
func (c *Client) GetSeedRelays() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// GetDefaultTimeout returns the configured timeout duration
func (c *Client) GetDefaultTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 30 * time.Second
	}
	return c.relayConfig.Policy.ConnectTimeout()
}
