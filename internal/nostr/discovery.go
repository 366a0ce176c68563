package nostr

import (
	"context"
	"time"
)

// Discovery resolves where a pubkey publishes and receives events from its NIP-65 list
type Discovery struct {
	gateway  *Gateway
	deadline time.Duration
}

// NewDiscovery creates a new relay discovery instance
func NewDiscovery(gateway *Gateway, deadline time.Duration) *Discovery {
	if deadline <= 0 {
		deadline = DeadlineLookup
	}
	return &Discovery{
		gateway:  gateway,
		deadline: deadline,
	}
}

// RelayHints returns the hints of pubkey's latest relay list found on urls
// (the default set when empty). A pubkey without a list has no hints.
func (d *Discovery) RelayHints(ctx context.Context, pubkey string, urls []string) []*RelayHint {
	latest := d.gateway.LatestFrom(ctx, urls, pubkey, KindRelayList, d.deadline)
	if latest == nil {
		return nil
	}
	hints, err := ParseRelayHints(latest)
	if err != nil {
		return nil
	}
	return hints
}

// OutboxRelays returns where a pubkey PUBLISHES content (write relays).
// Read relays are used as a fallback.
func (d *Discovery) OutboxRelays(ctx context.Context, pubkey string) []string {
	hints := d.RelayHints(ctx, pubkey, nil)
	if relays := HintURLs(hints, func(h *RelayHint) bool { return h.CanWrite }); len(relays) > 0 {
		return relays
	}
	return HintURLs(hints, func(h *RelayHint) bool { return h.CanRead })
}

// InboxRelays returns where a pubkey RECEIVES interactions (read relays).
// Write relays are used as a fallback.
func (d *Discovery) InboxRelays(ctx context.Context, pubkey string) []string {
	hints := d.RelayHints(ctx, pubkey, nil)
	if relays := HintURLs(hints, func(h *RelayHint) bool { return h.CanRead }); len(relays) > 0 {
		return relays
	}
	return HintURLs(hints, func(h *RelayHint) bool { return h.CanWrite })
}
