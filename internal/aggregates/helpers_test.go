package aggregates

import (
	"time"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/nostr/nostrtest"
	"github.com/sandwichfarm/zapline/internal/ops"
)

const testDeadline = 200 * time.Millisecond

func newTestGateway(endpoints ...*nostrtest.Endpoint) *internalnostr.Gateway {
	eps := make([]internalnostr.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		eps = append(eps, ep)
	}
	return internalnostr.NewGateway(eps,
		internalnostr.WithLogger(ops.Discard()),
		internalnostr.WithPublishPolicy(1, 0, time.Second),
	)
}
