package zap

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/aggregates"
)

// RequestParams describes a zap request (kind 9734)
type RequestParams struct {
	Recipient string
	// Target is optional; a zero Target zaps the recipient's profile
	Target     aggregates.Target
	AmountMsat int64
	Comment    string
	LNURL      string
	// Relays are where the receipt should be published
	Relays []string
}

// BuildZapRequest builds an unsigned zap request. Ordinary events are
// referenced by id, addressable events by coordinate.
func BuildZapRequest(p RequestParams) *nostr.Event {
	relays := nostr.Tag{"relays"}
	relays = append(relays, p.Relays...)

	tags := nostr.Tags{
		relays,
		{"amount", strconv.FormatInt(p.AmountMsat, 10)},
		{"p", p.Recipient},
	}
	if p.LNURL != "" {
		tags = append(tags, nostr.Tag{"lnurl", p.LNURL})
	}

	t := p.Target
	switch {
	case t.IsAddressable():
		tags = append(tags, nostr.Tag{"a", t.Coordinate()})
		if t.ID != "" {
			tags = append(tags, nostr.Tag{"e", t.ID})
		}
		tags = append(tags, nostr.Tag{"k", strconv.Itoa(t.Kind)})
	case t.ID != "":
		tags = append(tags,
			nostr.Tag{"e", t.ID},
			nostr.Tag{"k", strconv.Itoa(t.Kind)},
		)
	}

	return &nostr.Event{
		Kind:      aggregates.KindZapRequest,
		CreatedAt: nostr.Now(),
		Content:   p.Comment,
		Tags:      tags,
	}
}
