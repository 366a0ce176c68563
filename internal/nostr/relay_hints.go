package nostr

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// KindRelayList is the NIP-65 relay list kind
const KindRelayList = 10002

// RelayHint is one relay entry of a NIP-65 declaration
type RelayHint struct {
	Pubkey    string
	Relay     string
	CanRead   bool
	CanWrite  bool
	Freshness int64
	EventID   string
}

// ParseRelayHints extracts relay hints from a NIP-65 kind 10002 event
func ParseRelayHints(event *nostr.Event) ([]*RelayHint, error) {
	if event.Kind != KindRelayList {
		return nil, fmt.Errorf("expected kind %d, got %d", KindRelayList, event.Kind)
	}

	hints := make([]*RelayHint, 0, len(event.Tags))

	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}

		relay := strings.TrimSpace(tag[1])
		if relay == "" {
			continue
		}

		hint := &RelayHint{
			Pubkey:    event.PubKey,
			Relay:     relay,
			CanRead:   true,
			CanWrite:  true,
			Freshness: int64(event.CreatedAt),
			EventID:   event.ID,
		}

		// Check for read/write markers
		if len(tag) >= 3 {
			marker := strings.ToLower(tag[2])
			switch marker {
			case "read":
				hint.CanWrite = false
			case "write":
				hint.CanRead = false
			}
		}

		hints = append(hints, hint)
	}

	return hints, nil
}

// BuildRelayListEvent creates an unsigned NIP-65 kind 10002 event
func BuildRelayListEvent(hints []*RelayHint) *nostr.Event {
	event := &nostr.Event{
		Kind:      KindRelayList,
		CreatedAt: nostr.Now(),
		Tags:      make(nostr.Tags, 0, len(hints)),
	}

	for _, hint := range hints {
		tag := make(nostr.Tag, 0, 3)
		tag = append(tag, "r", hint.Relay)

		// Add read/write marker
		if hint.CanRead && !hint.CanWrite {
			tag = append(tag, "read")
		} else if hint.CanWrite && !hint.CanRead {
			tag = append(tag, "write")
		}

		event.Tags = append(event.Tags, tag)
	}

	return event
}

// ValidateRelayURL performs basic validation on a relay URL
func ValidateRelayURL(url string) bool {
	return nostr.IsValidRelayURL(url)
}

// HintURLs returns the relays of hints that satisfy pick
func HintURLs(hints []*RelayHint, pick func(*RelayHint) bool) []string {
	urls := make([]string, 0, len(hints))
	for _, h := range hints {
		if pick == nil || pick(h) {
			urls = append(urls, h.Relay)
		}
	}
	return urls
}
