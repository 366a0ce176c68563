package aggregates

import (
	"fmt"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// Target identifies the event an interaction points at
type Target struct {
	ID     string
	Author string
	Kind   int
	// Identifier is the d tag of addressable targets
	Identifier string
	// Event is the full target when known
	Event *nostr.Event
}

// TargetFromEvent builds a Target carrying the full event
func TargetFromEvent(ev *nostr.Event) Target {
	t := Target{ID: ev.ID, Author: ev.PubKey, Kind: ev.Kind, Event: ev}
	if t.IsAddressable() {
		for _, tag := range ev.Tags {
			if len(tag) >= 2 && tag[0] == "d" {
				t.Identifier = tag[1]
				break
			}
		}
	}
	return t
}

// IsAddressable reports whether the target is referenced by coordinate
func (t Target) IsAddressable() bool {
	return t.Kind >= 30000 && t.Kind < 40000
}

// Coordinate is the kind:pubkey:d address of an addressable target
func (t Target) Coordinate() string {
	return fmt.Sprintf("%d:%s:%s", t.Kind, t.Author, t.Identifier)
}

// Key identifies the target in cache keys
func (t Target) Key() string {
	if t.IsAddressable() {
		return t.Coordinate()
	}
	return t.ID
}

// referenceFilterTags returns the tag filter that selects events pointing at the target
func (t Target) referenceFilterTags() nostr.TagMap {
	if t.IsAddressable() {
		return nostr.TagMap{"a": {t.Coordinate()}}
	}
	return nostr.TagMap{"e": {t.ID}}
}

// referencedBy reports whether ev points at the target
func (t Target) referencedBy(ev *nostr.Event) bool {
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		if tag[0] == "e" && tag[1] == t.ID && t.ID != "" {
			return true
		}
		if tag[0] == "a" && t.IsAddressable() && tag[1] == t.Coordinate() {
			return true
		}
	}
	return false
}

// referenceTags are the tags an interaction event carries to point at the target
func (t Target) referenceTags() nostr.Tags {
	tags := nostr.Tags{}
	if t.ID != "" {
		tags = append(tags, nostr.Tag{"e", t.ID, "", t.Author})
	}
	if t.IsAddressable() {
		tags = append(tags, nostr.Tag{"a", t.Coordinate()})
	}
	tags = append(tags,
		nostr.Tag{"p", t.Author},
		nostr.Tag{"k", strconv.Itoa(t.Kind)},
	)
	return tags
}
