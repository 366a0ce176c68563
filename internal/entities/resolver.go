package entities

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"golang.org/x/sync/errgroup"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
)

// Entity is a decoded NIP-19 reference found in note content
type Entity struct {
	Type       string // "npub", "nprofile", "note", "nevent", "naddr"
	Pubkey     string
	EventID    string
	Kind       int
	Identifier string
	Text       string // the original nostr: string
}

// Regular expression to match nostr: URIs
var nostrEntityRegex = regexp.MustCompile(`nostr:(npub1[a-z0-9]+|nprofile1[a-z0-9]+|note1[a-z0-9]+|nevent1[a-z0-9]+|naddr1[a-z0-9]+)`)

// Find returns every decodable entity in text, once each, in order of appearance
func Find(text string) []Entity {
	var found []Entity
	seen := make(map[string]bool)
	for _, match := range nostrEntityRegex.FindAllString(text, -1) {
		if seen[match] {
			continue
		}
		seen[match] = true
		if e, ok := decode(match); ok {
			found = append(found, e)
		}
	}
	return found
}

func decode(match string) (Entity, bool) {
	prefix, decoded, err := nip19.Decode(strings.TrimPrefix(match, "nostr:"))
	if err != nil {
		return Entity{}, false
	}

	e := Entity{Type: prefix, Text: match}
	switch v := decoded.(type) {
	case string:
		switch prefix {
		case "npub":
			e.Pubkey = v
		case "note":
			e.EventID = v
		default:
			return Entity{}, false
		}
	case nostr.ProfilePointer:
		e.Pubkey = v.PublicKey
	case nostr.EventPointer:
		e.EventID = v.ID
		e.Pubkey = v.Author
	case nostr.EntityPointer:
		e.Pubkey = v.PublicKey
		e.Kind = v.Kind
		e.Identifier = v.Identifier
	default:
		return Entity{}, false
	}
	return e, true
}

// Names holds the profiles and notes resolved for a batch of events.
// A nil *Names resolves nothing and falls back to shortened keys.
type Names struct {
	profiles map[string]string
	notes    map[string]*nostr.Event
}

// Resolver looks up display names and mentioned notes through the gateway
type Resolver struct {
	gateway  *internalnostr.Gateway
	deadline time.Duration
}

// NewResolver creates a new entity resolver
func NewResolver(gw *internalnostr.Gateway, deadline time.Duration) *Resolver {
	return &Resolver{gateway: gw, deadline: deadline}
}

// Resolve collects the authors of events and everything their content
// mentions, then fetches all profiles in one query and all notes in another.
func (r *Resolver) Resolve(ctx context.Context, events []*nostr.Event) *Names {
	names := &Names{
		profiles: make(map[string]string),
		notes:    make(map[string]*nostr.Event),
	}

	pubkeys := make(map[string]bool)
	ids := make(map[string]bool)
	for _, ev := range events {
		if ev == nil {
			continue
		}
		pubkeys[ev.PubKey] = true
		for _, e := range Find(ev.Content) {
			if e.Pubkey != "" {
				pubkeys[e.Pubkey] = true
			}
			if e.EventID != "" {
				ids[e.EventID] = true
			}
		}
	}
	if len(pubkeys) == 0 {
		return names
	}

	var g errgroup.Group
	var profiles, notes []*nostr.Event
	g.Go(func() error {
		profiles = r.gateway.Query(ctx, nostr.Filters{{Authors: keys(pubkeys), Kinds: []int{internalnostr.KindProfile}}}, r.deadline)
		return nil
	})
	if len(ids) > 0 {
		g.Go(func() error {
			notes = r.gateway.Query(ctx, nostr.Filters{{IDs: keys(ids)}}, r.deadline)
			return nil
		})
	}
	_ = g.Wait()

	newest := make(map[string]nostr.Timestamp)
	for _, ev := range profiles {
		if ts, ok := newest[ev.PubKey]; ok && ts >= ev.CreatedAt {
			continue
		}
		meta, err := internalnostr.ParseProfile(ev)
		if err != nil {
			continue
		}
		if name := meta.BestName(); name != "" {
			newest[ev.PubKey] = ev.CreatedAt
			names.profiles[ev.PubKey] = name
		}
	}
	for _, ev := range notes {
		if ids[ev.ID] {
			names.notes[ev.ID] = ev
		}
	}
	return names
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// Name is the profile's best name, or a shortened pubkey
func (n *Names) Name(pubkey string) string {
	if n != nil {
		if name, ok := n.profiles[pubkey]; ok {
			return name
		}
	}
	return truncatePubkey(pubkey)
}

// Note returns a resolved mentioned note
func (n *Names) Note(id string) *nostr.Event {
	if n == nil {
		return nil
	}
	return n.notes[id]
}

// Replace rewrites nostr: references in text into readable forms.
// Profiles become @name, notes their first line when resolved.
func (n *Names) Replace(text string) string {
	return nostrEntityRegex.ReplaceAllStringFunc(text, func(match string) string {
		e, ok := decode(match)
		if !ok {
			return match
		}
		switch e.Type {
		case "npub", "nprofile":
			return "@" + n.Name(e.Pubkey)
		case "note", "nevent":
			if ev := n.Note(e.EventID); ev != nil {
				line, _, _ := strings.Cut(strings.TrimSpace(ev.Content), "\n")
				if line != "" {
					return fmt.Sprintf("[%s: %s]", n.Name(ev.PubKey), truncate(line, 40))
				}
			}
			return fmt.Sprintf("[note %s]", truncate(e.EventID, 11))
		default:
			if e.Identifier != "" {
				return fmt.Sprintf("[%s by %s]", e.Identifier, n.Name(e.Pubkey))
			}
			return fmt.Sprintf("[article by %s]", n.Name(e.Pubkey))
		}
	})
}

func truncatePubkey(pubkey string) string {
	if len(pubkey) <= 16 {
		return pubkey
	}
	return pubkey[:8] + "..." + pubkey[len(pubkey)-8:]
}

func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-3] + "..."
}
