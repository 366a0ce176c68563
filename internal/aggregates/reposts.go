package aggregates

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
)

// Repost kinds (NIP-18)
const (
	KindRepost        = 6
	KindGenericRepost = 16
)

// RepostProcessor handles repost state and toggles
type RepostProcessor struct {
	interactions *Interactions
}

// NewRepostProcessor creates a new repost processor
func NewRepostProcessor(in *Interactions) *RepostProcessor {
	return &RepostProcessor{interactions: in}
}

var reposts = family{
	name:        "reposts",
	kinds:       []int{KindRepost, KindGenericRepost},
	counts:      func(*nostr.Event) bool { return true },
	build:       buildRepost,
	undoContent: "Unreposted",
}

// buildRepost uses kind 6 for text notes, embedding the note when known,
// and kind 16 with a k tag for everything else
func buildRepost(t Target) *nostr.Event {
	ev := &nostr.Event{CreatedAt: nostr.Now()}

	if t.Kind == internalnostr.KindNote {
		ev.Kind = KindRepost
		ev.Tags = nostr.Tags{
			{"e", t.ID, "", t.Author},
			{"p", t.Author},
		}
		if t.Event != nil {
			ev.Content = t.Event.String()
		}
		return ev
	}

	ev.Kind = KindGenericRepost
	ev.Tags = t.referenceTags()
	return ev
}

// GetRepostState counts reposts of target and whether viewer holds one
func (rp *RepostProcessor) GetRepostState(ctx context.Context, target Target, viewer string) InteractionState {
	return rp.interactions.state(ctx, reposts, target, viewer, true)
}

// ToggleRepost reposts target, or withdraws the viewer's reposts when present
func (rp *RepostProcessor) ToggleRepost(ctx context.Context, target Target) (*ToggleResult, error) {
	return rp.interactions.toggle(ctx, reposts, target)
}
