package aggregates

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// interactionLimit bounds how many interaction events are read per target
const interactionLimit = 500

// InteractionState is the derived count of one interaction family for a target
type InteractionState struct {
	TargetID string
	Count    int
	// ViewerEventIDs are the viewer's live interaction events, newest first
	ViewerEventIDs []string
}

// ViewerHasReacted reports whether the viewer holds a live reaction
func (s InteractionState) ViewerHasReacted() bool {
	return len(s.ViewerEventIDs) > 0
}

// ViewerHasReposted reports whether the viewer holds a live repost
func (s InteractionState) ViewerHasReposted() bool {
	return len(s.ViewerEventIDs) > 0
}

// ToggleResult describes the event published by a toggle
type ToggleResult struct {
	// Active is the viewer's intended state after the toggle
	Active bool
	Event  *nostr.Event
	Report internalnostr.PublishReport
}

// family describes one kind of interaction (reactions, reposts)
type family struct {
	name        string
	kinds       []int
	counts      func(*nostr.Event) bool
	build       func(Target) *nostr.Event
	undoContent string
}

// Interactions reads and toggles interaction families against the gateway
type Interactions struct {
	gateway  *internalnostr.Gateway
	signer   internalnostr.Signer
	deadline time.Duration
	logger   *ops.Logger
}

// NewInteractions creates the shared interaction engine
func NewInteractions(gw *internalnostr.Gateway, signer internalnostr.Signer, deadline time.Duration, logger *ops.Logger) *Interactions {
	if deadline <= 0 {
		deadline = internalnostr.DeadlineLookup
	}
	if logger == nil {
		logger = ops.Default()
	}
	return &Interactions{
		gateway:  gw,
		signer:   signer,
		deadline: deadline,
		logger:   logger.WithComponent("aggregates"),
	}
}

func cacheKey(f family, t Target) string {
	return f.name + ":" + t.Key()
}

// live returns the family's events that reference target and have not been
// withdrawn by their own author
func (in *Interactions) live(ctx context.Context, f family, target Target, cached bool) []*nostr.Event {
	filters := nostr.Filters{{
		Kinds: f.kinds,
		Tags:  target.referenceFilterTags(),
		Limit: interactionLimit,
	}}

	var events []*nostr.Event
	if cached {
		events = in.gateway.QueryCached(ctx, cacheKey(f, target), filters, in.deadline)
	} else {
		events = in.gateway.Query(ctx, filters, in.deadline)
	}

	candidates := make([]*nostr.Event, 0, len(events))
	for _, ev := range events {
		if target.referencedBy(ev) && containsKind(f.kinds, ev.Kind) {
			candidates = append(candidates, ev)
		}
	}

	tombstoned := in.gateway.Tombstoned(ctx, candidates, in.deadline)
	live := candidates[:0]
	for _, ev := range candidates {
		if !tombstoned[ev.ID] {
			live = append(live, ev)
		}
	}
	return live
}

func (in *Interactions) state(ctx context.Context, f family, target Target, viewer string, cached bool) InteractionState {
	state := InteractionState{TargetID: target.ID}
	for _, ev := range in.live(ctx, f, target, cached) {
		if !f.counts(ev) {
			continue
		}
		state.Count++
		if viewer != "" && ev.PubKey == viewer {
			state.ViewerEventIDs = append(state.ViewerEventIDs, ev.ID)
		}
	}
	in.logger.LogAggregateUpdate(target.ID, f.name, state.Count)
	return state
}

// toggle re-derives the viewer's state from the network and publishes either
// a new interaction or a deletion of the viewer's existing ones
func (in *Interactions) toggle(ctx context.Context, f family, target Target) (*ToggleResult, error) {
	viewer, err := internalnostr.RequireIdentity(ctx, in.signer)
	if err != nil {
		return nil, err
	}
	if target.ID == "" && !target.IsAddressable() {
		return nil, fmt.Errorf("target has no id")
	}

	current := in.state(ctx, f, target, viewer, false)

	var draft *nostr.Event
	active := !current.ViewerHasReacted()
	if active {
		draft = f.build(target)
	} else {
		draft = &nostr.Event{
			Kind:      internalnostr.KindDeletion,
			CreatedAt: nostr.Now(),
			Content:   f.undoContent,
			Tags:      nostr.Tags{},
		}
		for _, id := range current.ViewerEventIDs {
			draft.Tags = append(draft.Tags, nostr.Tag{"e", id})
		}
		for _, k := range f.kinds {
			draft.Tags = append(draft.Tags, nostr.Tag{"k", strconv.Itoa(k)})
		}
	}

	report, err := in.gateway.SignAndPublish(ctx, in.signer, draft, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s toggle: %w", f.name, err)
	}

	in.gateway.Invalidate(ctx, cacheKey(f, target))
	return &ToggleResult{Active: active, Event: draft, Report: report}, nil
}

func containsKind(kinds []int, kind int) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
