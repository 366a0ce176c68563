package aggregates

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sandwichfarm/zapline/internal/config"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// Manager coordinates all aggregate processing
type Manager struct {
	Reactions *ReactionProcessor
	Reposts   *RepostProcessor
	Zaps      *ZapProcessor
	Threads   *Threads
}

// NewManager creates a new aggregates manager
func NewManager(gw *internalnostr.Gateway, signer internalnostr.Signer, cfg *config.Config, logger *ops.Logger) *Manager {
	in := NewInteractions(gw, signer, cfg.Relays.Policy.LookupTimeout(), logger)
	return &Manager{
		Reactions: NewReactionProcessor(in, &cfg.Inbox),
		Reposts:   NewRepostProcessor(in),
		Zaps:      NewZapProcessor(gw, cfg.Relays.Policy.AggregateTimeout(), logger),
		Threads:   NewThreads(gw, cfg.Relays.Policy.LookupTimeout(), cfg.Threads.MaxDepth, logger),
	}
}

// EventAggregates contains all aggregate data for an event
type EventAggregates struct {
	EventID        string
	ReplyCount     int
	Reactions      InteractionState
	ReactionCounts map[string]int
	Reposts        InteractionState
	Zaps           ZapState
}

// GetEventAggregates reads every aggregate family for target concurrently
func (m *Manager) GetEventAggregates(ctx context.Context, target Target, viewer string) *EventAggregates {
	agg := &EventAggregates{
		EventID:        target.ID,
		ReactionCounts: make(map[string]int),
	}

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.Go(func() error {
		state := m.Reactions.GetReactionState(ctx, target, viewer)
		mu.Lock()
		agg.Reactions = state
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		stats := m.Reactions.GetTopReactions(ctx, target, 0)
		mu.Lock()
		for _, s := range stats {
			agg.ReactionCounts[s.Emoji] = s.Count
		}
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		state := m.Reposts.GetRepostState(ctx, target, viewer)
		mu.Lock()
		agg.Reposts = state
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		state := m.Zaps.GetZapState(ctx, target)
		mu.Lock()
		agg.Zaps = state
		mu.Unlock()
		return nil
	})
	if target.ID != "" {
		eg.Go(func() error {
			replies := m.Threads.GetReplies(ctx, target.ID)
			mu.Lock()
			agg.ReplyCount = len(replies)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return agg
}

// HasInteractions returns true if the event has any interactions
func (ea *EventAggregates) HasInteractions() bool {
	return ea.ReplyCount > 0 || ea.Reactions.Count > 0 || ea.Reposts.Count > 0 || ea.Zaps.Count > 0
}
