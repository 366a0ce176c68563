package aggregates

import (
	"context"
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/config"
)

// KindReaction is the NIP-25 reaction kind
const KindReaction = 7

// ReactionProcessor handles reaction (kind 7) state and toggles
type ReactionProcessor struct {
	interactions *Interactions
	config       *config.Inbox
}

// NewReactionProcessor creates a new reaction processor
func NewReactionProcessor(in *Interactions, cfg *config.Inbox) *ReactionProcessor {
	return &ReactionProcessor{
		interactions: in,
		config:       cfg,
	}
}

// IsPositiveReaction reports whether content is a like ("+" or empty)
func IsPositiveReaction(content string) bool {
	return content == "+" || content == ""
}

var reactions = family{
	name:  "reactions",
	kinds: []int{KindReaction},
	counts: func(ev *nostr.Event) bool {
		return IsPositiveReaction(ev.Content)
	},
	build: func(t Target) *nostr.Event {
		return &nostr.Event{
			Kind:      KindReaction,
			CreatedAt: nostr.Now(),
			Content:   "+",
			Tags:      t.referenceTags(),
		}
	},
	undoContent: "Unliked",
}

// GetReactionState counts positive reactions on target and whether viewer holds one.
// Served from the query cache when available.
func (rp *ReactionProcessor) GetReactionState(ctx context.Context, target Target, viewer string) InteractionState {
	return rp.interactions.state(ctx, reactions, target, viewer, true)
}

// ToggleReaction likes target, or withdraws the viewer's likes when present
func (rp *ReactionProcessor) ToggleReaction(ctx context.Context, target Target) (*ToggleResult, error) {
	return rp.interactions.toggle(ctx, reactions, target)
}

// isAllowedReaction checks if a reaction passes noise filters
func (rp *ReactionProcessor) isAllowedReaction(reaction string) bool {
	if rp.config == nil || len(rp.config.NoiseFilters.AllowedReactionChars) == 0 {
		return true // No filter configured, allow all
	}

	// Check if reaction is in allowed list
	for _, allowed := range rp.config.NoiseFilters.AllowedReactionChars {
		if reaction == allowed {
			return true
		}
	}

	return false
}

// GetTopReactions returns the most popular reactions on target, most frequent first
func (rp *ReactionProcessor) GetTopReactions(ctx context.Context, target Target, limit int) []ReactionStat {
	counts := make(map[string]int)
	for _, ev := range rp.interactions.live(ctx, reactions, target, true) {
		reaction := ev.Content
		if reaction == "" {
			reaction = "+" // Default like
		}
		if !rp.isAllowedReaction(reaction) {
			continue
		}
		counts[reaction]++
	}

	stats := make([]ReactionStat, 0, len(counts))
	for emoji, count := range counts {
		stats = append(stats, ReactionStat{
			Emoji: emoji,
			Count: count,
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Emoji < stats[j].Emoji
	})

	// Apply limit
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}

	return stats
}

// ReactionStat represents a reaction and its count
type ReactionStat struct {
	Emoji string
	Count int
}
