// Package social reads and mutates follow lists (kind 3).
package social

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/config"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

const (
	// followersLimit bounds the follower scan
	followersLimit = 500

	// DefaultSuggestions is how many suggestions Suggestions returns by default
	DefaultSuggestions = 5
	// MinFollowsForSuggestions is the smallest follow list suggestions are made for
	MinFollowsForSuggestions = 3
	suggestionSources        = 10
)

// Action is a follow list mutation
type Action int

const (
	Follow Action = iota
	Unfollow
)

func (a Action) String() string {
	if a == Unfollow {
		return "unfollow"
	}
	return "follow"
}

// FollowState is the current follow list of an identity, derived from its
// latest kind 3 event. A zero EventID means no list was found.
type FollowState struct {
	EventID   string
	CreatedAt nostr.Timestamp
	Tags      nostr.Tags
	Content   string
	Following []string
}

// Follows reports whether pubkey is in the following set
func (s FollowState) Follows(pubkey string) bool {
	for _, pk := range s.Following {
		if pk == pubkey {
			return true
		}
	}
	return false
}

// MutationResult is the outcome of a follow list mutation
type MutationResult struct {
	Event  *nostr.Event
	State  FollowState
	Report internalnostr.PublishReport
}

// Graph handles social graph reads and writes against the gateway
type Graph struct {
	gateway  *internalnostr.Gateway
	signer   internalnostr.Signer
	scope    *config.FeedScope
	deadline time.Duration
	logger   *ops.Logger
}

// NewGraph creates a new graph repository
func NewGraph(gw *internalnostr.Gateway, signer internalnostr.Signer, scope *config.FeedScope, deadline time.Duration, logger *ops.Logger) *Graph {
	if scope == nil {
		scope = &config.FeedScope{}
	}
	if deadline <= 0 {
		deadline = internalnostr.DeadlineLookup
	}
	if logger == nil {
		logger = ops.Default()
	}
	return &Graph{
		gateway:  gw,
		signer:   signer,
		scope:    scope,
		deadline: deadline,
		logger:   logger.WithComponent("social"),
	}
}

func followsKey(identity string) string {
	return "follows:" + identity
}

func contactsFilter(authors ...string) nostr.Filters {
	return nostr.Filters{{
		Kinds:   []int{internalnostr.KindContacts},
		Authors: authors,
		Limit:   len(authors),
	}}
}

// stateFrom extracts followed pubkeys from p tags, in tag order, without duplicates
func stateFrom(ev *nostr.Event) FollowState {
	if ev == nil {
		return FollowState{Tags: nostr.Tags{}}
	}
	state := FollowState{
		EventID:   ev.ID,
		CreatedAt: ev.CreatedAt,
		Tags:      ev.Tags,
		Content:   ev.Content,
	}
	seen := make(map[string]bool)
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "p" && !seen[tag[1]] {
			seen[tag[1]] = true
			state.Following = append(state.Following, tag[1])
		}
	}
	return state
}

// GetFollowState returns identity's current following set, served from the
// query cache when available
func (g *Graph) GetFollowState(ctx context.Context, identity string) FollowState {
	events := g.gateway.QueryCached(ctx, followsKey(identity), contactsFilter(identity), g.deadline)
	return stateFrom(latestContacts(events, identity))
}

func (g *Graph) freshFollowState(ctx context.Context, identity string) FollowState {
	return stateFrom(g.gateway.Latest(ctx, identity, internalnostr.KindContacts, g.deadline))
}

func latestContacts(events []*nostr.Event, author string) *nostr.Event {
	return internalnostr.LatestOf(events, func(ev *nostr.Event) bool {
		return ev.Kind == internalnostr.KindContacts && ev.PubKey == author
	})
}

// FollowingCount is the size of identity's following set
func (g *Graph) FollowingCount(ctx context.Context, identity string) int {
	return len(g.GetFollowState(ctx, identity).Following)
}

// ApplyFollowAction returns a copy of tags with action applied for target.
// Follow appends a p tag when absent; unfollow removes every p tag for target.
// All other tags keep their order.
func ApplyFollowAction(tags nostr.Tags, target string, action Action) nostr.Tags {
	out := make(nostr.Tags, 0, len(tags)+1)
	present := false
	for _, tag := range tags {
		isTarget := len(tag) >= 2 && tag[0] == "p" && tag[1] == target
		if isTarget {
			if action == Unfollow {
				continue
			}
			present = true
		}
		out = append(out, tag)
	}
	if action == Follow && !present {
		out = append(out, nostr.Tag{"p", target})
	}
	return out
}

// MutateFollow publishes a new follow list for identity with target followed
// or unfollowed. The current list is re-read from the network first; two
// concurrent mutations may still lose one update.
func (g *Graph) MutateFollow(ctx context.Context, identity, target string, action Action) (*MutationResult, error) {
	if err := internalnostr.RequireOwnIdentity(ctx, g.signer, identity); err != nil {
		return nil, err
	}
	if !internalnostr.IsHex64(target) {
		return nil, fmt.Errorf("invalid target pubkey %q", target)
	}

	current := g.freshFollowState(ctx, identity)
	tags := ApplyFollowAction(current.Tags, target, action)

	draft := &nostr.Event{
		Kind:      internalnostr.KindContacts,
		CreatedAt: nostr.Now(),
		Content:   current.Content,
		Tags:      tags,
	}
	// Keep the new list strictly newer than the one it replaces
	if draft.CreatedAt <= current.CreatedAt {
		draft.CreatedAt = current.CreatedAt + 1
	}

	report, err := g.gateway.SignAndPublish(ctx, g.signer, draft, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to publish follow list: %w", err)
	}
	g.gateway.Invalidate(ctx, followsKey(identity))

	g.logger.Info("follow list updated",
		"action", action.String(),
		"target", target,
		"following", len(stateFrom(draft).Following),
		"event_id", draft.ID)

	return &MutationResult{Event: draft, State: stateFrom(draft), Report: report}, nil
}

// Followers returns the distinct authors whose latest follow list references identity
func (g *Graph) Followers(ctx context.Context, identity string) []string {
	referencing := g.gateway.Query(ctx, nostr.Filters{{
		Kinds: []int{internalnostr.KindContacts},
		Tags:  nostr.TagMap{"p": {identity}},
		Limit: followersLimit,
	}}, g.deadline)

	candidates := make([]string, 0, len(referencing))
	seen := make(map[string]bool)
	for _, ev := range referencing {
		if ev.Kind == internalnostr.KindContacts && !seen[ev.PubKey] {
			seen[ev.PubKey] = true
			candidates = append(candidates, ev.PubKey)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// A candidate's newer list may have dropped identity
	latest := append(referencing, g.gateway.Query(ctx, contactsFilter(candidates...), g.deadline)...)

	followers := make([]string, 0, len(candidates))
	for _, author := range candidates {
		if stateFrom(latestContacts(latest, author)).Follows(identity) {
			followers = append(followers, author)
		}
	}
	return followers
}

// Mutuals returns the followed authors whose latest follow list references identity
func (g *Graph) Mutuals(ctx context.Context, identity string) []string {
	following := g.GetFollowState(ctx, identity).Following
	if len(following) == 0 {
		return nil
	}

	lists := g.gateway.Query(ctx, contactsFilter(following...), g.deadline)

	mutuals := make([]string, 0)
	for _, pk := range following {
		if stateFrom(latestContacts(lists, pk)).Follows(identity) {
			mutuals = append(mutuals, pk)
		}
	}
	return mutuals
}

// Suggestion is an author followed by some of the identity's follows
type Suggestion struct {
	Pubkey string
	// Score is how many of the sampled follows follow Pubkey
	Score  int
}

// Suggestions ranks the authors followed by the first few of identity's
// follows, leaving out identity and the authors it already follows. Identities
// following fewer than MinFollowsForSuggestions authors get none.
func (g *Graph) Suggestions(ctx context.Context, identity string, limit int) []Suggestion {
	if limit <= 0 {
		limit = DefaultSuggestions
	}
	state := g.GetFollowState(ctx, identity)
	if len(state.Following) < MinFollowsForSuggestions {
		return nil
	}

	sources := state.Following
	if len(sources) > suggestionSources {
		sources = sources[:suggestionSources]
	}
	lists := g.gateway.Query(ctx, contactsFilter(sources...), g.deadline)

	scores := make(map[string]int)
	for _, source := range sources {
		for _, pk := range stateFrom(latestContacts(lists, source)).Following {
			if pk == identity || state.Follows(pk) {
				continue
			}
			scores[pk]++
		}
	}

	ranked := make([]string, 0, len(scores))
	for pk := range scores {
		ranked = append(ranked, pk)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	suggestions := make([]Suggestion, 0, limit)
	for _, pk := range g.applyLimits(ranked) {
		if len(suggestions) == limit {
			break
		}
		suggestions = append(suggestions, Suggestion{Pubkey: pk, Score: scores[pk]})
	}
	return suggestions
}

// ResolveFollowing returns identity plus its follows, filtered by the feed scope
func (g *Graph) ResolveFollowing(ctx context.Context, identity string) []string {
	authors := []string{identity}
	for _, pk := range g.GetFollowState(ctx, identity).Following {
		if pk != identity {
			authors = append(authors, pk)
		}
	}
	return g.applyLimits(authors)
}

// applyLimits applies allowlist, denylist, and max_authors limits
func (g *Graph) applyLimits(authors []string) []string {
	filtered := make([]string, 0, len(authors))

	for _, author := range authors {
		// Check denylist
		denied := false
		for _, deniedPK := range g.scope.DenylistPubkeys {
			if author == deniedPK {
				denied = true
				break
			}
		}
		if denied {
			continue
		}

		// Check allowlist if configured
		if len(g.scope.AllowlistPubkeys) > 0 {
			allowed := false
			for _, allowedPK := range g.scope.AllowlistPubkeys {
				if author == allowedPK {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
		}

		filtered = append(filtered, author)
	}

	// Apply max authors cap
	if g.scope.MaxAuthors > 0 && len(filtered) > g.scope.MaxAuthors {
		filtered = filtered[:g.scope.MaxAuthors]
	}

	return filtered
}
