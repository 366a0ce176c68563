// Package feed assembles the read-only timelines: the home feed, profile
// pages, notifications and trending tags.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/sandwichfarm/zapline/internal/aggregates"
	"github.com/sandwichfarm/zapline/internal/config"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
	"github.com/sandwichfarm/zapline/internal/social"
)

const (
	// DefaultLimit is the page size of feeds and notifications
	DefaultLimit = 50
	// ProfilePostLimit is how many recent posts a profile page shows
	ProfilePostLimit = 20
	// RecentWindow bounds notifications and trending
	RecentWindow = 24 * time.Hour
	// MaxClockSkew is how far in the future an event may be dated and still be shown
	MaxClockSkew = 15 * time.Minute

	maxOutboxRelays = 3
)

// FeedKinds are notes and both repost kinds
var FeedKinds = []int{internalnostr.KindNote, aggregates.KindRepost, aggregates.KindGenericRepost}

// Scope defines the author scope of a feed
type Scope string

const (
	ScopeAll       Scope = "all"
	ScopeFollowing Scope = "following"
	ScopeSelf      Scope = "self"
)

// Options narrows a feed request
type Options struct {
	Scope Scope
	// Authors overrides the scope; npub values and the alias "self" are accepted
	Authors []string
	Hashtag string
	Until   *time.Time
	Limit   int
	// IsReply keeps only replies (true) or only roots (false) when set
	IsReply *bool
}

// Page is one page of a timeline, newest first
type Page struct {
	Events []*nostr.Event
	// Next is the until cursor for the following page, zero when exhausted
	Next nostr.Timestamp
}

// ProfileView is a profile page
type ProfileView struct {
	Pubkey   string
	Event    *nostr.Event
	Metadata *internalnostr.ProfileMetadata
	Posts    []*nostr.Event
}

// Name returns the display name, falling back to a shortened pubkey
func (v *ProfileView) Name() string {
	if v.Metadata != nil {
		if name := v.Metadata.BestName(); name != "" {
			return name
		}
	}
	if len(v.Pubkey) > 12 {
		return v.Pubkey[:12]
	}
	return v.Pubkey
}

// Service serves timelines through the gateway
type Service struct {
	gateway *internalnostr.Gateway
	graph   *social.Graph
	noise   config.NoiseFilters
	logger  *ops.Logger
	now     func() time.Time

	feedDeadline   time.Duration
	lookupDeadline time.Duration
}

// NewService creates a feed service; graph is needed only for following feeds
func NewService(gw *internalnostr.Gateway, graph *social.Graph, inbox *config.Inbox, logger *ops.Logger) *Service {
	if logger == nil {
		logger = ops.Default()
	}
	s := &Service{
		gateway:        gw,
		graph:          graph,
		logger:         logger.WithComponent("feed"),
		now:            time.Now,
		feedDeadline:   internalnostr.DeadlineAggregate,
		lookupDeadline: internalnostr.DeadlineNotifications,
	}
	if inbox != nil {
		s.noise = inbox.NoiseFilters
	}
	return s
}

// WithDeadlines overrides the feed and profile/notification deadlines
func (s *Service) WithDeadlines(feed, lookup time.Duration) *Service {
	if feed > 0 {
		s.feedDeadline = feed
	}
	if lookup > 0 {
		s.lookupDeadline = lookup
	}
	return s
}

// Feed returns a page of notes and reposts for viewer
func (s *Service) Feed(ctx context.Context, viewer string, opts Options) (*Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	authors, err := s.resolveAuthors(ctx, viewer, opts)
	if err != nil {
		return nil, err
	}
	if authors != nil && len(authors) == 0 {
		return &Page{}, nil
	}

	filter := nostr.Filter{
		Kinds:   FeedKinds,
		Authors: authors,
		Limit:   limit,
	}
	// Fetch extra when post-filtering for replies/roots to avoid short pages
	if opts.IsReply != nil {
		filter.Limit = limit * 3
	}
	if opts.Until != nil {
		until := nostr.Timestamp(opts.Until.Unix())
		filter.Until = &until
	}
	if tag := strings.TrimPrefix(strings.ToLower(opts.Hashtag), "#"); tag != "" {
		filter.Tags = nostr.TagMap{"t": {tag}}
	}

	events := s.gateway.Query(ctx, nostr.Filters{filter}, s.feedDeadline)
	fetched := len(events)
	events = s.sane(events)
	events = s.dropDeleted(ctx, events)
	events = applyIsReplyFilter(events, opts.IsReply)
	if len(events) > limit {
		events = events[:limit]
	}

	page := &Page{Events: events}
	if fetched >= filter.Limit && len(events) > 0 {
		page.Next = events[len(events)-1].CreatedAt - 1
	}
	s.logger.Debug("feed assembled",
		"scope", string(opts.Scope),
		"authors", len(authors),
		"fetched", fetched,
		"shown", len(events))
	return page, nil
}

// resolveAuthors returns nil for an unrestricted feed
func (s *Service) resolveAuthors(ctx context.Context, viewer string, opts Options) ([]string, error) {
	if len(opts.Authors) > 0 {
		authors := make([]string, 0, len(opts.Authors))
		seen := make(map[string]bool)
		for _, a := range opts.Authors {
			pk, err := normalizeAuthor(a, viewer)
			if err != nil {
				return nil, err
			}
			if !seen[pk] {
				seen[pk] = true
				authors = append(authors, pk)
			}
		}
		return authors, nil
	}

	switch opts.Scope {
	case ScopeFollowing:
		if viewer == "" {
			return nil, fmt.Errorf("following feed: %w", internalnostr.ErrUnauthenticated)
		}
		if s.graph == nil {
			return nil, errors.New("following feed needs a social graph")
		}
		return s.graph.ResolveFollowing(ctx, viewer), nil
	case ScopeSelf:
		if viewer == "" {
			return nil, fmt.Errorf("own feed: %w", internalnostr.ErrUnauthenticated)
		}
		return []string{viewer}, nil
	default:
		return nil, nil
	}
}

// normalizeAuthor converts npub to hex and the self/owner alias to viewer
func normalizeAuthor(author, viewer string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(author))
	if lower == "self" || lower == "owner" {
		if viewer == "" {
			return "", internalnostr.ErrUnauthenticated
		}
		return viewer, nil
	}
	return internalnostr.DecodePubkey(author)
}

// sane drops events with impossible timestamps
func (s *Service) sane(events []*nostr.Event) []*nostr.Event {
	horizon := nostr.Timestamp(s.now().Add(MaxClockSkew).Unix())
	out := events[:0:0]
	for _, ev := range events {
		if ev.CreatedAt <= 0 || ev.CreatedAt > horizon {
			s.logger.Debug("dropping event with implausible timestamp", "event_id", ev.ID, "created_at", ev.CreatedAt)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (s *Service) dropDeleted(ctx context.Context, events []*nostr.Event) []*nostr.Event {
	if len(events) == 0 {
		return events
	}
	gone := s.gateway.Tombstoned(ctx, events, s.lookupDeadline)
	if len(gone) == 0 {
		return events
	}
	out := make([]*nostr.Event, 0, len(events)-len(gone))
	for _, ev := range events {
		if !gone[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

func applyIsReplyFilter(events []*nostr.Event, isReply *bool) []*nostr.Event {
	if isReply == nil {
		return events
	}

	filtered := make([]*nostr.Event, 0, len(events))
	for _, event := range events {
		info, err := aggregates.ParseThreadInfo(event)
		if err != nil {
			// Treat non-threadable kinds as roots
			if !*isReply {
				filtered = append(filtered, event)
			}
			continue
		}

		if info.IsReply() == *isReply {
			filtered = append(filtered, event)
		}
	}

	return filtered
}

// outbox is the default relay set plus a few of pubkey's write relays
func (s *Service) outbox(ctx context.Context, pubkey string) []string {
	urls := s.gateway.URLs()
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		seen[u] = true
	}
	added := 0
	for _, u := range internalnostr.NewDiscovery(s.gateway, s.lookupDeadline).OutboxRelays(ctx, pubkey) {
		u = nostr.NormalizeURL(u)
		if added == maxOutboxRelays || u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		added++
	}
	return urls
}

// Profile returns pubkey's metadata and most recent posts, which are also
// read from the author's write relays. A missing or malformed profile leaves
// Metadata nil.
func (s *Service) Profile(ctx context.Context, pubkey string) (*ProfileView, error) {
	pk, err := internalnostr.DecodePubkey(pubkey)
	if err != nil {
		return nil, err
	}
	view := &ProfileView{Pubkey: pk}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.Go(func() error {
		ev := s.gateway.Latest(ctx, pk, internalnostr.KindProfile, s.lookupDeadline)
		if ev == nil {
			return nil
		}
		meta, err := internalnostr.ParseProfile(ev)
		if err != nil {
			s.logger.Warn("unreadable profile", "pubkey", pk, "event_id", ev.ID, "error", err)
		}
		mu.Lock()
		view.Event, view.Metadata = ev, meta
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		posts := s.gateway.QueryFrom(ctx, s.outbox(ctx, pk), nostr.Filters{{
			Kinds:   []int{internalnostr.KindNote},
			Authors: []string{pk},
			Limit:   ProfilePostLimit,
		}}, s.lookupDeadline)
		posts = s.sane(posts)
		if len(posts) > ProfilePostLimit {
			posts = posts[:ProfilePostLimit]
		}
		mu.Lock()
		view.Posts = posts
		mu.Unlock()
		return nil
	})
	_ = eg.Wait()

	return view, nil
}

// Notifications returns the notes of the last day that mention viewer
func (s *Service) Notifications(ctx context.Context, viewer string) ([]*nostr.Event, error) {
	if viewer == "" {
		return nil, fmt.Errorf("notifications: %w", internalnostr.ErrUnauthenticated)
	}

	since := nostr.Timestamp(s.now().Add(-RecentWindow).Unix())
	events := s.gateway.Query(ctx, nostr.Filters{{
		Kinds: []int{internalnostr.KindNote},
		Tags:  nostr.TagMap{"p": {viewer}},
		Since: &since,
		Limit: DefaultLimit,
	}}, s.lookupDeadline)

	events = s.sane(events)
	out := make([]*nostr.Event, 0, len(events))
	for _, ev := range events {
		if ev.CreatedAt < since || !aggregates.IsMentioningPubkey(ev, viewer) {
			continue
		}
		if s.noise.HideOwnEvents && ev.PubKey == viewer {
			continue
		}
		out = append(out, ev)
	}
	if len(out) > DefaultLimit {
		out = out[:DefaultLimit]
	}
	return out, nil
}
