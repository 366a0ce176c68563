package feed

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
)

const (
	// MinQueryLength is the shortest accepted search term
	MinQueryLength = 2

	searchNoteLimit    = 20
	searchProfileLimit = 10
	// profile candidates per search, matched locally
	searchProfileFetch = 50

	exploreNoteFetch     = 30
	exploreProfileFetch  = 20
	exploreLongFormFetch = 10
	explorePostLimit     = 20
	exploreMediaLimit    = 10
	exploreProfileLimit  = 10
	exploreAuthorLimit   = 15
	exploreMinContent    = 5
)

// ErrQueryTooShort is returned for search terms under MinQueryLength characters
var ErrQueryTooShort = errors.New("search query too short")

var (
	imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s]+\.(jpg|jpeg|png|gif|webp)`)
	urlPattern      = regexp.MustCompile(`(?i)https?://[^\s]+`)
)

// SearchResults are the notes and profiles matching a term
type SearchResults struct {
	Query    string
	Notes    []*nostr.Event
	Profiles []*ProfileView
}

// Explore is a sample of recent network activity
type Explore struct {
	Posts      []*nostr.Event
	WithImages []*nostr.Event
	WithLinks  []*nostr.Event
	LongForm   []*nostr.Event
	Profiles   []*ProfileView
	Authors    []string
}

// Search asks relays for notes and profiles matching query (NIP-50) and keeps
// those whose text actually contains it, case-insensitively.
func (s *Service) Search(ctx context.Context, query string) (*SearchResults, error) {
	term := strings.ToLower(strings.TrimSpace(query))
	if len([]rune(term)) < MinQueryLength {
		return nil, ErrQueryTooShort
	}
	results := &SearchResults{Query: term}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.Go(func() error {
		events := s.gateway.Query(ctx, nostr.Filters{{
			Kinds:  []int{internalnostr.KindNote},
			Search: term,
			Limit:  searchNoteLimit,
		}}, s.feedDeadline)

		notes := make([]*nostr.Event, 0, len(events))
		for _, ev := range s.sane(events) {
			if ev.Kind == internalnostr.KindNote && strings.Contains(strings.ToLower(ev.Content), term) {
				notes = append(notes, ev)
			}
		}
		if len(notes) > searchNoteLimit {
			notes = notes[:searchNoteLimit]
		}
		mu.Lock()
		results.Notes = notes
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		events := s.gateway.Query(ctx, nostr.Filters{{
			Kinds:  []int{internalnostr.KindProfile},
			Search: term,
			Limit:  searchProfileFetch,
		}}, s.feedDeadline)

		profiles := s.profiles(events, searchProfileLimit, func(m *internalnostr.ProfileMetadata) bool {
			for _, field := range []string{m.Name, m.DisplayName, m.About, m.Nip05} {
				if strings.Contains(strings.ToLower(field), term) {
					return true
				}
			}
			return false
		})
		mu.Lock()
		results.Profiles = profiles
		mu.Unlock()
		return nil
	})
	_ = eg.Wait()

	s.logger.Debug("search finished", "query", term, "notes", len(results.Notes), "profiles", len(results.Profiles))
	return results, nil
}

// Explore samples recent notes, profile updates and long-form articles
func (s *Service) Explore(ctx context.Context) *Explore {
	var notes, profiles, longForm []*nostr.Event

	var eg errgroup.Group
	query := func(dst *[]*nostr.Event, kind, limit int) {
		eg.Go(func() error {
			*dst = s.sane(s.gateway.Query(ctx, nostr.Filters{{Kinds: []int{kind}, Limit: limit}}, s.feedDeadline))
			return nil
		})
	}
	query(&notes, internalnostr.KindNote, exploreNoteFetch)
	query(&profiles, internalnostr.KindProfile, exploreProfileFetch)
	query(&longForm, internalnostr.KindLongForm, exploreLongFormFetch)
	_ = eg.Wait()

	ex := &Explore{
		LongForm: longForm,
		Profiles: s.profiles(profiles, exploreProfileLimit, nil),
	}

	seen := make(map[string]bool)
	for _, ev := range notes {
		if len(strings.TrimSpace(ev.Content)) <= exploreMinContent {
			continue
		}
		if len(ex.Posts) < explorePostLimit {
			ex.Posts = append(ex.Posts, ev)
		}
		switch {
		case imageURLPattern.MatchString(ev.Content):
			if len(ex.WithImages) < exploreMediaLimit {
				ex.WithImages = append(ex.WithImages, ev)
			}
		case urlPattern.MatchString(ev.Content):
			if len(ex.WithLinks) < exploreMediaLimit {
				ex.WithLinks = append(ex.WithLinks, ev)
			}
		}
		if !seen[ev.PubKey] && len(ex.Authors) < exploreAuthorLimit {
			seen[ev.PubKey] = true
			ex.Authors = append(ex.Authors, ev.PubKey)
		}
	}

	s.logger.Debug("explore sampled",
		"notes", len(notes),
		"posts", len(ex.Posts),
		"profiles", len(ex.Profiles),
		"long_form", len(ex.LongForm))
	return ex
}

// profiles keeps the newest readable profile per author, in event order, up
// to limit. match may be nil.
func (s *Service) profiles(events []*nostr.Event, limit int, match func(*internalnostr.ProfileMetadata) bool) []*ProfileView {
	internalnostr.SortNewestFirst(events)

	views := make([]*ProfileView, 0, limit)
	seen := make(map[string]bool)
	for _, ev := range events {
		if len(views) == limit {
			break
		}
		if ev.Kind != internalnostr.KindProfile || seen[ev.PubKey] {
			continue
		}
		seen[ev.PubKey] = true

		meta, err := internalnostr.ParseProfile(ev)
		if err != nil {
			s.logger.Debug("skipping unreadable profile", "event_id", ev.ID, "error", err)
			continue
		}
		if match != nil && !match(meta) {
			continue
		}
		views = append(views, &ProfileView{Pubkey: ev.PubKey, Event: ev, Metadata: meta})
	}
	return views
}
