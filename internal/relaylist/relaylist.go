// Package relaylist publishes an identity's NIP-65 relay list and carries its
// profile and follow list along to the relays it declares.
package relaylist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapline/internal/config"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// SyncReport is the outcome of one relay list sync. Publish reports are kept
// per event so callers can see exactly which relay missed what.
type SyncReport struct {
	Identity    string
	Declaration *nostr.Event
	// Previous is the relay list the declaration replaces, empty when none was found
	Previous []*internalnostr.RelayHint
	// Targets is the union of active, previous and declared relays everything was sent to
	Targets []string

	DeclarationReport internalnostr.PublishReport
	// Republished holds the profile and follow list events found, in that order
	Republished []*nostr.Event
	Reports     []internalnostr.PublishReport
}

// OK reports whether at least one relay accepted the new declaration
func (r *SyncReport) OK() bool {
	return r.DeclarationReport.OK()
}

// Failures lists, per relay, the ids of events it did not accept
func (r *SyncReport) Failures() map[string][]string {
	failures := make(map[string][]string)
	collect := func(rep internalnostr.PublishReport) {
		for _, o := range rep.Failed() {
			failures[o.URL] = append(failures[o.URL], rep.EventID)
		}
	}
	collect(r.DeclarationReport)
	for _, rep := range r.Reports {
		collect(rep)
	}
	return failures
}

// Publisher syncs relay lists through the gateway
type Publisher struct {
	gateway  *internalnostr.Gateway
	signer   internalnostr.Signer
	prefs    *config.PrefStore
	deadline time.Duration
	logger   *ops.Logger
}

// NewPublisher creates a relay list publisher; prefs may be nil
func NewPublisher(gw *internalnostr.Gateway, signer internalnostr.Signer, prefs *config.PrefStore, deadline time.Duration, logger *ops.Logger) *Publisher {
	if deadline <= 0 {
		deadline = internalnostr.DeadlineLookup
	}
	if logger == nil {
		logger = ops.Default()
	}
	return &Publisher{
		gateway:  gw,
		signer:   signer,
		prefs:    prefs,
		deadline: deadline,
		logger:   logger.WithComponent("relaylist"),
	}
}

// NormalizeHints validates and deduplicates hints by normalized url. Duplicate
// entries merge their read and write flags; an entry with neither is both.
func NormalizeHints(hints []*internalnostr.RelayHint) ([]*internalnostr.RelayHint, error) {
	out := make([]*internalnostr.RelayHint, 0, len(hints))
	index := make(map[string]int, len(hints))
	for _, h := range hints {
		if h == nil {
			continue
		}
		u, err := NormalizeURL(h.Relay)
		if err != nil {
			return nil, err
		}
		read, write := h.CanRead, h.CanWrite
		if !read && !write {
			read, write = true, true
		}
		if i, ok := index[u]; ok {
			out[i].CanRead = out[i].CanRead || read
			out[i].CanWrite = out[i].CanWrite || write
			continue
		}
		index[u] = len(out)
		out = append(out, &internalnostr.RelayHint{Relay: u, CanRead: read, CanWrite: write})
	}
	if len(out) == 0 {
		return nil, errors.New("relay list is empty")
	}
	return out, nil
}

func union(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, raw := range set {
			u := nostr.NormalizeURL(raw)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// SyncEndpoints declares newSet as identity's relay list. The declaration,
// the latest profile and the latest follow list are published to the active
// relays and to every relay of the previous and the new list. Relays that refuse are reported and
// logged; only authorization, validation and signing problems are errors.
func (p *Publisher) SyncEndpoints(ctx context.Context, identity string, newSet []*internalnostr.RelayHint) (*SyncReport, error) {
	if err := internalnostr.RequireOwnIdentity(ctx, p.signer, identity); err != nil {
		return nil, err
	}
	hints, err := NormalizeHints(newSet)
	if err != nil {
		return nil, err
	}
	declared := internalnostr.HintURLs(hints, nil)

	report := &SyncReport{Identity: identity}

	lookup := union(p.gateway.URLs(), declared)
	current := p.gateway.LatestFrom(ctx, lookup, identity, internalnostr.KindRelayList, p.deadline)
	if current != nil {
		if prev, err := internalnostr.ParseRelayHints(current); err == nil {
			report.Previous = prev
		}
	}
	report.Targets = union(p.gateway.URLs(), internalnostr.HintURLs(report.Previous, nil), declared)

	draft := internalnostr.BuildRelayListEvent(hints)
	if current != nil && draft.CreatedAt <= current.CreatedAt {
		draft.CreatedAt = current.CreatedAt + 1
	}
	rep, err := p.gateway.SignAndPublish(ctx, p.signer, draft, report.Targets)
	if err != nil && !errors.Is(err, internalnostr.ErrNotAccepted) {
		return nil, fmt.Errorf("failed to publish relay list: %w", err)
	}
	report.Declaration = draft
	report.DeclarationReport = rep
	if err != nil {
		p.logger.Warn("relay list not accepted by any relay",
			"identity", identity,
			"targets", len(report.Targets))
	}

	// Profile and follow list are carried over exactly as signed
	factSources := union(lookup, report.Targets)
	for _, kind := range []int{internalnostr.KindProfile, internalnostr.KindContacts} {
		ev := p.gateway.LatestFrom(ctx, factSources, identity, kind, p.deadline)
		if ev == nil {
			continue
		}
		r := p.gateway.Publish(ctx, ev, report.Targets)
		report.Republished = append(report.Republished, ev)
		report.Reports = append(report.Reports, r)
		if failed := r.Failed(); len(failed) > 0 {
			p.logger.Warn("republish partially failed",
				"kind", kind,
				"event_id", ev.ID,
				"accepted", len(r.AcceptedBy()),
				"failed", len(failed))
		}
	}

	p.rememberRelay(hints)

	p.logger.Info("relay list synced",
		"identity", identity,
		"declared", len(hints),
		"previous", len(report.Previous),
		"targets", len(report.Targets),
		"event_id", draft.ID)
	return report, nil
}

// rememberRelay stores the first writable declared relay as the preferred relay
func (p *Publisher) rememberRelay(hints []*internalnostr.RelayHint) {
	if p.prefs == nil {
		return
	}
	preferred := hints[0].Relay
	for _, h := range hints {
		if h.CanWrite {
			preferred = h.Relay
			break
		}
	}
	if err := p.prefs.Update(func(lp *config.LocalPreferences) { lp.RelayURL = preferred }); err != nil {
		p.logger.Warn("failed to persist preferred relay", "relay", preferred, "error", err)
	}
}
