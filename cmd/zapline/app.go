package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/sandwichfarm/zapline/internal/aggregates"
	"github.com/sandwichfarm/zapline/internal/cache"
	"github.com/sandwichfarm/zapline/internal/config"
	"github.com/sandwichfarm/zapline/internal/entities"
	"github.com/sandwichfarm/zapline/internal/feed"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
	"github.com/sandwichfarm/zapline/internal/social"
)

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	logger  *ops.Logger
	metrics *ops.Metrics
	prefs   *config.PrefStore
	store   cache.Store
	client  *internalnostr.Client
	gateway *internalnostr.Gateway

	// signer is nil without ZAPLINE_NSEC; viewer may still be set from the npub
	signer internalnostr.Signer
	viewer string

	out    io.Writer
	format string
}

func newApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: ops.NewMetrics(),
		out:     cmd.OutOrStdout(),
		format:  opts.Format,
	}

	switch {
	case cfg.Identity.Nsec != "":
		signer, err := internalnostr.NewKeySigner(cfg.Identity.Nsec)
		if err != nil {
			return nil, fmt.Errorf("invalid ZAPLINE_NSEC: %w", err)
		}
		a.signer = signer
		a.viewer, _ = signer.GetPublicKey(ctx)
	case cfg.Identity.Npub != "":
		pk, err := internalnostr.DecodePubkey(cfg.Identity.Npub)
		if err != nil {
			return nil, fmt.Errorf("invalid identity npub: %w", err)
		}
		a.viewer = pk
	}

	preferred := ""
	if len(cfg.Relays.Seeds) > 0 {
		preferred = cfg.Relays.Seeds[0]
	}
	a.prefs = config.LoadPreferences(cfg.Preferences.Path, config.DefaultPreferences(preferred), logger.Logger)

	a.store, err = cache.New(&cfg.Caching)
	if err != nil {
		return nil, err
	}

	policy := cfg.Relays.Policy
	a.client = internalnostr.New(ctx, &cfg.Relays)
	gwOpts := []internalnostr.GatewayOption{
		internalnostr.WithLogger(logger),
		internalnostr.WithMetrics(a.metrics),
		internalnostr.WithPublishPolicy(policy.PublishAttempts, policy.PublishBackoff(), policy.PublishTimeout()),
		internalnostr.WithDialer(a.client.Endpoint),
	}
	if a.store != nil {
		gwOpts = append(gwOpts, internalnostr.WithCache(a.store, func(key string) time.Duration {
			family, _, _ := strings.Cut(key, ":")
			return cfg.Caching.TTLFor(family)
		}))
	}
	a.gateway = internalnostr.NewGateway(a.client.Endpoints(a.relays()), gwOpts...)

	logger.Debug("zapline ready",
		"relays", len(a.gateway.URLs()),
		"cache", cfg.Caching.Engine,
		"signer", a.signer != nil)
	return a, nil
}

// relays is the preferred relay followed by the seeds
func (a *app) relays() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, raw := range append([]string{a.prefs.Get().RelayURL}, a.client.GetSeedRelays()...) {
		u := nostr.NormalizeURL(raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

func (a *app) Close() {
	a.client.Close()
	if c, ok := a.store.(io.Closer); ok {
		_ = c.Close()
	}
}

func withApp(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (a *app) graph() *social.Graph {
	return social.NewGraph(a.gateway, a.signer, &a.cfg.Feed.Scope, a.cfg.Relays.Policy.LookupTimeout(), a.logger)
}

func (a *app) aggregates() *aggregates.Manager {
	return aggregates.NewManager(a.gateway, a.signer, a.cfg, a.logger)
}

func (a *app) feed() *feed.Service {
	return feed.NewService(a.gateway, a.graph(), &a.cfg.Inbox, a.logger).
		WithDeadlines(a.cfg.Relays.Policy.AggregateTimeout(), a.cfg.Relays.Policy.NotificationTimeout())
}

// pubkeyArg decodes args[0] or falls back to the viewer
func (a *app) pubkeyArg(args []string) (string, error) {
	if len(args) > 0 {
		return internalnostr.DecodePubkey(args[0])
	}
	if a.viewer == "" {
		return "", fmt.Errorf("no pubkey given and no identity configured: %w", internalnostr.ErrUnauthenticated)
	}
	return a.viewer, nil
}

// target looks up the event ref points at
func (a *app) target(ctx context.Context, ref string) (aggregates.Target, error) {
	id, err := internalnostr.DecodeEventID(ref)
	if err != nil {
		return aggregates.Target{}, err
	}
	ev := a.gateway.FetchEvent(ctx, id, a.cfg.Relays.Policy.LookupTimeout())
	if ev == nil {
		return aggregates.Target{}, fmt.Errorf("event %s not found on %d relays", id, len(a.gateway.URLs()))
	}
	return aggregates.TargetFromEvent(ev), nil
}

// emit writes v as JSON or runs text
func (a *app) emit(v any, text func(w io.Writer)) error {
	if a.format == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

func npub(pk string) string {
	if s, err := nip19.EncodePublicKey(pk); err == nil {
		return s
	}
	return pk
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func firstLine(s string, limit int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}

// names resolves authors and mentions for text output; JSON output skips it
func (a *app) names(ctx context.Context, events []*nostr.Event) *entities.Names {
	if a.format == "json" || len(events) == 0 {
		return nil
	}
	return entities.NewResolver(a.gateway, a.cfg.Relays.Policy.LookupTimeout()).Resolve(ctx, events)
}

func printEvent(w io.Writer, names *entities.Names, indent string, ev *nostr.Event) {
	fmt.Fprintf(w, "%s%s  %s  %-20s  %s\n",
		indent,
		ev.CreatedAt.Time().Format("2006-01-02 15:04"),
		short(ev.ID),
		firstLine(names.Name(ev.PubKey), 20),
		firstLine(names.Replace(ev.Content), 80))
}

func printReport(w io.Writer, report internalnostr.PublishReport) {
	fmt.Fprintf(w, "  accepted by %d of %d relays\n", len(report.AcceptedBy()), len(report.Outcomes))
	for _, o := range report.Failed() {
		fmt.Fprintf(w, "  ✗ %s: %v\n", o.URL, o.Err)
	}
}
