package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check relay reachability, the cache and the configured identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				collector := ops.NewDiagnosticsCollector(version, commit, a.probeRelay)
				if a.store != nil {
					collector.SetCache(a.cfg.Caching.Engine, func(ctx context.Context) error {
						if err := a.store.Set(ctx, "diag:ping", []byte("1"), time.Minute); err != nil {
							return err
						}
						_, ok, err := a.store.Get(ctx, "diag:ping")
						if err == nil && !ok {
							err = fmt.Errorf("written key not found")
						}
						return err
					})
				}

				identity := ""
				if a.viewer != "" {
					identity = npub(a.viewer)
					if a.signer == nil {
						identity += " (read-only)"
					}
				}

				diag := collector.CollectAll(ctx, identity, a.gateway.URLs())
				return a.emit(diag, func(w io.Writer) {
					fmt.Fprint(w, diag.FormatAsText())
				})
			})
		},
	}
}

// probeRelay times one small query and reads the relay information document
func (a *app) probeRelay(ctx context.Context, url string) ops.RelayHealth {
	deadline := a.cfg.Relays.Policy.LookupTimeout()
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	h := ops.RelayHealth{URL: url}
	start := time.Now()
	_, err := a.client.Endpoint(url).Query(ctx, nostr.Filters{{Kinds: []int{internalnostr.KindNote}, Limit: 1}})
	h.Latency = time.Since(start)
	a.metrics.ObserveQuery(url, h.Latency, 0, err)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Reachable = true

	info, err := internalnostr.NewRelayInfoFetcher(deadline, a.store).Fetch(ctx, url)
	if err != nil {
		a.logger.Debug("no relay information document", "relay", url, "error", err)
		return h
	}
	h.Name, h.Software, h.SupportedNIPs = info.Name, info.Software, info.SupportedNIPs
	return h
}
