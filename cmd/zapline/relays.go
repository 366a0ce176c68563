package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/relaylist"
)

func newRelaysCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relays",
		Short: "Inspect and publish relay lists",
	}
	cmd.AddCommand(newRelaysSyncCommand(opts))
	cmd.AddCommand(newRelaysShowCommand(opts))
	cmd.AddCommand(newRelaysInfoCommand(opts))
	return cmd
}

func newRelaysSyncCommand(opts *RootOptions) *cobra.Command {
	var readOnly, writeOnly []string

	cmd := &cobra.Command{
		Use:   "sync [relay...]",
		Short: "Publish your relay list and carry your profile and follows to it",
		Long: `Publish a new relay list (kind 10002). Positional relays are used for
reading and writing; --read and --write add single-purpose relays.

The new list, your latest profile and your latest follow list are sent to
every relay of the old and the new list. Relays that refuse are reported
but do not fail the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var hints []*internalnostr.RelayHint
			for _, u := range args {
				hints = append(hints, &internalnostr.RelayHint{Relay: u, CanRead: true, CanWrite: true})
			}
			for _, u := range readOnly {
				hints = append(hints, &internalnostr.RelayHint{Relay: u, CanRead: true})
			}
			for _, u := range writeOnly {
				hints = append(hints, &internalnostr.RelayHint{Relay: u, CanWrite: true})
			}
			if len(hints) == 0 {
				return fmt.Errorf("no relays given")
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				p := relaylist.NewPublisher(a.gateway, a.signer, a.prefs, a.cfg.Relays.Policy.LookupTimeout(), a.logger)
				report, err := p.SyncEndpoints(ctx, a.viewer, hints)
				if err != nil {
					return fmt.Errorf("relay sync failed: %w", err)
				}
				return a.emit(report, func(w io.Writer) {
					fmt.Fprintf(w, "relay list %s sent to %d relays\n", short(report.Declaration.ID), len(report.Targets))
					printReport(w, report.DeclarationReport)
					for i, ev := range report.Republished {
						fmt.Fprintf(w, "kind %d %s\n", ev.Kind, short(ev.ID))
						printReport(w, report.Reports[i])
					}
					if !report.OK() {
						fmt.Fprintln(w, "warning: no relay accepted the new relay list")
					}
				})
			})
		},
	}

	cmd.Flags().StringSliceVar(&readOnly, "read", nil, "relay used for reading only")
	cmd.Flags().StringSliceVar(&writeOnly, "write", nil, "relay used for writing only")
	return cmd
}

func newRelaysShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [npub|hex]",
		Short: "Show a pubkey's declared relays (default: you)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pk, err := a.pubkeyArg(args)
				if err != nil {
					return err
				}
				d := internalnostr.NewDiscovery(a.gateway, a.cfg.Relays.Policy.LookupTimeout())
				hints := d.RelayHints(ctx, pk, nil)
				return a.emit(hints, func(w io.Writer) {
					if len(hints) == 0 {
						fmt.Fprintln(w, "no relay list found")
						return
					}
					for _, h := range hints {
						mode := "read+write"
						switch {
						case h.CanRead && !h.CanWrite:
							mode = "read"
						case h.CanWrite && !h.CanRead:
							mode = "write"
						}
						fmt.Fprintf(w, "%-40s %s\n", h.Relay, mode)
					}
				})
			})
		},
	}
}

// relayFeatures are the NIPs zapline depends on
var relayFeatures = []struct {
	nip  int
	name string
}{
	{9, "deletions (NIP-09)"},
	{25, "reactions (NIP-25)"},
	{57, "zap receipts (NIP-57)"},
	{65, "relay lists (NIP-65)"},
}

func newRelaysInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <relay>",
		Short: "Fetch a relay's NIP-11 information document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := relaylist.NormalizeURL(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				fetcher := internalnostr.NewRelayInfoFetcher(a.client.GetDefaultTimeout(), a.store)
				info, err := fetcher.Fetch(ctx, url)
				if err != nil {
					return err
				}
				return a.emit(info, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s)\n", info.Name, url)
					if info.Description != "" {
						fmt.Fprintln(w, info.Description)
					}
					if info.Software != "" {
						fmt.Fprintf(w, "software: %s %s\n", info.Software, info.Version)
					}
					nips := append([]int(nil), info.SupportedNIPs...)
					sort.Ints(nips)
					fmt.Fprintf(w, "nips: %v\n", nips)
					for _, f := range relayFeatures {
						mark := "no"
						if info.SupportsNIP(f.nip) {
							mark = "yes"
						}
						fmt.Fprintf(w, "  %-28s %s\n", f.name, mark)
					}
				})
			})
		},
	}
}
