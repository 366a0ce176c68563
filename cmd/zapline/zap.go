package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/zapline/internal/aggregates"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/zap"
)

// zapOutcome is the printable result of a zap
type zapOutcome struct {
	Session   string           `json:"session"`
	State     zap.State        `json:"state"`
	Channel   string           `json:"channel,omitempty"`
	Invoice   string           `json:"invoice,omitempty"`
	AmountSat int64            `json:"amount_sats"`
	ReceiptID string           `json:"receipt_id,omitempty"`
	Error     string           `json:"error,omitempty"`
	History   []zap.Transition `json:"history"`
}

func outcomeOf(s *zap.Session) zapOutcome {
	o := zapOutcome{
		Session:   s.ID,
		State:     s.State(),
		Invoice:   s.Invoice(),
		AmountSat: s.AmountSats,
		History:   s.History(),
	}
	if s.State() == zap.StateSettled {
		o.Channel = s.Channel().String()
	}
	if r := s.Receipt(); r != nil {
		o.ReceiptID = r.ID
	}
	if err := s.Err(); err != nil {
		o.Error = err.UserMessage()
	}
	return o
}

func newZapCommand(opts *RootOptions) *cobra.Command {
	var (
		amount  int64
		comment string
		noWait  bool
	)

	cmd := &cobra.Command{
		Use:   "zap <note|nevent|npub|nprofile>",
		Short: "Zap an event or a profile",
		Long: `Zap an event or a profile.

The zap is paid through the wallet connection (ZAPLINE_NWC_URI) or the
configured payment command when available. Otherwise the invoice is printed
and zapline waits for the recipient's receipt until the confirmation window
closes. Interrupting the wait abandons the zap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if amount <= 0 {
					amount = a.cfg.Zaps.DefaultAmountSats
				}
				params := zap.Params{AmountSats: amount, Comment: comment}

				ref := args[0]
				if strings.HasPrefix(ref, "npub1") || strings.HasPrefix(ref, "nprofile1") {
					pk, err := internalnostr.DecodePubkey(ref)
					if err != nil {
						return err
					}
					params.Recipient = pk
				} else {
					target, err := a.target(ctx, ref)
					if err != nil {
						return err
					}
					params.Target = target
				}

				engine, err := a.zapEngine()
				if err != nil {
					return err
				}

				s, serr := engine.Zap(ctx, params)
				if serr != nil {
					return serr
				}

				if s.State() == zap.StateAwaitingManualPayment {
					if a.format == "text" {
						fmt.Fprintf(a.out, "pay this invoice to zap %d sats:\n\nlightning:%s\n\n", amount, s.Invoice())
					}
					if noWait {
						return a.emit(outcomeOf(s), func(w io.Writer) {})
					}
					if a.format == "text" {
						fmt.Fprintln(a.out, "waiting for the receipt (Ctrl+C to abandon)...")
					}
				}

				_, serr = s.Wait(ctx)
				if ctx.Err() != nil {
					s.Cancel()
					serr = s.Err()
				}
				out := outcomeOf(s)
				if err := a.emit(out, func(w io.Writer) {
					switch out.State {
					case zap.StateSettled:
						fmt.Fprintf(w, "⚡ zapped %d sats via %s\n", amount, out.Channel)
					default:
						fmt.Fprintf(w, "zap %s\n", out.State)
					}
				}); err != nil {
					return err
				}
				if serr != nil {
					return serr
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "amount in sats (default from config)")
	cmd.Flags().StringVarP(&comment, "message", "m", "", "zap comment")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the invoice and exit without waiting for a receipt")
	return cmd
}

func (a *app) zapEngine() (*zap.Engine, error) {
	channels, err := zap.ChannelsFromConfig(&a.cfg.Zaps, a.logger)
	if err != nil {
		return nil, err
	}
	return zap.NewEngine(a.gateway, a.signer, zap.NewLNURLResolver(a.cfg.Zaps.InvoiceTimeout()), &a.cfg.Zaps,
		zap.WithChannels(channels...),
		zap.WithLogger(a.logger),
		zap.WithMetrics(a.metrics),
		zap.WithDeadlines(a.cfg.Relays.Policy.LookupTimeout(), a.cfg.Relays.Policy.AggregateTimeout()),
	), nil
}

func newZapsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "zaps <note|nevent|hex>",
		Short: "Show zap totals for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				target, err := a.target(ctx, args[0])
				if err != nil {
					return err
				}
				agg := a.aggregates().GetEventAggregates(ctx, target, a.viewer)
				return a.emit(agg, func(w io.Writer) {
					if !agg.HasInteractions() {
						fmt.Fprintln(w, "no interactions yet")
						return
					}
					fmt.Fprintf(w, "⚡ %s sats in %d zaps", aggregates.FormatSats(agg.Zaps.TotalSats), agg.Zaps.Count)
					if agg.Zaps.Unparsed > 0 {
						fmt.Fprintf(w, " (%d without amount)", agg.Zaps.Unparsed)
					}
					fmt.Fprintln(w)
					fmt.Fprintf(w, "♥ %d reactions, ↻ %d reposts, %d replies\n",
						agg.Reactions.Count, agg.Reposts.Count, agg.ReplyCount)
				})
			})
		},
	}
}
