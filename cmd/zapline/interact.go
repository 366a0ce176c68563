package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/sandwichfarm/zapline/internal/aggregates"
	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
)

func newReactCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "react <note|nevent|hex>",
		Short: "Toggle your like on an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				target, err := a.target(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := a.aggregates().Reactions.ToggleReaction(ctx, target)
				if err != nil {
					return fmt.Errorf("reaction failed: %w", err)
				}
				return a.emit(res, func(w io.Writer) {
					if res.Active {
						fmt.Fprintf(w, "liked %s\n", short(target.ID))
					} else {
						fmt.Fprintf(w, "removed like from %s\n", short(target.ID))
					}
					printReport(w, res.Report)
				})
			})
		},
	}
}

func newRepostCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repost <note|nevent|hex>",
		Short: "Toggle your repost of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				target, err := a.target(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := a.aggregates().Reposts.ToggleRepost(ctx, target)
				if err != nil {
					return fmt.Errorf("repost failed: %w", err)
				}
				return a.emit(res, func(w io.Writer) {
					if res.Active {
						fmt.Fprintf(w, "reposted %s as kind %d\n", short(target.ID), res.Event.Kind)
					} else {
						fmt.Fprintf(w, "undid repost of %s\n", short(target.ID))
					}
					printReport(w, res.Report)
				})
			})
		},
	}
}

func newRepliesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replies <note|nevent|hex>",
		Short: "List the direct replies to an event, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				id, err := internalnostr.DecodeEventID(args[0])
				if err != nil {
					return err
				}
				replies := a.aggregates().Threads.GetReplies(ctx, id)
				names := a.names(ctx, replies)
				return a.emit(replies, func(w io.Writer) {
					for _, ev := range replies {
						printEvent(w, names, "", ev)
					}
					fmt.Fprintf(w, "%d direct replies\n", len(replies))
				})
			})
		},
	}
}

func newThreadCommand(opts *RootOptions) *cobra.Command {
	var (
		depth     int
		ancestors bool
	)

	cmd := &cobra.Command{
		Use:   "thread <note|nevent|hex>",
		Short: "Show the reply tree under an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				id, err := internalnostr.DecodeEventID(args[0])
				if err != nil {
					return err
				}
				m := a.aggregates()
				thread := m.Threads.BuildThread(ctx, id, depth)

				var parents []*nostr.Event
				if ancestors && thread.Root().Event != nil {
					parents = m.Threads.Ancestors(ctx, thread.Root().Event, 0)
				}

				shown := append([]*nostr.Event(nil), parents...)
				thread.Walk(func(n *aggregates.ThreadNode) {
					if n.Event != nil {
						shown = append(shown, n.Event)
					}
				})
				names := a.names(ctx, shown)

				return a.emit(thread, func(w io.Writer) {
					for _, ev := range parents {
						printEvent(w, names, "^ ", ev)
					}
					thread.Walk(func(n *aggregates.ThreadNode) {
						indent := strings.Repeat("  ", n.Depth)
						if n.Event == nil {
							fmt.Fprintf(w, "%s%s  (not found)\n", indent, short(n.ID))
						} else {
							printEvent(w, names, indent, n.Event)
						}
						if n.HiddenReplies > 0 {
							fmt.Fprintf(w, "%s  … %d more replies\n", indent, n.HiddenReplies)
						}
					})
				})
			})
		},
	}

	cmd.Flags().IntVar(&depth, "depth", aggregates.DefaultThreadDepth, "reply levels to expand")
	cmd.Flags().BoolVar(&ancestors, "context", false, "also show the events above this one")
	return cmd
}
