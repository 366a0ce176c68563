package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/zapline/internal/feed"
)

func newFeedCommand(opts *RootOptions) *cobra.Command {
	var (
		scope   string
		authors []string
		hashtag string
		limit   int
		before  string
		replies bool
		roots   bool
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show recent notes and reposts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := feed.Options{
				Scope:   feed.Scope(scope),
				Authors: authors,
				Hashtag: hashtag,
				Limit:   limit,
			}
			switch {
			case replies && roots:
				return fmt.Errorf("--replies and --roots are mutually exclusive")
			case replies:
				o.IsReply = &replies
			case roots:
				isReply := false
				o.IsReply = &isReply
			}
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("invalid --before: %w", err)
				}
				o.Until = &t
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				page, err := a.feed().Feed(ctx, a.viewer, o)
				if err != nil {
					return err
				}
				names := a.names(ctx, page.Events)
				return a.emit(page, func(w io.Writer) {
					for _, ev := range page.Events {
						printEvent(w, names, "", ev)
					}
					if page.Next != 0 {
						fmt.Fprintf(w, "more: --before %s\n", page.Next.Time().UTC().Format(time.RFC3339))
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", string(feed.ScopeFollowing), "author scope (all|following|self)")
	cmd.Flags().StringSliceVar(&authors, "author", nil, "only these authors (npub, hex or self)")
	cmd.Flags().StringVar(&hashtag, "tag", "", "only notes with this hashtag")
	cmd.Flags().IntVarP(&limit, "limit", "n", feed.DefaultLimit, "page size")
	cmd.Flags().StringVar(&before, "before", "", "only events before this RFC3339 time")
	cmd.Flags().BoolVar(&replies, "replies", false, "only replies")
	cmd.Flags().BoolVar(&roots, "roots", false, "only thread roots")
	return cmd
}

func newNotificationsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "Show notes that mentioned you in the last day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				events, err := a.feed().Notifications(ctx, a.viewer)
				if err != nil {
					return err
				}
				names := a.names(ctx, events)
				return a.emit(events, func(w io.Writer) {
					for _, ev := range events {
						printEvent(w, names, "", ev)
					}
					fmt.Fprintf(w, "%d mentions\n", len(events))
				})
			})
		},
	}
}

func newTrendingCommand(opts *RootOptions) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Show the most used hashtags and most mentioned pubkeys of the last day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				trends := a.feed().Trending(ctx, top)
				return a.emit(trends, func(w io.Writer) {
					fmt.Fprintf(w, "%d notes since %s\n\n", trends.Notes, trends.Since.Format("2006-01-02 15:04"))
					fmt.Fprintln(w, "hashtags:")
					for _, t := range trends.Hashtags {
						fmt.Fprintf(w, "  #%-30s %d\n", t.Value, t.Count)
					}
					fmt.Fprintln(w, "mentions:")
					for _, t := range trends.Mentions {
						fmt.Fprintf(w, "  %-30s %d\n", short(npub(t.Value)), t.Count)
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "entries per list")
	return cmd
}

func newProfileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile [npub|hex]",
		Short: "Show a profile and its recent posts (default: you)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pk, err := a.pubkeyArg(args)
				if err != nil {
					return err
				}
				view, err := a.feed().Profile(ctx, pk)
				if err != nil {
					return err
				}
				following := a.graph().FollowingCount(ctx, pk)
				names := a.names(ctx, view.Posts)
				return a.emit(view, func(w io.Writer) {
					fmt.Fprintf(w, "%s  %s\n", view.Name(), npub(pk))
					if m := view.Metadata; m != nil {
						if m.About != "" {
							fmt.Fprintln(w, firstLine(m.About, 200))
						}
						if m.Lud16 != "" {
							fmt.Fprintf(w, "⚡ %s\n", m.Lud16)
						}
					}
					fmt.Fprintf(w, "following %d\n\n", following)
					for _, ev := range view.Posts {
						printEvent(w, names, "", ev)
					}
				})
			})
		},
	}
}
