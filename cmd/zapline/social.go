package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/social"
)

func newFollowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <npub|hex>",
		Short: "Add a pubkey to your follow list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return mutateFollow(ctx, a, args[0], social.Follow)
			})
		},
	}
}

func newUnfollowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <npub|hex>",
		Short: "Remove a pubkey from your follow list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return mutateFollow(ctx, a, args[0], social.Unfollow)
			})
		},
	}
}

func mutateFollow(ctx context.Context, a *app, ref string, action social.Action) error {
	target, err := internalnostr.DecodePubkey(ref)
	if err != nil {
		return err
	}
	res, err := a.graph().MutateFollow(ctx, a.viewer, target, action)
	if err != nil {
		return fmt.Errorf("%s failed: %w", action, err)
	}
	return a.emit(res.State, func(w io.Writer) {
		fmt.Fprintf(w, "%sed %s, now following %d\n", action, npub(target), len(res.State.Following))
		printReport(w, res.Report)
	})
}

func newFollowingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "following [npub|hex]",
		Short: "List who a pubkey follows (default: you)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pk, err := a.pubkeyArg(args)
				if err != nil {
					return err
				}
				state := a.graph().GetFollowState(ctx, pk)
				return a.emit(state.Following, func(w io.Writer) {
					if state.EventID == "" {
						fmt.Fprintln(w, "no follow list found")
						return
					}
					for _, f := range state.Following {
						fmt.Fprintln(w, npub(f))
					}
					fmt.Fprintf(w, "%d following\n", len(state.Following))
				})
			})
		},
	}
}

func newFollowersCommand(opts *RootOptions) *cobra.Command {
	var mutualsOnly bool

	cmd := &cobra.Command{
		Use:   "followers [npub|hex]",
		Short: "List who follows a pubkey (default: you)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pk, err := a.pubkeyArg(args)
				if err != nil {
					return err
				}
				g := a.graph()
				var list []string
				if mutualsOnly {
					list = g.Mutuals(ctx, pk)
				} else {
					list = g.Followers(ctx, pk)
				}
				return a.emit(list, func(w io.Writer) {
					for _, f := range list {
						fmt.Fprintln(w, npub(f))
					}
					fmt.Fprintf(w, "%d found\n", len(list))
				})
			})
		},
	}

	cmd.Flags().BoolVar(&mutualsOnly, "mutuals", false, "only followers that are followed back")
	return cmd
}
