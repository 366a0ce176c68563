package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/zapline/internal/feed"
	"github.com/sandwichfarm/zapline/internal/social"
)

func newSearchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Search notes and profiles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				results, err := a.feed().Search(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				names := a.names(ctx, results.Notes)
				return a.emit(results, func(w io.Writer) {
					fmt.Fprintf(w, "profiles (%d):\n", len(results.Profiles))
					printProfiles(w, results.Profiles)
					fmt.Fprintf(w, "\nnotes (%d):\n", len(results.Notes))
					for _, ev := range results.Notes {
						printEvent(w, names, "  ", ev)
					}
				})
			})
		},
	}
}

func newExploreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explore",
		Short: "Sample recent notes, articles and profiles from the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ex := a.feed().Explore(ctx)
				names := a.names(ctx, append(ex.Posts, ex.LongForm...))
				return a.emit(ex, func(w io.Writer) {
					fmt.Fprintln(w, "recent:")
					for _, ev := range ex.Posts {
						printEvent(w, names, "  ", ev)
					}
					fmt.Fprintf(w, "\n%d with images, %d with links\n", len(ex.WithImages), len(ex.WithLinks))
					if len(ex.LongForm) > 0 {
						fmt.Fprintln(w, "\narticles:")
						for _, ev := range ex.LongForm {
							printEvent(w, names, "  ", ev)
						}
					}
					fmt.Fprintln(w, "\nprofiles:")
					printProfiles(w, ex.Profiles)
				})
			})
		},
	}
}

func newSuggestCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "suggest [npub|hex]",
		Short: "Suggest authors to follow based on who your follows follow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pk, err := a.pubkeyArg(args)
				if err != nil {
					return err
				}
				suggestions := a.graph().Suggestions(ctx, pk, limit)
				return a.emit(suggestions, func(w io.Writer) {
					if len(suggestions) == 0 {
						fmt.Fprintf(w, "no suggestions (follow at least %d authors)\n", social.MinFollowsForSuggestions)
						return
					}
					for _, s := range suggestions {
						fmt.Fprintf(w, "%s  followed by %d of your follows\n", npub(s.Pubkey), s.Score)
					}
				})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", social.DefaultSuggestions, "number of suggestions")
	return cmd
}

func printProfiles(w io.Writer, profiles []*feed.ProfileView) {
	for _, p := range profiles {
		about := ""
		if p.Metadata != nil {
			about = firstLine(p.Metadata.About, 60)
		}
		fmt.Fprintf(w, "  %-20s  %s  %s\n", firstLine(p.Name(), 20), npub(p.Pubkey), about)
	}
}
