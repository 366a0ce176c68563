package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newBackupCommand(opts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup [npub|hex]",
		Short: "Save the latest profile, follow list and relay list as signed JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pk, err := a.pubkeyArg(args)
				if err != nil {
					return err
				}

				var w io.Writer = a.out
				if output != "" && output != "-" {
					f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
					if err != nil {
						return fmt.Errorf("failed to create backup file: %w", err)
					}
					defer f.Close()
					w = f
				}

				n, err := a.graph().Backup(ctx, pk, w)
				if err != nil {
					return err
				}
				if w != a.out {
					fmt.Fprintf(a.out, "saved %d events to %s\n", n, output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "backup file (default: stdout)")
	return cmd
}

func newRestoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Republish a backup to the configured relays, skipping anything they hold a newer version of",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var r io.Reader = cmd.InOrStdin()
				if args[0] != "-" {
					f, err := os.Open(args[0])
					if err != nil {
						return fmt.Errorf("backup file not found: %w", err)
					}
					defer f.Close()
					r = f
				}

				report, err := a.graph().Restore(ctx, r, nil)
				if err != nil {
					return err
				}
				return a.emit(report, func(w io.Writer) {
					for _, ev := range report.Published {
						fmt.Fprintf(w, "restored kind %d (%s)\n", ev.Kind, short(ev.ID))
						printReport(w, report.Reports[ev.ID])
					}
					for _, ev := range report.Skipped {
						fmt.Fprintf(w, "skipped kind %d (%s): relays hold a newer version\n", ev.Kind, short(ev.ID))
					}
				})
			})
		},
	}
}
