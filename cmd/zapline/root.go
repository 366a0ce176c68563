package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the zapline CLI
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "zapline",
		Short: "zapline - Nostr social sync and zap settlement",
		Long: `zapline reads and mutates a Nostr identity's social graph (follows,
reactions, reposts, threads) across a set of relays and settles zaps through
a wallet connection, a local payment command or a manually paid invoice.

Secrets are read from the environment only (ZAPLINE_NSEC, ZAPLINE_NWC_URI);
a .env file in the working directory is loaded when present.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return loadEnv(opts.EnvFile)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "zapline.yaml", "path to configuration file (defaults apply when missing)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "load environment overrides from this file instead of .env")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newVersionCommand())

	cmd.AddCommand(newFollowCommand(opts))
	cmd.AddCommand(newUnfollowCommand(opts))
	cmd.AddCommand(newFollowingCommand(opts))
	cmd.AddCommand(newFollowersCommand(opts))

	cmd.AddCommand(newReactCommand(opts))
	cmd.AddCommand(newRepostCommand(opts))
	cmd.AddCommand(newRepliesCommand(opts))
	cmd.AddCommand(newThreadCommand(opts))

	cmd.AddCommand(newZapCommand(opts))
	cmd.AddCommand(newZapsCommand(opts))

	cmd.AddCommand(newRelaysCommand(opts))

	cmd.AddCommand(newFeedCommand(opts))
	cmd.AddCommand(newNotificationsCommand(opts))
	cmd.AddCommand(newTrendingCommand(opts))
	cmd.AddCommand(newProfileCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newExploreCommand(opts))
	cmd.AddCommand(newSuggestCommand(opts))

	cmd.AddCommand(newRelayCommand(opts))
	cmd.AddCommand(newMetricsCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newRestoreCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadEnv loads path, or .env when present
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}
