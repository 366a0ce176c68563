package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandwichfarm/zapline/internal/config"
	"github.com/sandwichfarm/zapline/internal/devrelay"
	"github.com/sandwichfarm/zapline/internal/ops"
)

func newRelayCommand(opts *RootOptions) *cobra.Command {
	var (
		listen string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run an in-memory development relay",
		Long: `Run an in-memory relay for local testing. Events are kept only for the
lifetime of the process. Point zapline at it with ZAPLINE_RELAYS=ws://<listen>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.Verbose {
				cfg.Logging.Level = "debug"
			}
			logger := ops.NewLogger(&cfg.Logging)
			logger.LogStartup(version, commit, map[string]interface{}{"listen": listen, "name": name})

			rl, err := devrelay.New(name, logger)
			if err != nil {
				return err
			}
			defer rl.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "dev relay on ws://%s (Ctrl+C to stop)\n", listen)
			return rl.ListenAndServe(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7447", "listen address")
	cmd.Flags().StringVar(&name, "name", "zapline dev relay", "relay name in its NIP-11 document")
	return cmd
}

func newMetricsCommand(opts *RootOptions) *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Probe the configured relays and expose the results on /metrics",
		Long: `Periodically probe every configured relay and serve the collected
prometheus metrics (query latency and outcome per relay) on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if listen == "" {
					listen = a.cfg.Metrics.Listen
				}

				mux := http.NewServeMux()
				mux.Handle("/metrics", a.metrics.Handler())
				srv := &http.Server{
					Addr:              listen,
					Handler:           mux,
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					errCh <- srv.ListenAndServe()
				}()
				fmt.Fprintf(a.out, "metrics on http://%s/metrics, probing %d relays every %s\n",
					listen, len(a.gateway.URLs()), interval)

				collector := ops.NewDiagnosticsCollector(version, commit, a.probeRelay)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					health := collector.CollectRelayHealth(ctx, a.gateway.URLs())
					a.logger.Debug("relays probed", "relays", len(health))
					select {
					case err := <-errCh:
						if errors.Is(err, http.ErrServerClosed) {
							return nil
						}
						return err
					case <-ctx.Done():
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						a.logger.LogShutdown(ctx.Err().Error())
						return srv.Shutdown(shutdownCtx)
					case <-ticker.C:
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "probe interval")
	return cmd
}

