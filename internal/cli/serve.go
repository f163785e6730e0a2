package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cswenor/conductor/internal/cancel"
	"github.com/cswenor/conductor/internal/config"
	"github.com/cswenor/conductor/internal/db"
	"github.com/cswenor/conductor/internal/gate"
	"github.com/cswenor/conductor/internal/github"
	"github.com/cswenor/conductor/internal/orchestrator"
	"github.com/cswenor/conductor/internal/outbox"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and outbox workers",
		Long: `Start the conductor control plane:
  • the orchestrator loop, which reacts to new events and drives run phases
  • the outbox processor, which delivers queued GitHub writes
  • the outbox janitor, which requeues writes stuck in processing

All three stop together on SIGINT/SIGTERM.

Example:
  conductor serve
  CONDUCTOR_GITHUB_TOKEN=ghp_... conductor serve --config /etc/conductor.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cfg.GitHub.Token == "" {
				return fmt.Errorf("github token is required to serve (set github.token or CONDUCTOR_GITHUB_TOKEN)")
			}
			logger := newLogger()

			store, err := db.OpenStoreWithDialect(cfg.Database.DSN, cfg.Dialect())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			writer, err := github.NewClient(github.Config{
				Token:   cfg.GitHub.Token,
				BaseURL: cfg.GitHub.BaseURL,
			})
			if err != nil {
				return err
			}

			orch := orchestrator.New(store, gate.NewRegistry(), cancel.NewRegistry(),
				orchestrator.WithPollInterval(cfg.Orchestrator.PollInterval),
				orchestrator.WithLogger(logger))

			proc := outbox.New(store, writer, outbox.Config{
				MaxRetries:   cfg.Outbox.MaxRetries,
				BackoffBase:  cfg.Outbox.BackoffBase,
				StallAfter:   cfg.Outbox.StallAfter,
				PollInterval: cfg.Outbox.PollInterval,
				BatchSize:    cfg.Outbox.BatchSize,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("conductor serving",
				"dialect", cfg.Database.Dialect, "dsn", cfg.Database.DSN)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return orch.Run(ctx) })
			g.Go(func() error { return proc.Run(ctx) })
			g.Go(func() error { return proc.RunJanitor(ctx) })

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			logger.Info("conductor stopped")
			return err
		},
	}
}
