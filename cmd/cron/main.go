package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/config"
	"github.com/spec-kit/servicedesk/internal/cron"
	"github.com/spec-kit/servicedesk/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var schedule string

	rootCmd := &cobra.Command{
		Use:           "servicedesk-cron",
		Short:         "Polls the assignment timeout check of the service desk API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll on a schedule until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withPoller(schedule, func(ctx context.Context, p *cron.Poller, _ *zap.Logger) error {
				return p.Run(ctx)
			})
		},
	}
	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single timeout check and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withPoller(schedule, func(ctx context.Context, p *cron.Poller, logger *zap.Logger) error {
				result, err := p.Poll(ctx)
				if err != nil {
					logger.Error("timeout check failed", zap.Error(err))
					return err
				}
				logger.Info("timeout check finished",
					zap.Bool("skipped", result.Skipped),
					zap.Int("reassigned", len(result.Reassigned)))
				return nil
			})
		},
	}

	rootCmd.PersistentFlags().StringVar(&schedule, "schedule", "", "cron spec overriding CRON_SCHEDULE")
	rootCmd.AddCommand(runCmd, onceCmd)
	rootCmd.RunE = runCmd.RunE
	return rootCmd
}

func withPoller(schedule string, fn func(context.Context, *cron.Poller, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return err
	}
	if schedule != "" {
		cfg.Cron.Schedule = schedule
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App, "cron")
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return err
	}
	defer logger.Sync() //nolint:errcheck

	poller, err := cron.NewPoller(cfg.Cron, cfg.Internal.Secret, logger)
	if err != nil {
		logger.Error("invalid cron configuration", zap.Error(err))
		return fmt.Errorf("cron config: %w", err)
	}
	defer poller.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(ctx, poller, logger)
}
