package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run moderation workers against the configured broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if count > 0 {
				cfg.Worker.Count = count
			}
			logger, err := ctx.logger("moderation-worker")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			broker, err := openBroker(cfg, logger.Named("queue"))
			if err != nil {
				return err
			}
			defer broker.Close()

			pool, results, err := newWorkerPool(cfg, broker, logger)
			if err != nil {
				return err
			}
			defer results.Close()

			if err := pool.Start(runCtx); err != nil {
				return err
			}
			<-runCtx.Done()
			pool.Stop()
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "workers", 0, "Number of workers (overrides worker.count)")
	return cmd
}
