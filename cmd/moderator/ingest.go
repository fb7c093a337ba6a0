package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/ingest"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/search"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [feed-url...]",
		Short: "Fetch news feeds once and submit every article for moderation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			urls := args
			if len(urls) == 0 {
				urls = cfg.Feeds.URLs
			}
			if len(urls) == 0 {
				return fmt.Errorf("no feed urls given and feeds.urls is empty")
			}
			logger, err := ctx.logger("news-ingest")
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
			pub, err := broker.Publisher(cfg.Broker.ContentTopic)
			if err != nil {
				return err
			}
			defer pub.Close()

			store, err := search.Open(cfg.Store.Kind, cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			gateway := ingest.NewGateway(pub, store, logger.Named("gateway"))
			ingester := ingest.NewFeedIngester(urls, gateway, logger.Named("feeds"), ingest.WithPace(cfg.Feeds.Pace()))
			n, err := ingester.IngestOnce(runCtx)
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %d articles\n", n)
			return err
		},
	}
}
