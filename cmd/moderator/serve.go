package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/api"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/distributor"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/ingest"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/search"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/server"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/worker"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var embeddedWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, result distributor and feed ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("moderator")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if strings.EqualFold(cfg.Broker.Kind, "memory") && !embeddedWorker {
				logger.Info("memory broker selected, running the worker pool in-process")
				embeddedWorker = true
			}
			return serve(runCtx, ctx, embeddedWorker, logger)
		},
	}
	cmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", false, "Run the moderation worker pool in this process")
	return cmd
}

func serve(ctx context.Context, cc *commandContext, embeddedWorker bool, logger *zap.Logger) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}

	broker, err := openBroker(cfg, logger.Named("queue"))
	if err != nil {
		return err
	}
	defer broker.Close()

	store, err := search.Open(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	contentPub, err := broker.Publisher(cfg.Broker.ContentTopic)
	if err != nil {
		return fmt.Errorf("open content publisher: %w", err)
	}
	defer contentPub.Close()

	resultSub, err := broker.Subscriber(cfg.Broker.ResultTopic, cfg.Broker.DistributorGroup)
	if err != nil {
		return fmt.Errorf("open result subscriber: %w", err)
	}
	defer resultSub.Close()

	live := distributor.NewLiveChannel(logger.Named("live"))
	defer live.Close()
	recent := distributor.NewRecent(cfg.Store.RecentResults)
	stats := distributor.NewStats()
	dist := distributor.New(resultSub, store, logger.Named("distributor"),
		distributor.WithStoreRetries(uint64(cfg.Store.Retries), 0),
		distributor.WithSink(live),
		distributor.WithSink(recent),
		distributor.WithSink(stats),
	)

	gateway := ingest.NewGateway(contentPub, store, logger.Named("gateway"))
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.New(api.Deps{
			Gateway: gateway,
			Store:   store,
			Live:    live,
			Recent:  recent,
			Stats:   stats,
		}, logger.Named("api")).Handler(),
	}

	var pool *worker.Pool
	if embeddedWorker {
		p, results, err := newWorkerPool(cfg, broker, logger)
		if err != nil {
			return err
		}
		defer results.Close()
		if err := p.Start(ctx); err != nil {
			return err
		}
		pool = p
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, srv, cfg.HTTP.ShutdownTimeout(), logger.Named("http"))
	})
	g.Go(func() error { return dist.Run(gctx) })

	if pool != nil {
		g.Go(func() error {
			<-gctx.Done()
			pool.Stop()
			return nil
		})
	}

	if len(cfg.Feeds.URLs) > 0 {
		ingester := ingest.NewFeedIngester(cfg.Feeds.URLs, gateway, logger.Named("feeds"),
			ingest.WithInterval(cfg.Feeds.Interval()),
			ingest.WithPace(cfg.Feeds.Pace()))
		g.Go(func() error { return ingester.Run(gctx) })
	}

	return g.Wait()
}
