// Command server runs the retom HTTP API on top of a local photo store.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/retom/internal/config"
	"github.com/dharsanguruparan/retom/internal/logging"
	"github.com/dharsanguruparan/retom/internal/processing"
	"github.com/dharsanguruparan/retom/internal/queue"
	"github.com/dharsanguruparan/retom/internal/retro"
	"github.com/dharsanguruparan/retom/internal/server"
	"github.com/dharsanguruparan/retom/internal/signing"
	"github.com/dharsanguruparan/retom/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("RETOM_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("init logger")
	}

	store, err := storage.New(storage.Config{
		Dir:           cfg.DataDir,
		Processor:     retro.NewProcessor(cfg.JPEGQuality, cfg.StampLayout),
		Logger:        logger,
		DevelopDelay:  cfg.DevelopDelay,
		RequireAdGate: cfg.RequireAdGate,
	})
	if err != nil {
		logger.WithError(err).Fatal("init store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// subscribe before loading so the forwarder sees the load event and
	// backfills anything not yet mirrored
	if cfg.MirrorEnabled() {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		events, unsubscribe := store.Subscribe()
		defer unsubscribe()
		g.Go(func() error {
			err := queue.Forward(ctx, events, store, client, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		logger.WithField("redis", cfg.RedisAddr).Info("mirroring enabled")
	}

	if err := store.Load(); err != nil {
		// a corrupt state file is left on disk for inspection; the session
		// starts empty instead of refusing to run
		logger.WithError(err).Warn("starting with an empty collection")
	}

	pool := processing.New(store, cfg.ProcessingPool, logger)
	pool.Start(ctx)

	srv, err := server.New(cfg, store, pool, signing.NewSigner(cfg.SigningSecret), logger)
	if err != nil {
		logger.WithError(err).Fatal("init server")
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.SweepSchedule, func() { sweep(store, cfg, logger) }); err != nil {
		logger.WithError(err).WithField("schedule", cfg.SweepSchedule).Fatal("schedule sweep")
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		pool.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}

func sweep(store *storage.Store, cfg *config.Config, logger logrus.FieldLogger) {
	removed, err := store.SweepOrphans(cfg.OrphanGrace)
	if err != nil {
		logger.WithError(err).Warn("orphan sweep incomplete")
	}
	if len(removed) > 0 {
		logger.WithField("removed", len(removed)).Info("orphan sweep")
	}
}
