// Command worker consumes photo mirror tasks and copies the images to
// S3-compatible storage, recording each copy in Postgres.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/retom/internal/config"
	"github.com/dharsanguruparan/retom/internal/database"
	"github.com/dharsanguruparan/retom/internal/logging"
	"github.com/dharsanguruparan/retom/internal/repository"
	"github.com/dharsanguruparan/retom/internal/s3storage"
	"github.com/dharsanguruparan/retom/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("RETOM_CONFIG"), "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("init logger")
	}
	if !cfg.MirrorEnabled() || cfg.DatabaseURL == "" {
		logger.Fatal("mirror worker needs RETOM_REDIS_ADDR, RETOM_S3_ENDPOINT and RETOM_DATABASE_URL")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("ensure schema")
	}
	repo := repository.NewMirrorRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("init storage")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.WithError(err).Fatal("ensure bucket")
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      logger,
	})
	processor := worker.NewProcessor(repo, store, logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.WithField("bucket", store.Bucket()).Info("mirror worker started")
	if err := server.Run(mux); err != nil {
		logger.WithError(err).Error("worker stopped")
		os.Exit(1)
	}
}
