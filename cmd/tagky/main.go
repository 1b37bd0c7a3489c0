package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/PastaGringo/tagky/internal/adapter/nexus"
	"github.com/PastaGringo/tagky/internal/adapter/ollama"
	"github.com/PastaGringo/tagky/internal/adapter/pubky"
	"github.com/PastaGringo/tagky/internal/adapter/sqlite"
	"github.com/PastaGringo/tagky/internal/config"
	"github.com/PastaGringo/tagky/internal/ingest"
	"github.com/PastaGringo/tagky/internal/publish"
	"github.com/PastaGringo/tagky/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tagky: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting tagky",
		zap.String("db", cfg.DBPath),
		zap.String("nexus_url", cfg.NexusURL),
		zap.String("ollama_url", cfg.OllamaURL),
		zap.String("ollama_model", cfg.OllamaModel),
		zap.Duration("fetch_interval", cfg.FetchInterval.Duration),
		zap.Duration("worker_interval", cfg.WorkerInterval.Duration),
		zap.Duration("publish_interval", cfg.PublishInterval.Duration),
		zap.Bool("quiet_publish", cfg.QuietPublish))

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Crash recovery: requeue jobs that were stuck mid-processing.
	if recovered, err := store.RecoverStale(ctx, cfg.RecoverAge.Duration); err != nil {
		logger.Warn("failed to recover stale jobs", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("recovered stale jobs", zap.Int64("count", recovered))
	}

	if report, err := store.Report(ctx); err != nil {
		logger.Warn("startup report failed", zap.Error(err))
	} else {
		logger.Info("startup report",
			zap.Int("followed_users", report.FollowedUsers),
			zap.Int("tags_rows", report.TagRows),
			zap.Int("tags_posts", report.TaggedPosts),
			zap.Int("jobs_pending", report.JobsPending),
			zap.Int("jobs_processing", report.JobsProcessing),
			zap.Int("jobs_done", report.JobsDone),
			zap.Int("jobs_error", report.JobsError),
			zap.Int("jobs_ignored", report.JobsIgnored),
			zap.Int("processed_notifications", report.ProcessedNotifications))
	}

	feed := nexus.NewClient(cfg.NexusURL, cfg.PublicKey, logger.Named("nexus"))
	writer := pubky.NewClient(cfg.HomeserverURL, cfg.PublicKey, cfg.SessionToken)
	classifier := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel, cfg.Prompt, logger.Named("ollama"))

	ingestor := ingest.New(store, store, store, feed, writer, ingest.Config{
		PublicKey:      cfg.PublicKey,
		FollowTag:      cfg.FollowTag,
		MentionLimit:   cfg.MentionLimit,
		PostsPerAuthor: cfg.PostsPerAuthor,
		Messages: ingest.Messages{
			FollowActivated:         cfg.Messages.FollowActivated,
			FollowDeactivated:       cfg.Messages.FollowDeactivated,
			GuidanceIntro:           cfg.Messages.GuidanceIntro,
			GuidanceDeactivateIntro: cfg.Messages.GuidanceDeactivateIntro,
		},
	}, logger.Named("ingest"))

	keywordWorker := worker.New(store, store, feed, writer, classifier, worker.Config{
		BatchSize:           cfg.WorkerBatch,
		FollowTag:           cfg.FollowTag,
		PendingTag:          cfg.PendingTag,
		UnfollowExplanation: cfg.Messages.UnfollowExplanation,
	}, logger.Named("worker"))

	publisher := publish.New(store, writer, publish.Config{
		BatchSize: cfg.PublishBatch,
		Interval:  cfg.PublishInterval.Duration,
		Quiet:     cfg.QuietPublish,
	}, logger.Named("publisher"))

	// Immediate kicks before the scheduler starts, so a restart catches up
	// without waiting a full interval.
	if err := ingestor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("initial ingest run failed", zap.Error(err))
	}
	if err := keywordWorker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("initial worker run failed", zap.Error(err))
	}

	// Ingestor and worker tick on their own schedules; SkipIfStillRunning
	// prevents a stage from overlapping with itself.
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger)))
	if _, err := scheduler.AddFunc("@every "+cfg.FetchInterval.String(), func() {
		if err := ingestor.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ingest run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule ingestor: %w", err)
	}
	if _, err := scheduler.AddFunc("@every "+cfg.WorkerInterval.String(), func() {
		if err := keywordWorker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("worker run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule worker: %w", err)
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return publisher.Run(gctx)
	})

	runErr := g.Wait()

	logger.Info("shutting down")
	// Let in-flight cron ticks finish before closing the store.
	<-scheduler.Stop().Done()

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("publisher: %w", runErr)
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
