// Package publish implements the publisher: it pushes recorded keywords out
// as tag records, retrying failed posts on every pass.
package publish

import (
	"context"
	"time"

	"github.com/PastaGringo/tagky/internal/domain"
	"go.uber.org/zap"
)

// Config holds publisher tunables.
type Config struct {
	BatchSize int
	Interval  time.Duration
	// Quiet drops per-publish info logs to debug.
	Quiet bool
}

// Publisher publishes tags for done jobs that have no successful publish
// record yet.
type Publisher struct {
	log    domain.PublishLog
	writer domain.Writer
	cfg    Config
	logger *zap.Logger
}

// New creates a publisher.
func New(log domain.PublishLog, writer domain.Writer, cfg Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		log:    log,
		writer: writer,
		cfg:    cfg,
		logger: logger,
	}
}

// Run is the cooperative loop form: batch, sleep, repeat until the context
// is cancelled. An in-flight batch always completes before the loop exits.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("publisher loop started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("batch", p.cfg.BatchSize),
		zap.Bool("quiet", p.cfg.Quiet))

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			p.logger.Info("publisher loop stopped")
			return nil
		case <-time.After(p.cfg.Interval):
		}
	}
}

// RunOnce performs a single publish pass and returns the number of posts
// published. Per-post failures are recorded for retry; only a store failure
// is returned as an error.
func (p *Publisher) RunOnce(ctx context.Context) (int, error) {
	jobs, err := p.log.UnpublishedDone(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		p.logger.Debug("nothing to publish")
		return 0, nil
	}

	p.logger.Info("publishing batch", zap.Int("size", len(jobs)))
	ok := 0
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return ok, err
		}
		published, err := p.publishJob(ctx, &jobs[i])
		if err != nil {
			return ok, err
		}
		if published {
			ok++
		}
	}
	p.logger.Info("batch summary",
		zap.Int("attempted", len(jobs)),
		zap.Int("success", ok),
		zap.Int("failed", len(jobs)-ok))
	return ok, nil
}

// publishJob applies every keyword of one job. It returns false when the
// publish failed and was recorded for retry; an error means the store itself
// failed.
func (p *Publisher) publishJob(ctx context.Context, job *domain.Job) (bool, error) {
	for _, kw := range domain.SplitKeywords(job.Keywords) {
		if err := p.writer.TagPost(ctx, job.PostURI, kw); err != nil {
			p.logger.Error("publish failed",
				zap.String("post_uri", job.PostURI), zap.Error(err))
			if rerr := p.log.RecordPublishError(ctx, job.PostURI, err.Error()); rerr != nil {
				return false, rerr
			}
			return false, nil
		}
	}
	if err := p.log.MarkPublished(ctx, job.PostURI); err != nil {
		return false, err
	}

	now := time.Now()
	fields := []zap.Field{
		zap.String("post_uri", job.PostURI),
		zap.String("keywords", job.Keywords),
		zap.Int64("job_id", job.ID),
	}
	// Latency instrumentation only; these numbers steer nothing.
	if !job.ProcessedAt.IsZero() {
		fields = append(fields,
			zap.Int64("detect_to_done_ms", job.ProcessedAt.Sub(job.CreatedAt).Milliseconds()),
			zap.Int64("done_to_publish_ms", now.Sub(job.ProcessedAt).Milliseconds()))
	}
	fields = append(fields,
		zap.Int64("detect_to_publish_ms", now.Sub(job.CreatedAt).Milliseconds()))

	if p.cfg.Quiet {
		p.logger.Debug("published", fields...)
	} else {
		p.logger.Info("published", fields...)
	}
	return true, nil
}
