// Package worker implements the keyword worker: it pulls pending jobs,
// classifies their content and records the normalized keywords.
package worker

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/PastaGringo/tagky/internal/domain"
	"go.uber.org/zap"
)

// Config holds worker tunables.
type Config struct {
	BatchSize           int
	FollowTag           string
	PendingTag          string
	UnfollowExplanation string
}

// Worker processes one batch of pending jobs per tick.
type Worker struct {
	jobs       domain.JobStore
	follows    domain.FollowRegistry
	feed       domain.Feed
	writer     domain.Writer
	classifier domain.Classifier
	cfg        Config
	logger     *zap.Logger
}

// New creates a worker.
func New(jobs domain.JobStore, follows domain.FollowRegistry, feed domain.Feed,
	writer domain.Writer, classifier domain.Classifier, cfg Config, logger *zap.Logger,
) *Worker {
	return &Worker{
		jobs:       jobs,
		follows:    follows,
		feed:       feed,
		writer:     writer,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run processes one batch of pending jobs, oldest first. The batch is
// aborted when the classifier model is unavailable; per-job failures are
// recorded on the job and do not stop the batch.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.classifier.CheckModel(ctx); err != nil {
		return fmt.Errorf("classifier not ready: %w", err)
	}

	jobs, err := w.jobs.PendingJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		w.logger.Debug("no pending jobs")
		return nil
	}

	w.logger.Info("processing batch", zap.Int("size", len(jobs)))
	ok := 0
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.process(ctx, &jobs[i]) {
			ok++
		}
	}
	w.logger.Info("batch summary",
		zap.Int("attempted", len(jobs)),
		zap.Int("success", ok),
		zap.Int("failed", len(jobs)-ok))
	return nil
}

// process runs one job through the state machine. It returns true when the
// job reached done.
func (w *Worker) process(ctx context.Context, job *domain.Job) bool {
	log := w.logger.With(zap.Int64("id", job.ID), zap.String("post_uri", job.PostURI))

	if err := w.jobs.MarkProcessing(ctx, job.ID); err != nil {
		// Claimed away or gone; nothing to do.
		log.Warn("claim failed", zap.Error(err))
		return false
	}

	if !job.HasContent() {
		log.Info("skip empty-content job")
		w.markIgnored(ctx, log, job.ID, "empty content - skip tagging")
		return false
	}

	// UX breadcrumb for the author while classification is in flight.
	if err := w.writer.TagPost(ctx, job.PostURI, w.cfg.PendingTag); err != nil {
		log.Warn("failed to add pending tag", zap.Error(err))
	} else {
		log.Info("post tagged as pending", zap.String("tag", w.cfg.PendingTag))
	}

	if ref, refOK := domain.ParsePostURI(job.PostURI); refOK {
		followed, err := w.follows.IsFollowed(ctx, ref.AuthorID)
		if err != nil {
			w.markError(ctx, log, job.ID, err.Error())
			return false
		}
		if !followed {
			// Consent was revoked after the job was queued; never tag,
			// explain why instead.
			log.Info("user no longer followed", zap.String("author_id", ref.AuthorID))
			if err := w.writer.ReplyToPost(ctx, job.PostURI, w.cfg.UnfollowExplanation); err != nil {
				log.Warn("failed to send unfollow explanation", zap.Error(err))
			}
			w.markError(ctx, log, job.ID, "user no longer followed - explanation sent")
			return false
		}

		if !w.hasFollowTag(ctx, ref.AuthorID) {
			log.Info("user missing follow tag", zap.String("author_id", ref.AuthorID))
			w.markIgnored(ctx, log, job.ID, "user missing follow tag: "+w.cfg.FollowTag)
			return false
		}
	}

	analyzeStart := time.Now()
	raw, err := w.classifier.Generate(ctx, job.Content)
	if err != nil {
		log.Error("classification failed", zap.Error(err))
		w.markError(ctx, log, job.ID, err.Error())
		return false
	}
	analyzeMS := time.Since(analyzeStart).Milliseconds()

	keywords := domain.NormalizeKeywords(raw)
	log.Info("normalized keywords", zap.String("keywords", keywords))

	if err := w.writer.UntagPost(ctx, job.PostURI, w.cfg.PendingTag); err != nil {
		log.Warn("failed to remove pending tag", zap.Error(err))
	}

	if err := w.jobs.MarkDone(ctx, job.ID, keywords); err != nil {
		// Leave the job in processing; the stale recovery pass requeues it.
		log.Error("failed to mark job done", zap.Error(err))
		return false
	}

	log.Info("job done",
		zap.Strings("tags", domain.SplitKeywords(keywords)),
		zap.Int64("analyze_ms", analyzeMS),
		zap.Int64("detect_to_done_ms", time.Since(job.CreatedAt).Milliseconds()))
	return true
}

// hasFollowTag checks the external follow marker on the author's profile.
// Any lookup failure counts as "marker absent".
func (w *Worker) hasFollowTag(ctx context.Context, authorID string) bool {
	labels, err := w.feed.UserTags(ctx, authorID)
	if err != nil {
		w.logger.Warn("failed to fetch user tags",
			zap.String("author_id", authorID), zap.Error(err))
		return false
	}
	return slices.Contains(labels, w.cfg.FollowTag)
}

func (w *Worker) markError(ctx context.Context, log *zap.Logger, id int64, reason string) {
	if err := w.jobs.MarkError(ctx, id, reason); err != nil {
		log.Error("failed to mark job as error", zap.Error(err))
	}
}

func (w *Worker) markIgnored(ctx context.Context, log *zap.Logger, id int64, reason string) {
	if err := w.jobs.MarkIgnored(ctx, id, reason); err != nil {
		log.Error("failed to mark job as ignored", zap.Error(err))
	}
}
