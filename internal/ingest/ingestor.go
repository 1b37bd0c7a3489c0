// Package ingest implements the notification ingestor: it turns mentions
// into follow/unfollow mutations and followed users' posts into queued jobs.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/PastaGringo/tagky/internal/domain"
	"go.uber.org/zap"
)

// Messages holds the reply texts sent back to users.
type Messages struct {
	FollowActivated         string
	FollowDeactivated       string
	GuidanceIntro           string
	GuidanceDeactivateIntro string
}

// Config holds ingestor tunables.
type Config struct {
	PublicKey      string
	FollowTag      string
	MentionLimit   int
	PostsPerAuthor int
	Messages       Messages
}

// Ingestor runs the two sweeps of one ingestion tick. It holds no state
// between ticks; everything lives in the store.
type Ingestor struct {
	jobs    domain.JobStore
	follows domain.FollowRegistry
	marks   domain.NotificationMarks
	feed    domain.Feed
	writer  domain.Writer
	cfg     Config
	logger  *zap.Logger
}

// New creates an ingestor.
func New(jobs domain.JobStore, follows domain.FollowRegistry, marks domain.NotificationMarks,
	feed domain.Feed, writer domain.Writer, cfg Config, logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		jobs:    jobs,
		follows: follows,
		marks:   marks,
		feed:    feed,
		writer:  writer,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run performs the mention sweep and the followed-posts sweep. Per-item
// upstream failures are logged and skipped; a store failure aborts the run.
func (in *Ingestor) Run(ctx context.Context) error {
	if err := in.sweepMentions(ctx); err != nil {
		return fmt.Errorf("mention sweep: %w", err)
	}
	if err := in.sweepFollowedPosts(ctx); err != nil {
		return fmt.Errorf("followed-posts sweep: %w", err)
	}
	return nil
}

func (in *Ingestor) sweepMentions(ctx context.Context) error {
	mentions, err := in.feed.Mentions(ctx, in.cfg.MentionLimit)
	if err != nil {
		return err
	}
	in.logger.Info("mentions fetched", zap.Int("count", len(mentions)))

	for _, m := range mentions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.PostURI == "" || m.AuthorID == "" {
			in.logger.Warn("mention missing fields",
				zap.String("post_uri", m.PostURI), zap.String("author_id", m.AuthorID))
			continue
		}

		processed, err := in.marks.IsNotificationProcessed(ctx, m.PostURI)
		if err != nil {
			return err
		}
		if processed {
			in.logger.Debug("mention already processed", zap.String("post_uri", m.PostURI))
			continue
		}

		text, err := in.feed.PostContent(ctx, m.PostURI)
		if err != nil {
			// Unresolvable post degrades to "no text", not a failure.
			in.logger.Warn("post content lookup failed",
				zap.String("post_uri", m.PostURI), zap.Error(err))
			text = ""
		}
		cmd := domain.ParseCommand(in.cfg.PublicKey, text)
		in.logger.Info("mention received",
			zap.String("author_id", m.AuthorID),
			zap.String("post_uri", m.PostURI),
			zap.Int("command", int(cmd)))

		// Mark as processed before any side effect: a crash after this
		// point loses at most a reply, never duplicates a mutation.
		if err := in.marks.MarkNotificationProcessed(ctx, m.PostURI); err != nil {
			return err
		}

		switch cmd {
		case domain.CommandFollowOn:
			if err := in.follows.Follow(ctx, m.AuthorID); err != nil {
				return err
			}
			in.logger.Info("followed", zap.String("author_id", m.AuthorID))
			if err := in.writer.TagProfile(ctx, m.AuthorID, in.cfg.FollowTag); err != nil {
				in.logger.Warn("failed to tag user profile",
					zap.String("author_id", m.AuthorID), zap.Error(err))
			}
			in.reply(ctx, m.PostURI, in.cfg.Messages.FollowActivated)
		case domain.CommandFollowOff:
			if err := in.follows.Unfollow(ctx, m.AuthorID); err != nil {
				return err
			}
			in.logger.Info("unfollowed", zap.String("author_id", m.AuthorID))
			if err := in.writer.UntagProfile(ctx, m.AuthorID, in.cfg.FollowTag); err != nil {
				in.logger.Warn("failed to remove profile tag",
					zap.String("author_id", m.AuthorID), zap.Error(err))
			}
			in.reply(ctx, m.PostURI, in.cfg.Messages.FollowDeactivated)
		default:
			if domain.WantsGuidance(in.cfg.PublicKey, text) {
				in.reply(ctx, m.PostURI, in.guidanceText())
			}
		}
	}
	return nil
}

func (in *Ingestor) sweepFollowedPosts(ctx context.Context) error {
	users, err := in.follows.FollowedUsers(ctx)
	if err != nil {
		return err
	}
	in.logger.Info("followed users", zap.Int("count", len(users)))

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		posts, err := in.feed.RecentPosts(ctx, userID, in.cfg.PostsPerAuthor)
		if err != nil {
			// One author's feed failing must not starve the others.
			in.logger.Warn("posts fetch failed",
				zap.String("author_id", userID), zap.Error(err))
			continue
		}

		for _, p := range posts {
			if p.URI == "" {
				continue
			}
			processed, err := in.marks.IsNotificationProcessed(ctx, p.URI)
			if err != nil {
				return err
			}
			if processed {
				continue
			}
			in.logger.Info("new post from followed user",
				zap.String("author_id", userID),
				zap.String("post_uri", p.URI),
				zap.Int("content_length", len(p.Content)))
			if err := in.jobs.EnqueueJob(ctx, p.URI, p.Content); err != nil {
				return err
			}
			if err := in.marks.MarkNotificationProcessed(ctx, p.URI); err != nil {
				return err
			}
			in.logger.Info("queued for analysis", zap.String("post_uri", p.URI))
		}
	}
	return nil
}

// reply is fire-and-forget: failures are logged, never retried and never
// persisted.
func (in *Ingestor) reply(ctx context.Context, parentURI, text string) {
	if err := in.writer.ReplyToPost(ctx, parentURI, text); err != nil {
		in.logger.Warn("reply failed", zap.String("parent_uri", parentURI), zap.Error(err))
		return
	}
	in.logger.Info("replied", zap.String("parent_uri", parentURI))
}

func (in *Ingestor) guidanceText() string {
	return strings.Join([]string{
		in.cfg.Messages.GuidanceIntro,
		fmt.Sprintf("pk:%s /tag on", in.cfg.PublicKey),
		"",
		in.cfg.Messages.GuidanceDeactivateIntro,
		fmt.Sprintf("pk:%s /tag off", in.cfg.PublicKey),
	}, "\n")
}
