package domain

import (
	"context"
	"time"
)

// JobStore is the driven port for the job queue.
type JobStore interface {
	// EnqueueJob inserts a job for a post. Re-enqueuing a known post URI is
	// a no-op.
	EnqueueJob(ctx context.Context, postURI, content string) error
	// PendingJobs returns up to limit pending jobs, oldest first.
	PendingJobs(ctx context.Context, limit int) ([]Job, error)
	// MarkProcessing claims a pending job and increments its attempt count.
	MarkProcessing(ctx context.Context, id int64) error
	// MarkDone records the keywords and inserts one tag row per keyword in
	// the same transaction.
	MarkDone(ctx context.Context, id int64, keywords string) error
	MarkError(ctx context.Context, id int64, reason string) error
	MarkIgnored(ctx context.Context, id int64, reason string) error
	// RecoverStale requeues processing jobs untouched for longer than
	// olderThan (crash recovery).
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// FollowRegistry is the opt-in membership list. The ingestor writes it, the
// worker re-reads it before tagging.
type FollowRegistry interface {
	Follow(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
	IsFollowed(ctx context.Context, userID string) (bool, error)
	FollowedUsers(ctx context.Context) ([]string, error)
}

// NotificationMarks is the write-once seen-set for notifications.
type NotificationMarks interface {
	MarkNotificationProcessed(ctx context.Context, postURI string) error
	IsNotificationProcessed(ctx context.Context, postURI string) (bool, error)
}

// PublishLog tracks which done jobs had their tags published.
type PublishLog interface {
	// UnpublishedDone returns done jobs with keywords that were never
	// published or whose last publish attempt failed, oldest first.
	UnpublishedDone(ctx context.Context, limit int) ([]Job, error)
	MarkPublished(ctx context.Context, postURI string) error
	RecordPublishError(ctx context.Context, postURI, reason string) error
}

// Feed is the read-only notification/stream API of the network indexer.
type Feed interface {
	Mentions(ctx context.Context, limit int) ([]Mention, error)
	RecentPosts(ctx context.Context, authorID string, limit int) ([]Post, error)
	// UserTags returns the tag labels currently on a user's profile.
	UserTags(ctx context.Context, userID string) ([]string, error)
	// PostContent resolves the text of a post by scanning its author's
	// recent posts. A missing post yields ("", nil), not an error.
	PostContent(ctx context.Context, postURI string) (string, error)
}

// Writer is the signed write capability of the network client. Callers that
// treat a write as best-effort log the error and move on.
type Writer interface {
	ReplyToPost(ctx context.Context, parentURI, text string) error
	TagPost(ctx context.Context, postURI, label string) error
	UntagPost(ctx context.Context, postURI, label string) error
	TagProfile(ctx context.Context, userID, label string) error
	UntagProfile(ctx context.Context, userID, label string) error
}

// Classifier is the external language-model inference service.
type Classifier interface {
	// CheckModel verifies the configured model is available. A worker batch
	// aborts when it is not.
	CheckModel(ctx context.Context) error
	// Generate returns the raw textual completion for a post's content.
	Generate(ctx context.Context, text string) (string, error)
}
