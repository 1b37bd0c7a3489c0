package domain

import (
	"strings"
	"time"
)

// JobStatus represents the processing state of a tagging job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusError      JobStatus = "error"
	StatusIgnored    JobStatus = "ignored"
)

// Job represents one post queued for keyword tagging. PostURI is unique:
// enqueuing the same post twice is a no-op.
type Job struct {
	ID          int64
	PostURI     string
	Content     string
	Status      JobStatus
	Attempts    int
	LastError   string
	Keywords    string // ";"-joined canonical keywords, set when done
	CreatedAt   time.Time
	ProcessedAt time.Time // zero until the job reaches done
}

// HasContent reports whether there is any text worth classifying.
func (j *Job) HasContent() bool {
	return strings.TrimSpace(j.Content) != ""
}

// FollowedUser is an opted-in user. Presence in the registry means consent.
type FollowedUser struct {
	UserID     string
	FollowedAt time.Time
}

// PublishedPost records the outcome of the last publish attempt for a post.
// A row with a blank LastError means the tags went out; a non-blank LastError
// makes the job eligible for another publish pass.
type PublishedPost struct {
	PostURI     string
	PublishedAt time.Time
	LastError   string
}

// Mention is a notification that the agent was referenced in a post.
type Mention struct {
	PostURI  string
	AuthorID string
}

// Post is one post from an author's recent stream.
type Post struct {
	ID      string
	URI     string
	Content string
}

// StoreReport is a snapshot of store counts, logged at startup.
type StoreReport struct {
	JobsPending            int
	JobsProcessing         int
	JobsDone               int
	JobsError              int
	JobsIgnored            int
	FollowedUsers          int
	TagRows                int
	TaggedPosts            int
	ProcessedNotifications int
}
