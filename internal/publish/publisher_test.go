package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PastaGringo/tagky/internal/domain"
)

const postURI = "pubky://author1/pub/pubky.app/posts/P1"

type fakeLog struct {
	unpublished  []domain.Job
	fetchErr     error
	published    []string
	failures     map[string]string
	publishedErr error
}

func newFakeLog(jobs ...domain.Job) *fakeLog {
	return &fakeLog{unpublished: jobs, failures: make(map[string]string)}
}

func (f *fakeLog) UnpublishedDone(context.Context, int) ([]domain.Job, error) {
	return f.unpublished, f.fetchErr
}

func (f *fakeLog) MarkPublished(_ context.Context, uri string) error {
	if f.publishedErr != nil {
		return f.publishedErr
	}
	f.published = append(f.published, uri)
	return nil
}

func (f *fakeLog) RecordPublishError(_ context.Context, uri, reason string) error {
	f.failures[uri] = reason
	return nil
}

type tagCall struct {
	uri   string
	label string
}

type fakeWriter struct {
	tagged  []tagCall
	failOn  string // label that fails
	tagErr  error
	untags  []tagCall
	replies []tagCall
}

func (f *fakeWriter) ReplyToPost(_ context.Context, parentURI, text string) error {
	f.replies = append(f.replies, tagCall{parentURI, text})
	return nil
}

func (f *fakeWriter) TagPost(_ context.Context, uri, label string) error {
	if label == f.failOn {
		return f.tagErr
	}
	f.tagged = append(f.tagged, tagCall{uri, label})
	return nil
}

func (f *fakeWriter) UntagPost(_ context.Context, uri, label string) error {
	f.untags = append(f.untags, tagCall{uri, label})
	return nil
}

func (f *fakeWriter) TagProfile(context.Context, string, string) error   { return nil }
func (f *fakeWriter) UntagProfile(context.Context, string, string) error { return nil }

func newPublisher(log *fakeLog, writer *fakeWriter) *Publisher {
	cfg := Config{BatchSize: 10, Interval: time.Millisecond}
	return New(log, writer, cfg, zap.NewNop())
}

func doneJob(keywords string) domain.Job {
	now := time.Now()
	return domain.Job{
		ID:          1,
		PostURI:     postURI,
		Status:      domain.StatusDone,
		Keywords:    keywords,
		CreatedAt:   now.Add(-time.Minute),
		ProcessedAt: now.Add(-time.Second),
	}
}

func TestPublishesEveryKeywordThenMarks(t *testing.T) {
	log := newFakeLog(doneJob("vélo;paris;sport"))
	writer := &fakeWriter{}

	n, err := newPublisher(log, writer).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []tagCall{
		{postURI, "vélo"},
		{postURI, "paris"},
		{postURI, "sport"},
	}, writer.tagged)
	assert.Equal(t, []string{postURI}, log.published)
	assert.Empty(t, log.failures)
}

func TestTagFailureIsRecordedNotFatal(t *testing.T) {
	log := newFakeLog(doneJob("vélo;paris"))
	writer := &fakeWriter{failOn: "paris", tagErr: errors.New("API error (status 502): bad gateway")}

	n, err := newPublisher(log, writer).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Empty(t, log.published)
	assert.Equal(t, "API error (status 502): bad gateway", log.failures[postURI])
}

func TestFailedPostIsRetriedNextPass(t *testing.T) {
	log := newFakeLog(doneJob("vélo"))
	writer := &fakeWriter{failOn: "vélo", tagErr: errors.New("boom")}
	p := newPublisher(log, writer)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// Upstream recovers; the store still reports the job as unpublished.
	writer.failOn = ""
	n, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{postURI}, log.published)
}

func TestStoreFailureAbortsPass(t *testing.T) {
	log := newFakeLog(doneJob("vélo"))
	log.publishedErr = errors.New("disk full")

	_, err := newPublisher(log, &fakeWriter{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestFetchFailureAbortsPass(t *testing.T) {
	log := newFakeLog()
	log.fetchErr = errors.New("db locked")

	_, err := newPublisher(log, &fakeWriter{}).RunOnce(context.Background())
	require.Error(t, err)
}

func TestEmptyBacklogIsANoop(t *testing.T) {
	log := newFakeLog()
	writer := &fakeWriter{}

	n, err := newPublisher(log, writer).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.tagged)
}

func TestOneFailingJobDoesNotBlockOthers(t *testing.T) {
	other := doneJob("music")
	other.ID = 2
	other.PostURI = "pubky://author2/pub/pubky.app/posts/P2"
	log := newFakeLog(doneJob("vélo"), other)
	writer := &fakeWriter{failOn: "vélo", tagErr: errors.New("boom")}

	n, err := newPublisher(log, writer).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{other.PostURI}, log.published)
	assert.Contains(t, log.failures, postURI)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newPublisher(newFakeLog(), &fakeWriter{}).Run(ctx)
	require.NoError(t, err)
}
