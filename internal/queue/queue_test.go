package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imalyk/go-thumbnailer/internal/store"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithMaxAttempts(3)}, opts...)
	return New(client, store.NewKeyspace("test"), opts...), mr, clock
}

var testArgs = job.TaskArgs{
	SourceBucket: "uploads",
	SourceObject: "uploads/abc/cat.jpg",
	OutputBucket: "thumbnails",
	OutputObject: "uploads/abc/cat.jpg.thumbnail.jpg",
	OriginalName: "cat.jpg",
}

func TestEnqueueRecordsPendingJob(t *testing.T) {
	q, mr, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	j, err := q.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, job.TaskCreateThumbnail, j.Task)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, testArgs, j.Args)
	assert.Equal(t, int64(0), j.Attempts)
	assert.Equal(t, int64(3), j.MaxAttempts)
	assert.True(t, clock.Now().Equal(j.CreatedAt))

	ready, err := mr.List("test:queue:ready")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ready)
}

func TestGetResultUnknown(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDequeueIsFIFO(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)

	j, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, first, j.ID)

	processing, err := mr.List("test:queue:processing")
	require.NoError(t, err)
	assert.Equal(t, []string{first}, processing)

	j, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, second, j.ID)
}

func TestDequeueTimeout(t *testing.T) {
	q, _, _ := newTestQueue(t)

	j, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestDequeueDropsOrphans(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	_, err := mr.Lpush("test:queue:ready", "ghost")
	require.NoError(t, err)

	j, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.False(t, mr.Exists("test:queue:processing"))
}

func TestLifecycleToSuccess(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	attempt, err := q.Start(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), attempt)

	j, err := q.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, j.Status)

	require.NoError(t, q.Complete(ctx, id, job.StatusSuccess, testArgs.OutputObject))

	j, err = q.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, j.Status)
	assert.Equal(t, testArgs.OutputObject, j.Result)
	assert.False(t, mr.Exists("test:queue:processing"))
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	_, err = q.Start(ctx, id, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, id, job.StatusFailure, "corrupt image"))

	assert.ErrorIs(t, q.Complete(ctx, id, job.StatusSuccess, "out.jpg"), ErrJobFinished)
	assert.ErrorIs(t, q.Retry(ctx, id, time.Second, "again"), ErrJobFinished)
	_, err = q.Start(ctx, id, time.Minute)
	assert.ErrorIs(t, err, ErrJobFinished)

	j, err := q.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailure, j.Status)
	assert.Equal(t, "corrupt image", j.Result)
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.Complete(context.Background(), "id", job.StatusRunning, "")
	assert.Error(t, err)
}

func TestCompleteUnknownJob(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.Complete(context.Background(), "missing", job.StatusSuccess, "x")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRetryWaitsForBackoff(t *testing.T) {
	q, mr, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	_, err = q.Start(ctx, id, time.Minute)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, id, 4*time.Second, "connection refused"))

	j, err := q.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, "connection refused", j.LastError)
	assert.False(t, mr.Exists("test:queue:processing"))

	n, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(4 * time.Second)
	n, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, id, again.ID)

	attempt, err := q.Start(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), attempt)
}

func TestRequeueExpiredLease(t *testing.T) {
	q, mr, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	_, err = q.Start(ctx, id, time.Minute)
	require.NoError(t, err)

	n, err := q.Requeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(time.Minute)
	n, err = q.Requeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	j, err := q.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)

	ready, err := mr.List("test:queue:ready")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ready)
}

func TestRequeueGivesUnstartedJobsAGraceLease(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	n, err := q.Requeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(time.Minute)
	n, err = q.Requeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	j, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
}

func TestResultTTL(t *testing.T) {
	q, mr, _ := newTestQueue(t, WithResultTTL(time.Hour))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), mr.TTL("test:job:"+id))

	require.NoError(t, q.Complete(ctx, id, job.StatusSuccess, "out"))
	assert.Equal(t, time.Hour, mr.TTL("test:job:"+id))
}

func TestStats(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
		require.NoError(t, err)
	}
	j, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	j2, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	_, err = q.Start(ctx, j2.ID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, j2.ID, time.Minute, "boom"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 1, Processing: 1, Delayed: 1}, stats)
	assert.NotNil(t, j)
}

func TestTruncate(t *testing.T) {
	long := make([]byte, maxErrorLength+10)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long)), maxErrorLength)
	assert.Equal(t, "short", truncate("short"))

	// Byte maxErrorLength falls inside a two-byte rune.
	accented := "a" + strings.Repeat("é", maxErrorLength)
	cut := truncate(accented)
	assert.True(t, utf8.ValidString(cut))
	assert.Len(t, cut, maxErrorLength-1)
}

func TestStartRefusesExhaustedJob(t *testing.T) {
	q, mr, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, job.TaskCreateThumbnail, testArgs)
	require.NoError(t, err)

	// Every attempt is lost with its worker and reclaimed by the reaper.
	for attempt := int64(1); attempt <= 3; attempt++ {
		j, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, j)
		started, err := q.Start(ctx, id, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, attempt, started)

		clock.Advance(2 * time.Minute)
		n, err := q.Requeue(ctx, time.Minute)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	}

	j, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, j)
	_, err = q.Start(ctx, id, time.Minute)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	j, err = q.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, int64(3), j.Attempts)

	// The caller fails it, which also clears the processing entry.
	require.NoError(t, q.Complete(ctx, id, job.StatusFailure, "giving up"))
	assert.False(t, mr.Exists("test:queue:processing"))
}
