package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/store"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

const (
	DefaultMaxAttempts = 5
	promoteBatchSize   = 100
	maxErrorLength     = 1024
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")

	// ErrAttemptsExhausted is returned by Start for a job that already used
	// all of its attempts. The job stays non-terminal until the caller fails
	// it.
	ErrAttemptsExhausted = errors.New("job attempts exhausted")
)

// Client is the subset of go-redis the queue needs.
type Client interface {
	redis.Cmdable
	redis.Scripter
}

// Queue is a Redis backed work queue. Job IDs sit on a ready list, move to a
// processing list while a worker holds them and park in a delayed sorted set
// between retries. Each job's state and result live in a hash, which doubles
// as the result store polled by clients.
type Queue struct {
	client      Client
	keys        store.Keyspace
	maxAttempts int64
	resultTTL   time.Duration
	now         func() time.Time
}

type Option func(*Queue)

func WithMaxAttempts(n int64) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithResultTTL expires finished job records after d. Zero keeps them.
func WithResultTTL(d time.Duration) Option {
	return func(q *Queue) {
		q.resultTTL = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func New(client Client, keys store.Keyspace, opts ...Option) *Queue {
	q := &Queue{
		client:      client,
		keys:        keys,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) MaxAttempts() int64 {
	return q.maxAttempts
}

// Enqueue records a PENDING job and makes it available to workers. It does
// not wait for processing.
func (q *Queue) Enqueue(ctx context.Context, task string, args job.TaskArgs) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}

	id := uuid.New().String()
	now := q.timestamp()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.Job(id), map[string]interface{}{
			"task":         task,
			"args":         string(encoded),
			"status":       string(job.StatusPending),
			"attempts":     0,
			"max_attempts": q.maxAttempts,
			"created_at":   now,
			"updated_at":   now,
		})
		pipe.LPush(ctx, q.keys.ReadyQueue(), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// GetResult returns the stored state of a job.
func (q *Queue) GetResult(ctx context.Context, id string) (*job.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.keys.Job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(id, fields)
}

// Dequeue blocks for up to timeout waiting for a ready job and moves it to
// the processing list. It returns nil, nil when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	id, err := q.client.BLMove(ctx, q.keys.ReadyQueue(), q.keys.ProcessingQueue(), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	j, err := q.GetResult(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		zap.S().Named("queue").Warnw("dropping queue entry without job record", "job_id", id)
		if err := q.client.LRem(ctx, q.keys.ProcessingQueue(), 0, id).Err(); err != nil {
			return nil, fmt.Errorf("drop orphan %s: %w", id, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Start moves a dequeued job to RUNNING, counts the attempt and takes a lease
// that expires after visibility. It returns the attempt number, or
// ErrAttemptsExhausted once every attempt has been started before.
func (q *Queue) Start(ctx context.Context, id string, visibility time.Duration) (int64, error) {
	now := q.now()
	res, err := startScript.Run(ctx, q.client, []string{q.keys.Job(id)},
		now.UTC().Format(time.RFC3339Nano), now.Add(visibility).UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("start job %s: %w", id, err)
	}
	switch res {
	case -2:
		return 0, ErrAttemptsExhausted
	case -1:
		return 0, ErrJobNotFound
	case 0:
		return 0, ErrJobFinished
	}
	return res, nil
}

// Complete writes a terminal status and result. A job that already reached a
// terminal state keeps it and ErrJobFinished is returned.
func (q *Queue) Complete(ctx context.Context, id string, status job.Status, result string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete job %s: %s is not a terminal status", id, status)
	}
	res, err := completeScript.Run(ctx, q.client,
		[]string{q.keys.Job(id), q.keys.ProcessingQueue()},
		id, string(status), truncate(result), q.timestamp(), q.resultTTL.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return scriptResult(res)
}

// Retry parks a job in the delayed set until delay has elapsed.
func (q *Queue) Retry(ctx context.Context, id string, delay time.Duration, reason string) error {
	readyAt := q.now().Add(delay).UnixMilli()
	res, err := retryScript.Run(ctx, q.client,
		[]string{q.keys.Job(id), q.keys.ProcessingQueue(), q.keys.DelayedQueue()},
		id, readyAt, truncate(reason), q.timestamp()).Int64()
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	return scriptResult(res)
}

// PromoteDue moves delayed jobs whose backoff elapsed back onto the ready
// list and returns how many were moved.
func (q *Queue) PromoteDue(ctx context.Context) (int64, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.keys.DelayedQueue(), q.keys.ReadyQueue()},
		q.now().UnixMilli(), promoteBatchSize).Int64()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// Requeue hands jobs whose worker lease lapsed back to the ready list. Jobs
// in the processing list that were never started receive a fresh lease of
// visibility instead.
func (q *Queue) Requeue(ctx context.Context, visibility time.Duration) (int64, error) {
	now := q.now()
	n, err := requeueScript.Run(ctx, q.client,
		[]string{q.keys.ProcessingQueue(), q.keys.ReadyQueue()},
		now.UnixMilli(), q.keys.Job(""), now.UTC().Format(time.RFC3339Nano), now.Add(visibility).UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	return n, nil
}

type Stats struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var ready, processing, delayed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, q.keys.ReadyQueue())
		processing = pipe.LLen(ctx, q.keys.ProcessingQueue())
		delayed = pipe.ZCard(ctx, q.keys.DelayedQueue())
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), Processing: processing.Val(), Delayed: delayed.Val()}, nil
}

func (q *Queue) timestamp() string {
	return q.now().UTC().Format(time.RFC3339Nano)
}

func scriptResult(code int64) error {
	switch code {
	case -1:
		return ErrJobNotFound
	case 0:
		return ErrJobFinished
	}
	return nil
}

// truncate caps s at maxErrorLength bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxErrorLength {
		return s
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func decodeJob(id string, fields map[string]string) (*job.Job, error) {
	j := &job.Job{
		ID:        id,
		Task:      fields["task"],
		Status:    job.Status(fields["status"]),
		Result:    fields["result"],
		LastError: fields["last_error"],
	}
	if raw := fields["args"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Args); err != nil {
			return nil, fmt.Errorf("decode args of job %s: %w", id, err)
		}
	}
	j.Attempts, _ = strconv.ParseInt(fields["attempts"], 10, 64)
	j.MaxAttempts, _ = strconv.ParseInt(fields["max_attempts"], 10, 64)
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return j, nil
}
