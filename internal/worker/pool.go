package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/deadletter"
	"github.com/imalyk/go-thumbnailer/internal/metrics"
	"github.com/imalyk/go-thumbnailer/internal/queue"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

// bookkeepingTimeout bounds the queue and dead-letter writes that follow an
// attempt, which run even when the attempt itself ran out of time.
const bookkeepingTimeout = 10 * time.Second

type Options struct {
	Concurrency       int
	JobTimeout        time.Duration
	VisibilityTimeout time.Duration
	PollTimeout       time.Duration
	SchedulerInterval time.Duration
	Backoff           Backoff
}

// Pool runs Concurrency processing units that each handle one job at a time,
// plus a scheduler that promotes due retries and reclaims abandoned jobs.
type Pool struct {
	queue       *queue.Queue
	deadLetters *deadletter.Log
	processor   *Processor
	opts        Options
	now         func() time.Time
}

func NewPool(q *queue.Queue, deadLetters *deadletter.Log, processor *Processor, opts Options) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.SchedulerInterval <= 0 {
		opts.SchedulerInterval = time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	// A lease must outlive the attempt plus the bookkeeping after it.
	if opts.VisibilityTimeout <= opts.JobTimeout+bookkeepingTimeout {
		opts.VisibilityTimeout = 2*opts.JobTimeout + bookkeepingTimeout
	}
	return &Pool{
		queue:       q,
		deadLetters: deadLetters,
		processor:   processor,
		opts:        opts,
		now:         time.Now,
	}
}

// Run blocks until ctx is cancelled and every unit has finished its current
// job.
func (p *Pool) Run(ctx context.Context) error {
	logger := zap.S().Named("worker_pool")
	logger.Infow("starting worker pool", "concurrency", p.opts.Concurrency, "job_timeout", p.opts.JobTimeout)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.schedule(ctx)
	}()

	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(unit int) {
			defer wg.Done()
			p.work(ctx, unit)
		}(i)
	}

	wg.Wait()
	logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) work(ctx context.Context, unit int) {
	logger := zap.S().Named("worker_pool").With("unit", unit)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorw("failed to fetch job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// Step waits up to the poll timeout for one job and handles it. It reports
// whether a job was taken.
func (p *Pool) Step(ctx context.Context) (bool, error) {
	j, err := p.queue.Dequeue(ctx, p.opts.PollTimeout)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}
	p.handle(ctx, j)
	return true, nil
}

func (p *Pool) handle(ctx context.Context, j *job.Job) {
	logger := zap.S().Named("worker_pool").With("job_id", j.ID)

	// Shutdown does not interrupt a job that already started.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.JobTimeout)
	defer cancel()

	attempt, err := p.queue.Start(jobCtx, j.ID, p.opts.VisibilityTimeout)
	switch {
	case errors.Is(err, queue.ErrAttemptsExhausted):
		// Every attempt was lost with its worker before reaching an outcome.
		finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
		defer cancelFinish()
		lastErr := j.LastError
		if lastErr == "" {
			lastErr = "worker lost"
		}
		metrics.ObserveJob(metrics.OutcomeExhausted, 0)
		p.fail(finishCtx, j, fmt.Sprintf("giving up after %d attempts: %s", j.Attempts, lastErr))
		return
	case errors.Is(err, queue.ErrJobFinished), errors.Is(err, queue.ErrJobNotFound):
		logger.Infow("skipping job", "reason", err)
		return
	case err != nil:
		// The lease reaper hands the job back once it notices.
		logger.Errorw("failed to start job", "error", err)
		return
	}
	j.Attempts = attempt
	maxAttempts := j.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.queue.MaxAttempts()
	}

	logger.Infow("processing job", "source", j.Args.SourceObject, "attempt", attempt, "max_attempts", maxAttempts)
	started := time.Now()
	outcome := p.processor.Process(jobCtx, j)
	elapsed := time.Since(started)

	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancelFinish()

	switch {
	case outcome.Kind == Success:
		metrics.ObserveJob(metrics.OutcomeSuccess, elapsed)
		if err := p.queue.Complete(finishCtx, j.ID, job.StatusSuccess, outcome.Result); err != nil {
			logger.Errorw("failed to mark job succeeded", "error", err)
			return
		}
		logger.Infow("job succeeded", "output", outcome.Result, "duration", elapsed)

	case outcome.Kind == Transient && attempt < maxAttempts:
		metrics.ObserveJob(metrics.OutcomeRetry, elapsed)
		delay := p.opts.Backoff.Delay(attempt)
		if err := p.queue.Retry(finishCtx, j.ID, delay, outcome.Err.Error()); err != nil {
			logger.Errorw("failed to schedule retry", "error", err)
			return
		}
		logger.Warnw("job failed, retrying", "attempt", attempt, "delay", delay, "error", outcome.Err)

	default:
		reason := outcome.Err.Error()
		label := metrics.OutcomePermanent
		if outcome.Kind == Transient {
			reason = fmt.Sprintf("giving up after %d attempts: %s", attempt, reason)
			label = metrics.OutcomeExhausted
		}
		metrics.ObserveJob(label, elapsed)
		p.fail(finishCtx, j, reason)
	}
}

// fail records the job in the dead-letter log, then marks it FAILURE.
func (p *Pool) fail(ctx context.Context, j *job.Job, reason string) {
	logger := zap.S().Named("worker_pool").With("job_id", j.ID)

	record := job.DeadLetterRecord{
		ObjectName: j.Args.SourceObject,
		Reason:     reason,
		Timestamp:  p.now().UTC(),
		JobID:      j.ID,
		Attempts:   j.Attempts,
	}
	if err := p.deadLetters.Append(ctx, record); err != nil {
		logger.Errorw("failed to append dead letter", "error", err)
	} else {
		metrics.IncreaseDeadLetters()
	}

	if err := p.queue.Complete(ctx, j.ID, job.StatusFailure, reason); err != nil {
		logger.Errorw("failed to mark job failed", "error", err)
		return
	}
	logger.Errorw("job failed permanently", "source", j.Args.SourceObject, "attempts", j.Attempts, "reason", reason)
}

func (p *Pool) schedule(ctx context.Context) {
	ticker := jitterbug.New(p.opts.SchedulerInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick promotes retries whose backoff elapsed, hands abandoned jobs back to
// the ready list and refreshes the queue depth gauges.
func (p *Pool) Tick(ctx context.Context) {
	logger := zap.S().Named("scheduler")

	if n, err := p.queue.PromoteDue(ctx); err != nil {
		logger.Warnw("failed to promote delayed jobs", "error", err)
	} else if n > 0 {
		logger.Debugw("promoted delayed jobs", "count", n)
	}

	if n, err := p.queue.Requeue(ctx, p.opts.VisibilityTimeout); err != nil {
		logger.Warnw("failed to requeue abandoned jobs", "error", err)
	} else if n > 0 {
		logger.Infow("requeued abandoned jobs", "count", n)
	}

	stats, err := p.queue.Stats(ctx)
	if err != nil {
		logger.Warnw("failed to read queue depth", "error", err)
		return
	}
	metrics.SetQueueDepth(stats.Ready, stats.Processing, stats.Delayed)
}
