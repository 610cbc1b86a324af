package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/blob"
	"github.com/imalyk/go-thumbnailer/internal/idempotency"
	"github.com/imalyk/go-thumbnailer/internal/metrics"
	"github.com/imalyk/go-thumbnailer/internal/queue"
	"github.com/imalyk/go-thumbnailer/internal/ratelimit"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

const (
	sourcePrefix    = "uploads"
	thumbnailSuffix = ".thumbnail.jpg"
	fallbackName    = "upload"
)

type Upload struct {
	ClientKey string
	Filename  string
	Data      []byte
}

type Options struct {
	SourceBucket string
	OutputBucket string
	LinkTTL      time.Duration
}

// Dispatcher turns uploads into queued jobs and reports on them.
type Dispatcher struct {
	limiter *ratelimit.Limiter
	cache   *idempotency.Cache
	blobs   blob.Store
	queue   *queue.Queue
	opts    Options
}

func New(limiter *ratelimit.Limiter, cache *idempotency.Cache, blobs blob.Store, q *queue.Queue, opts Options) *Dispatcher {
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = time.Hour
	}
	return &Dispatcher{
		limiter: limiter,
		cache:   cache,
		blobs:   blobs,
		queue:   q,
		opts:    opts,
	}
}

// Submit admits the upload against the client's rate limit and then accepts
// it.
func (d *Dispatcher) Submit(ctx context.Context, up Upload) (*job.Submission, error) {
	if err := d.Admit(ctx, up.ClientKey); err != nil {
		return nil, err
	}
	return d.Accept(ctx, up)
}

// Admit counts one upload attempt against the client's window. It returns an
// *ErrRateLimited once the window is full. Callers admit before reading the
// request body, so malformed attempts are counted too.
func (d *Dispatcher) Admit(ctx context.Context, clientKey string) error {
	decision, err := d.limiter.Admit(ctx, clientKey)
	if err != nil {
		metrics.IncreaseSubmissions(metrics.SubmissionFailed)
		return fmt.Errorf("admit: %w", err)
	}
	if !decision.Allowed {
		metrics.IncreaseSubmissions(metrics.SubmissionRateLimited)
		zap.S().Named("dispatcher").Infow("upload rate limited",
			"client", clientKey, "count", decision.Count, "retry_after", decision.RetryAfter)
		return NewErrRateLimited(decision.RetryAfter)
	}
	return nil
}

// Accept answers repeated payloads from the idempotency cache and otherwise
// stores the payload and enqueues a create_thumbnail job for it. The upload
// must already have been admitted.
func (d *Dispatcher) Accept(ctx context.Context, up Upload) (*job.Submission, error) {
	logger := zap.S().Named("dispatcher").With("client", up.ClientKey)

	fingerprint := idempotency.Fingerprint(up.Data)
	jobID, found, err := d.cache.Lookup(ctx, fingerprint)
	switch {
	case err != nil:
		logger.Warnw("idempotency lookup failed, treating as miss", "error", err)
	case found:
		metrics.IncreaseSubmissions(metrics.SubmissionCached)
		logger.Infow("upload answered from cache", "job_id", jobID)
		return &job.Submission{JobID: jobID, Status: job.StatusCached, Cached: true}, nil
	}

	name := baseName(up.Filename)
	source := path.Join(sourcePrefix, uuid.New().String(), name)
	if err := d.blobs.Put(ctx, d.opts.SourceBucket, source, up.Data, http.DetectContentType(up.Data)); err != nil {
		metrics.IncreaseSubmissions(metrics.SubmissionFailed)
		return nil, NewErrStorage(err)
	}

	jobID, err = d.queue.Enqueue(ctx, job.TaskCreateThumbnail, d.taskArgs(source, name))
	if err != nil {
		metrics.IncreaseSubmissions(metrics.SubmissionFailed)
		return nil, NewErrQueue(err)
	}

	if _, err := d.cache.Record(ctx, fingerprint, jobID); err != nil {
		logger.Warnw("failed to record fingerprint", "job_id", jobID, "error", err)
	}

	metrics.IncreaseSubmissions(metrics.SubmissionAccepted)
	logger.Infow("upload accepted", "job_id", jobID, "object", source, "size", len(up.Data))
	return &job.Submission{JobID: jobID, Status: job.StatusPending}, nil
}

// Status reports the state of a job. IDs the queue does not know are
// reported as PENDING. Successful jobs carry a presigned download link.
func (d *Dispatcher) Status(ctx context.Context, id string) (*job.StatusView, error) {
	j, err := d.queue.GetResult(ctx, id)
	if errors.Is(err, queue.ErrJobNotFound) {
		return &job.StatusView{JobID: id, Status: job.StatusPending}, nil
	}
	if err != nil {
		return nil, NewErrQueue(err)
	}

	view := &job.StatusView{JobID: id, Status: j.Status}
	switch j.Status {
	case job.StatusSuccess:
		link, err := d.blobs.PresignGet(ctx, j.Args.OutputBucket, j.Result, d.opts.LinkTTL)
		if err != nil {
			return nil, NewErrStorage(err)
		}
		view.Result = link
	case job.StatusFailure:
		view.Result = j.Result
	}
	return view, nil
}

// Replay enqueues a fresh job for a dead-lettered source object. The record
// itself stays in the log.
func (d *Dispatcher) Replay(ctx context.Context, record job.DeadLetterRecord) (string, error) {
	if record.ObjectName == "" {
		return "", errors.New("dead letter has no object name")
	}
	id, err := d.queue.Enqueue(ctx, job.TaskCreateThumbnail, d.taskArgs(record.ObjectName, path.Base(record.ObjectName)))
	if err != nil {
		return "", NewErrQueue(err)
	}
	zap.S().Named("dispatcher").Infow("replayed dead letter", "job_id", id, "object", record.ObjectName, "previous_job_id", record.JobID)
	return id, nil
}

func (d *Dispatcher) taskArgs(source, originalName string) job.TaskArgs {
	return job.TaskArgs{
		SourceBucket: d.opts.SourceBucket,
		SourceObject: source,
		OutputBucket: d.opts.OutputBucket,
		OutputObject: source + thumbnailSuffix,
		OriginalName: originalName,
	}
}

// baseName strips any client supplied directories from filename.
func baseName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallbackName
	}
	return name
}
