package pipeline

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/blob"
	"github.com/imalyk/go-thumbnailer/internal/config"
	"github.com/imalyk/go-thumbnailer/internal/deadletter"
	"github.com/imalyk/go-thumbnailer/internal/dispatcher"
	"github.com/imalyk/go-thumbnailer/internal/idempotency"
	"github.com/imalyk/go-thumbnailer/internal/queue"
	"github.com/imalyk/go-thumbnailer/internal/ratelimit"
	"github.com/imalyk/go-thumbnailer/internal/store"
	"github.com/imalyk/go-thumbnailer/internal/thumbnail"
	"github.com/imalyk/go-thumbnailer/internal/worker"
)

// Pipeline holds the clients and components shared by the API and the
// worker. Both binaries build one at startup and Close it on exit.
type Pipeline struct {
	Redis       *redis.Client
	Blobs       *blob.Minio
	Queue       *queue.Queue
	DeadLetters *deadletter.Log
	Dispatcher  *dispatcher.Dispatcher

	cfg *config.Config
}

func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	rdb, err := store.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewMinio(blob.Options{
		Endpoints: map[blob.Profile]blob.Endpoint{
			blob.Internal: {Host: cfg.Minio.Endpoint, UseSSL: cfg.Minio.UseSSL},
			blob.Public:   {Host: cfg.Minio.PublicEndpoint, UseSSL: cfg.Minio.PublicUseSSL},
		},
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Region:    cfg.Minio.Region,
	})
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	if cfg.Minio.CreateBuckets {
		if err := blobs.EnsureBuckets(ctx, cfg.Minio.SourceBucket, cfg.Minio.OutputBucket); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("provision buckets: %w", err)
		}
	}

	keys := store.NewKeyspace(cfg.Redis.KeyPrefix)
	q := queue.New(rdb, keys,
		queue.WithMaxAttempts(cfg.Worker.MaxAttempts),
		queue.WithResultTTL(cfg.Worker.ResultTTL),
	)

	policy := ratelimit.FailOpen
	if !cfg.Limits.RateLimitFailOpen {
		policy = ratelimit.FailClosed
	}
	d := dispatcher.New(
		ratelimit.NewLimiter(rdb, keys, cfg.Limits.RateLimitMax, cfg.Limits.RateLimitWindow, policy),
		idempotency.NewCache(rdb, keys, cfg.Limits.IdempotencyTTL),
		blobs,
		q,
		dispatcher.Options{
			SourceBucket: cfg.Minio.SourceBucket,
			OutputBucket: cfg.Minio.OutputBucket,
			LinkTTL:      cfg.Limits.LinkTTL,
		},
	)

	zap.S().Named("pipeline").Infow("pipeline ready",
		"redis", cfg.Redis.Addr,
		"minio", cfg.Minio.Endpoint,
		"minio_public", cfg.Minio.PublicEndpoint,
		"rate_limit_policy", policy.String(),
	)

	return &Pipeline{
		Redis:       rdb,
		Blobs:       blobs,
		Queue:       q,
		DeadLetters: deadletter.New(rdb, keys),
		Dispatcher:  d,
		cfg:         cfg,
	}, nil
}

// WorkerPool builds the processing pool from the worker settings.
func (p *Pipeline) WorkerPool() *worker.Pool {
	w := p.cfg.Worker
	transformer := thumbnail.New(thumbnail.Options{
		Width:     w.ThumbnailWidth,
		Height:    w.ThumbnailHeight,
		Quality:   w.ThumbnailQuality,
		MaxPixels: w.MaxPixels,
	})
	return worker.NewPool(p.Queue, p.DeadLetters, worker.NewProcessor(p.Blobs, transformer), worker.Options{
		Concurrency:       w.Concurrency,
		JobTimeout:        w.JobTimeout,
		VisibilityTimeout: w.VisibilityTimeout,
		PollTimeout:       w.PollTimeout,
		SchedulerInterval: w.SchedulerInterval,
		Backoff:           worker.Backoff{Base: w.BackoffBase, Max: w.BackoffMax},
	})
}

func (p *Pipeline) Ping(ctx context.Context) error {
	return p.Redis.Ping(ctx).Err()
}

func (p *Pipeline) Close() error {
	return p.Redis.Close()
}
