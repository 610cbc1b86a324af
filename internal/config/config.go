package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Service *svcConfig
	Redis   *redisConfig
	Minio   *minioConfig
	Limits  *limitsConfig
	Worker  *workerConfig
}

type svcConfig struct {
	Address           string `envconfig:"THUMBNAILER_ADDRESS" default:":8080"`
	MetricsAddress    string `envconfig:"THUMBNAILER_METRICS_ADDRESS" default:":9090"`
	LogLevel          string `envconfig:"THUMBNAILER_LOG_LEVEL" default:"info"`
	LogFormat         string `envconfig:"THUMBNAILER_LOG_FORMAT" default:"json"`
	TrustProxyHeaders bool   `envconfig:"TRUST_PROXY_HEADERS" default:"false"`
}

type redisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	// KeyPrefix namespaces every key written by the pipeline.
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"thumb"`
}

// minioConfig carries two endpoint profiles: Endpoint is what the services
// reach over the internal network, PublicEndpoint is the host that presigned
// links are issued for.
type minioConfig struct {
	Endpoint       string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	UseSSL         bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	PublicEndpoint string `envconfig:"MINIO_PUBLIC_ENDPOINT" default:"localhost:9000"`
	PublicUseSSL   bool   `envconfig:"MINIO_PUBLIC_USE_SSL" default:"false"`
	AccessKey      string `envconfig:"MINIO_ACCESS_KEY" default:"minio"`
	SecretKey      string `envconfig:"MINIO_SECRET_KEY" default:"minio123"`
	Region         string `envconfig:"MINIO_REGION" default:"us-east-1"`
	SourceBucket   string `envconfig:"MINIO_SOURCE_BUCKET" default:"uploads"`
	OutputBucket   string `envconfig:"MINIO_OUTPUT_BUCKET" default:"thumbnails"`
	CreateBuckets  bool   `envconfig:"MINIO_CREATE_BUCKETS" default:"true"`
}

type limitsConfig struct {
	RateLimitMax      int64         `envconfig:"RATE_LIMIT_MAX" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitFailOpen bool          `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	IdempotencyTTL    time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"1h"`
	LinkTTL           time.Duration `envconfig:"DOWNLOAD_LINK_TTL" default:"1h"`
	MaxUploadBytes    int64         `envconfig:"MAX_UPLOAD_BYTES" default:"20971520"`
}

type workerConfig struct {
	Concurrency       int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	MaxAttempts       int64         `envconfig:"WORKER_MAX_ATTEMPTS" default:"5"`
	BackoffBase       time.Duration `envconfig:"WORKER_BACKOFF_BASE" default:"2s"`
	BackoffMax        time.Duration `envconfig:"WORKER_BACKOFF_MAX" default:"5m"`
	JobTimeout        time.Duration `envconfig:"WORKER_JOB_TIMEOUT" default:"2m"`
	VisibilityTimeout time.Duration `envconfig:"WORKER_VISIBILITY_TIMEOUT" default:"10m"`
	PollTimeout       time.Duration `envconfig:"QUEUE_POLL_TIMEOUT" default:"5s"`
	SchedulerInterval time.Duration `envconfig:"WORKER_SCHEDULER_INTERVAL" default:"1s"`
	ThumbnailWidth    int           `envconfig:"THUMBNAIL_WIDTH" default:"128"`
	ThumbnailHeight   int           `envconfig:"THUMBNAIL_HEIGHT" default:"128"`
	ThumbnailQuality  int           `envconfig:"THUMBNAIL_QUALITY" default:"85"`
	MaxPixels         int           `envconfig:"THUMBNAIL_MAX_PIXELS" default:"100000000"`
	ResultTTL         time.Duration `envconfig:"RESULT_TTL" default:"24h"`
}

func New() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
