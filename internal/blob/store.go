package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is the object storage contract used by the dispatcher and worker.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Profile names an endpoint the store can talk to. Internal is the address
// reachable from inside the deployment, Public the host presigned links are
// handed out for. Call sites pick one explicitly.
type Profile string

const (
	Internal Profile = "internal"
	Public   Profile = "public"
)

type Endpoint struct {
	Host   string
	UseSSL bool
}

type Options struct {
	Endpoints map[Profile]Endpoint
	AccessKey string
	SecretKey string
	// Region must be set for presigning against an endpoint this process
	// cannot reach, otherwise minio-go looks the bucket location up first.
	Region string
}

type Minio struct {
	clients map[Profile]*minio.Client
	region  string
}

func NewMinio(opts Options) (*Minio, error) {
	m := &Minio{clients: make(map[Profile]*minio.Client, len(opts.Endpoints)), region: opts.Region}
	for _, profile := range []Profile{Internal, Public} {
		ep, ok := opts.Endpoints[profile]
		if !ok {
			return nil, fmt.Errorf("minio: missing %s endpoint", profile)
		}
		client, err := minio.New(ep.Host, &minio.Options{
			Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
			Secure: ep.UseSSL,
			Region: opts.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio %s connection: %w", profile, err)
		}
		m.clients[profile] = client
	}
	return m, nil
}

func (m *Minio) client(p Profile) *minio.Client {
	return m.clients[p]
}

func (m *Minio) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := m.client(Internal).PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (m *Minio) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	object, err := m.client(Internal).GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapGetError(bucket, key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, wrapGetError(bucket, key, err)
	}
	return data, nil
}

func (m *Minio) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := m.client(Public).PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// EnsureBuckets creates any missing bucket through the internal endpoint.
func (m *Minio) EnsureBuckets(ctx context.Context, buckets ...string) error {
	client := m.client(Internal)
	for _, bucket := range buckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
			// Another process may have won the race.
			if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				continue
			}
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		zap.S().Named("blob").Infow("created bucket", "bucket", bucket)
	}
	return nil
}

func wrapGetError(bucket, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("get %s/%s: %w: %v", bucket, key, ErrObjectNotFound, err)
	}
	return fmt.Errorf("get %s/%s: %w", bucket, key, err)
}
