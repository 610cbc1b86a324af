package blob

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Memory is an in-process Store. PresignGet returns a fake link on BaseURL
// that carries the expiry as a query parameter.
type Memory struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: baseURL, objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = append([]byte(nil), data...)
	m.puts++
	return nil
}

func (m *Memory) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	q := url.Values{}
	q.Set("X-Amz-Expires", fmt.Sprintf("%d", int64(ttl.Seconds())))
	return fmt.Sprintf("%s/%s/%s?%s", m.BaseURL, bucket, key, q.Encode()), nil
}

// Puts reports how many Put calls succeeded.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *Memory) Has(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+key]
	return ok
}
