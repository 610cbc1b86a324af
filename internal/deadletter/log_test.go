package deadletter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imalyk/go-thumbnailer/internal/store"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

func newTestLog(t *testing.T) (*Log, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, store.NewKeyspace("test")), mr
}

func record(name string) job.DeadLetterRecord {
	return job.DeadLetterRecord{
		ObjectName: name,
		Reason:     "unsupported image format",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		JobID:      "job-" + name,
		Attempts:   1,
	}
}

func TestAppendAndList(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		require.NoError(t, log.Append(ctx, record(name)))
	}

	n, err := log.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := log.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, record("a.jpg"), all[0])
	assert.Equal(t, record("c.jpg"), all[2])

	page, err := log.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b.jpg", page[0].ObjectName)

	got, err := log.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "c.jpg", got.ObjectName)

	_, err = log.Get(ctx, 7)
	assert.Error(t, err)
}

func TestRecordShape(t *testing.T) {
	log, mr := newTestLog(t)
	require.NoError(t, log.Append(context.Background(), record("cat.jpg")))

	raw, err := mr.List("test:deadletters")
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &fields))
	assert.Equal(t, "cat.jpg", fields["objectName"])
	assert.Equal(t, "unsupported image format", fields["reason"])
	assert.Equal(t, "2026-03-01T12:00:00Z", fields["timestamp"])
}

func TestListEmpty(t *testing.T) {
	log, _ := newTestLog(t)

	records, err := log.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
