package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/go-thumbnailer/internal/store"
	"github.com/imalyk/go-thumbnailer/pkg/job"
)

// Log is an append-only list of terminally failed jobs. Nothing in the
// pipeline removes entries; operators read and replay them.
type Log struct {
	client redis.Cmdable
	key    string
}

func New(client redis.Cmdable, keys store.Keyspace) *Log {
	return &Log{client: client, key: keys.DeadLetters()}
}

func (l *Log) Append(ctx context.Context, record job.DeadLetterRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := l.client.RPush(ctx, l.key, payload).Err(); err != nil {
		return fmt.Errorf("append dead letter: %w", err)
	}
	return nil
}

func (l *Log) Len(ctx context.Context) (int64, error) {
	return l.client.LLen(ctx, l.key).Result()
}

// List returns up to limit records starting at offset, oldest first. A
// non-positive limit returns everything from offset on.
func (l *Log) List(ctx context.Context, offset, limit int64) ([]job.DeadLetterRecord, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = offset + limit - 1
	}

	raw, err := l.client.LRange(ctx, l.key, offset, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	records := make([]job.DeadLetterRecord, 0, len(raw))
	for i, entry := range raw {
		var record job.DeadLetterRecord
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			return nil, fmt.Errorf("decode dead letter %d: %w", offset+int64(i), err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Get returns the record at index.
func (l *Log) Get(ctx context.Context, index int64) (*job.DeadLetterRecord, error) {
	records, err := l.List(ctx, index, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no dead letter at index %d", index)
	}
	return &records[0], nil
}
