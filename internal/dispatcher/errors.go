package dispatcher

import (
	"fmt"
	"time"
)

type ErrRateLimited struct {
	RetryAfter time.Duration
}

func NewErrRateLimited(retryAfter time.Duration) *ErrRateLimited {
	return &ErrRateLimited{RetryAfter: retryAfter}
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter)
}

// ErrStorage is returned when the object store rejected an upload or a link
// could not be signed. No job exists for a failed upload.
type ErrStorage struct {
	error
}

func NewErrStorage(err error) *ErrStorage {
	return &ErrStorage{fmt.Errorf("storage: %w", err)}
}

func (e *ErrStorage) Unwrap() error {
	return e.error
}

type ErrQueue struct {
	error
}

func NewErrQueue(err error) *ErrQueue {
	return &ErrQueue{fmt.Errorf("queue: %w", err)}
}

func (e *ErrQueue) Unwrap() error {
	return e.error
}
