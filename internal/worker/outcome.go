package worker

import (
	"errors"

	"github.com/imalyk/go-thumbnailer/internal/blob"
	"github.com/imalyk/go-thumbnailer/internal/thumbnail"
)

type Kind int

const (
	Success Kind = iota
	// Transient failures are retried with backoff until attempts run out.
	Transient
	// Permanent failures go straight to the dead-letter log.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Outcome is the result of one processing attempt. Result is set on success,
// Err otherwise.
type Outcome struct {
	Kind   Kind
	Result string
	Err    error
}

func Succeeded(result string) Outcome {
	return Outcome{Kind: Success, Result: result}
}

func Failed(err error) Outcome {
	return Outcome{Kind: Classify(err), Err: err}
}

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	error
}

func NewPermanentError(err error) *PermanentError {
	return &PermanentError{err}
}

func (e *PermanentError) Unwrap() error {
	return e.error
}

// Classify reports whether err is worth retrying. Missing sources and
// undecodable input are permanent, anything unrecognised is transient.
func Classify(err error) Kind {
	if err == nil {
		return Success
	}
	var permanent *PermanentError
	switch {
	case errors.As(err, &permanent),
		errors.Is(err, blob.ErrObjectNotFound),
		errors.Is(err, thumbnail.ErrUnsupportedImage),
		errors.Is(err, thumbnail.ErrImageTooLarge):
		return Permanent
	}
	return Transient
}
