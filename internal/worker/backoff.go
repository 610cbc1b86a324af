package worker

import (
	"math"
	"time"
)

const defaultBackoffFactor = 2

// Backoff computes the wait before the next attempt: Base after the first
// failure, multiplied by Factor for every further one, never more than Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

func (b Backoff) Delay(attempt int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = defaultBackoffFactor
	}

	delay := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && (delay > float64(b.Max) || math.IsInf(delay, 1)) {
		return b.Max
	}
	return time.Duration(delay)
}
