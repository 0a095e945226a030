package jobs

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go/v4"
)

// Backoff computes jittered exponential retry delays.
type Backoff struct {
	Base   time.Duration // first delay (default 1s)
	Max    time.Duration // delay cap before jitter (default 30s)
	Jitter float64       // extra random fraction of the delay (default 0.1)

	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

// DefaultBackoff returns base 1s, cap 30s and 10% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 0.1}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Rand == nil {
		b.Rand = rand.Float64
	}
	return b
}

// Delay returns min(Base*2^attempt, Max) plus up to Jitter of that value.
// attempt is zero-based.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	d := b.Max
	if attempt < 32 {
		if exp := b.Base << uint(attempt); exp > 0 && exp < b.Max {
			d = exp
		}
	}
	return d + time.Duration(b.Rand()*float64(d)*b.Jitter)
}

// RetryFunc is called after a failed attempt, before sleeping. attempt is
// one-based.
type RetryFunc func(attempt int, delay time.Duration, err error)

// Retry runs fn up to attempts times, sleeping b.Delay between attempts.
// It returns nil on the first success, otherwise the last error. Errors
// wrapped with Permanent stop retrying immediately.
func Retry(ctx context.Context, b Backoff, attempts int, fn func(ctx context.Context) error, onRetry RetryFunc) error {
	b = b.withDefaults()
	if attempts <= 0 {
		attempts = 1
	}

	var next time.Duration
	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if int(n)+1 >= attempts {
				return
			}
			next = b.Delay(int(n))
			if onRetry != nil {
				onRetry(int(n)+1, next, err)
			}
		}),
		retry.DelayType(func(uint, error, *retry.Config) time.Duration {
			return next
		}),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}
