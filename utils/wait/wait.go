// Package wait polls a condition with a spin, yield and sleep backoff.
package wait

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned by Poll when the timeout elapses first.
var ErrTimeout = errors.New("wait timed out")

var errPending = errors.New("condition not met")

// Backoff describes how Poll paces itself. It busy-checks Spins times,
// then yields the processor Yields times, then sleeps starting at Min and
// doubling up to Max.
type Backoff struct {
	Spins  int
	Yields int
	Min    time.Duration
	Max    time.Duration
}

// DefaultBackoff suits a reader waiting on a writer in another goroutine or
// process.
var DefaultBackoff = Backoff{Spins: 64, Yields: 16, Min: time.Millisecond, Max: 100 * time.Millisecond}

// Poll calls cond until it reports done or fails. It gives up with
// ErrTimeout after timeout, or with ctx.Err() when ctx is done. A
// non-positive timeout waits on ctx alone.
func Poll(ctx context.Context, b Backoff, timeout time.Duration, cond func() (bool, error)) error {
	start := time.Now()
	for i := 0; i < b.Spins+b.Yields; i++ {
		done, err := cond()
		if err != nil || done {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if i >= b.Spins {
			runtime.Gosched()
		}
	}

	eb := b.sleeps()
	if timeout > 0 {
		left := timeout - time.Since(start)
		if left <= 0 {
			return ErrTimeout
		}
		eb.MaxElapsedTime = left
	}
	eb.Reset()

	err := backoff.Retry(func() error {
		done, err := cond()
		switch {
		case err != nil:
			return backoff.Permanent(err)
		case done:
			return nil
		}
		return errPending
	}, backoff.WithContext(eb, ctx))
	if errors.Is(err, errPending) {
		return ErrTimeout
	}
	return err
}

// sleeps is the sleep phase: no jitter, doubling from Min to Max, and no
// limit on elapsed time unless Poll sets one.
func (b Backoff) sleeps() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Min
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Millisecond
	}
	eb.MaxInterval = b.Max
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = backoff.DefaultMaxInterval
	}
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	return eb
}
