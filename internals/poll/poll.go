// Package poll runs a condition repeatedly at a fixed interval.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrExhausted is returned when MaxAttempts attempts ran without the
// condition reporting done.
var ErrExhausted = errors.New("poll: attempts exhausted")

var errPending = errors.New("poll: pending")

type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Func reports whether polling is complete. A non-nil error stops polling
// immediately and is returned from Until unchanged.
type Func func(ctx context.Context) (done bool, err error)

// Until waits Interval before every attempt and calls fn until it reports
// done, returns an error, ctx ends, or MaxAttempts is reached.
func Until(ctx context.Context, cfg Config, fn Func) error {
	if cfg.MaxAttempts <= 0 {
		return ErrExhausted
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Nanosecond
	}

	if err := sleep(ctx, interval); err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), retry.NewConstant(interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if !done {
			return retry.RetryableError(errPending)
		}
		return nil
	})
	if errors.Is(err, errPending) {
		return ErrExhausted
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
