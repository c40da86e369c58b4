package queue

import (
	"math"
	"time"
)

type BackoffConfig struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// Backoff returns the delay before retry number attempt (1-based).
type Backoff func(attempt int) time.Duration

func BackoffExponential(cfg BackoffConfig) Backoff {
	factor := cfg.Factor
	if factor <= 0 {
		factor = 2
	}

	return func(attempt int) time.Duration {
		if attempt <= 0 || cfg.Base <= 0 {
			return 0
		}
		delay := float64(cfg.Base) * math.Pow(factor, float64(attempt-1))
		switch {
		case cfg.Max > 0 && delay > float64(cfg.Max):
			return cfg.Max
		case delay >= float64(math.MaxInt64):
			return time.Duration(math.MaxInt64)
		case delay < 0:
			return 0
		}
		return time.Duration(delay)
	}
}
