package errors

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig configures exponential backoff between retries.
type BackoffConfig struct {
	BaseDelay    time.Duration // delay for the first retry (default: 1s)
	MaxDelay     time.Duration // ceiling for any single delay (default: 30s)
	JitterFactor float64       // randomization factor (default: 0.25 = ±25%)
}

// DefaultBackoffConfig returns sensible defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// Backoff computes the delay before retry number attempt (0-based) using
// exponential growth with jitter.
//
//	attempt 0 -> ~1s
//	attempt 1 -> ~2s
//	attempt 2 -> ~4s
func Backoff(attempt int, config BackoffConfig) time.Duration {
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return delay
}
