package dispatch

import (
	"math"
	"math/rand"
	"time"

	"safety-worker-go/internal/config"
)

// Backoff computes retry delays: Min * Multiplier^(attempt-1), capped at
// Max, with optional symmetric jitter.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	JitterPct  int
}

func BackoffFromConfig(cfg *config.Config) Backoff {
	return Backoff{
		Min:        cfg.RetryBackoffMin,
		Max:        cfg.RetryBackoffMax,
		Multiplier: cfg.RetryMultiplier,
		JitterPct:  cfg.RetryJitterPct,
	}
}

// Delay returns the wait before the given attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Min) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.JitterPct > 0 {
		jitter := delay * float64(b.JitterPct) / 100.0 * (rand.Float64()*2 - 1)
		delay += jitter
	}
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
