package queue

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls retry spacing between failed attempts.
type BackoffConfig struct {
	// InitialDelay is the delay scheduled after the first failure.
	InitialDelay time.Duration `mapstructure:"initial_delay"`

	// Multiplier grows the delay per attempt already made.
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration `mapstructure:"max_delay"`

	// JitterFactor scales the delay by a uniform factor in
	// [1-JitterFactor, 1+JitterFactor] so retries scheduled together
	// do not fire together. Zero disables jitter.
	JitterFactor float64 `mapstructure:"jitter_factor"`
}

// DefaultBackoffConfig returns a BackoffConfig with reasonable defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     2 * time.Minute,
		JitterFactor: 0.25,
	}
}

// Backoff computes retry delays. A nil rand source falls back to the
// package-level generator; tests inject a seeded source for determinism.
type Backoff struct {
	config BackoffConfig
	rng    *rand.Rand
}

// NewBackoff creates a Backoff from the given config.
func NewBackoff(config BackoffConfig, rng *rand.Rand) *Backoff {
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultBackoffConfig().InitialDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = DefaultBackoffConfig().Multiplier
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultBackoffConfig().MaxDelay
	}
	return &Backoff{config: config, rng: rng}
}

// Delay returns how long to wait before the next attempt given the number
// of attempts already made (0 when scheduling the first retry).
// The result is never negative.
func (b *Backoff) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}

	d := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempts))
	if d > float64(b.config.MaxDelay) {
		d = float64(b.config.MaxDelay)
	}

	if j := b.config.JitterFactor; j > 0 {
		d *= 1 + j*(2*b.float64()-1)
	}

	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Bound returns the un-jittered delay for the given attempt count. The
// drain loop uses it as the per-attempt execution timeout.
func (b *Backoff) Bound(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempts))
	if d > float64(b.config.MaxDelay) {
		d = float64(b.config.MaxDelay)
	}
	return time.Duration(d)
}

func (b *Backoff) float64() float64 {
	if b.rng != nil {
		return b.rng.Float64()
	}
	return rand.Float64()
}
