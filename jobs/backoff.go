package jobs

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls the delay between job attempts.
type RetryPolicy struct {
	// InitialDelay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// Multiplier grows the delay each attempt.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// Jitter randomizes each delay by ±25% to avoid retry stampedes.
	Jitter bool `yaml:"jitter" json:"jitter"`
}

// DefaultRetryPolicy returns the queue's default backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay computes the wait before retry attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	initial := p.InitialDelay
	if initial <= 0 {
		initial = DefaultRetryPolicy().InitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryPolicy().MaxDelay
	}
	multiplier := p.Multiplier
	if multiplier < 1.0 {
		multiplier = DefaultRetryPolicy().Multiplier
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}

	if delay < float64(initial) {
		delay = float64(initial)
	}
	return time.Duration(delay)
}
