// Package resilience provides the shared retry backoff policy used by every
// retrying call site in the client: the session reconnect loop and the TTS
// request retries. Centralising the policy keeps delay growth and jitter
// behaviour identical across layers instead of scattering ad hoc sleeps.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default policy values, used when the corresponding field is zero.
const (
	defaultBase       = 1 * time.Second
	defaultMultiplier = 2.0
	defaultMax        = 30 * time.Second
)

// Backoff computes retry delays that grow geometrically from Base by
// Multiplier per attempt, capped at Max, with optional proportional jitter.
// The zero value is usable and falls back to the package defaults.
//
// Backoff is stateless and safe for concurrent use; callers track their own
// attempt counts.
type Backoff struct {
	// Base is the delay before the first retry. Default 1s.
	Base time.Duration

	// Multiplier is the per-attempt growth factor. Default 2.
	Multiplier float64

	// Max caps the computed delay before jitter. Default 30s.
	Max time.Duration

	// Jitter is the fraction of the delay randomised around the computed
	// value, in [0, 1]. 0.2 means the final delay is uniform in ±20% of the
	// computed delay. 0 disables jitter, which keeps tests deterministic.
	Jitter float64
}

// Delay returns the wait before retry number attempt. Attempts are counted
// from 1; values below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBase
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = defaultMultiplier
	}
	max := b.Max
	if max <= 0 {
		max = defaultMax
	}
	if attempt < 1 {
		attempt = 1
	}

	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= mult
		if d >= float64(max) {
			d = float64(max)
			break
		}
	}
	if d > float64(max) {
		d = float64(max)
	}

	if b.Jitter > 0 {
		// Uniform in [d×(1−j), d×(1+j)].
		d *= 1 + b.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

// Wait sleeps for the attempt's delay, returning early with the context error
// if ctx is cancelled first.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.Delay(attempt))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
