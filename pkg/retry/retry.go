// Package retry provides the RetryRule implementations a Factory can attach
// to a step. Rules live only in memory for the lifetime of one step
// execution; the engine never persists rule state, only whether the last
// attempt is being retried (spec: retry state is not durable).
package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cuemby/stairway/pkg/types"
)

// None never retries; a single FAILURE_RETRY outcome is treated as fatal.
type None struct{}

func (None) Reset()                           {}
func (None) NextDelay() (time.Duration, bool) { return 0, false }

var _ types.RetryRule = None{}

// Fixed retries up to MaxAttempts times, waiting Delay between each.
type Fixed struct {
	MaxAttempts int
	Delay       time.Duration

	attempt int
}

func NewFixed(maxAttempts int, delay time.Duration) *Fixed {
	return &Fixed{MaxAttempts: maxAttempts, Delay: delay}
}

func (f *Fixed) Reset() { f.attempt = 0 }

func (f *Fixed) NextDelay() (time.Duration, bool) {
	if f.attempt >= f.MaxAttempts {
		return 0, false
	}
	f.attempt++
	return f.Delay, true
}

var _ types.RetryRule = (*Fixed)(nil)

// RandomBackoff retries up to MaxAttempts times with a delay drawn uniformly
// from [MinDelay, MaxDelay) on every attempt, independent of attempt number.
type RandomBackoff struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration

	attempt int
	rnd     *rand.Rand
}

func NewRandomBackoff(maxAttempts int, minDelay, maxDelay time.Duration) *RandomBackoff {
	return &RandomBackoff{
		MaxAttempts: maxAttempts,
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *RandomBackoff) Reset() { r.attempt = 0 }

func (r *RandomBackoff) NextDelay() (time.Duration, bool) {
	if r.attempt >= r.MaxAttempts {
		return 0, false
	}
	r.attempt++
	span := r.MaxDelay - r.MinDelay
	if span <= 0 {
		return r.MinDelay, true
	}
	return r.MinDelay + time.Duration(r.rnd.Int63n(int64(span))), true
}

var _ types.RetryRule = (*RandomBackoff)(nil)

// ExponentialBackoff retries with a delay that grows geometrically between
// InitialDelay and MaxDelay, jittered per attempt, giving up once cumulative
// elapsed time since Reset exceeds MaxTotalDuration (zero means no limit).
// It wraps backoff.ExponentialBackOff rather than reimplementing the curve,
// jitter, and elapsed-time bookkeeping by hand.
type ExponentialBackoff struct {
	MaxTotalDuration time.Duration
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64

	curve *backoff.ExponentialBackOff
}

func NewExponentialBackoff(maxTotalDuration, initialDelay, maxDelay time.Duration, multiplier float64) *ExponentialBackoff {
	if multiplier <= 1 {
		multiplier = 2
	}
	return &ExponentialBackoff{
		MaxTotalDuration: maxTotalDuration,
		InitialDelay:     initialDelay,
		MaxDelay:         maxDelay,
		Multiplier:       multiplier,
	}
}

func (e *ExponentialBackoff) Reset() {
	e.curve = backoff.NewExponentialBackOff()
	e.curve.InitialInterval = e.InitialDelay
	e.curve.MaxInterval = e.MaxDelay
	e.curve.Multiplier = e.Multiplier
	e.curve.RandomizationFactor = 0.5
	e.curve.MaxElapsedTime = e.MaxTotalDuration
	e.curve.Reset()
}

func (e *ExponentialBackoff) NextDelay() (time.Duration, bool) {
	if e.curve == nil {
		e.Reset()
	}
	d := e.curve.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

var _ types.RetryRule = (*ExponentialBackoff)(nil)
