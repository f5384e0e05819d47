package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces item visits within a run.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Feedback is implemented by limiters that adapt to outcomes.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

const (
	maxMinDelay = 60 * time.Second
	maxMaxDelay = 120 * time.Second
)

// AdaptiveRateLimiter spaces calls at least minDelay apart, adds a random
// jitter up to maxDelay-minDelay and widens both bounds after repeated errors.
type AdaptiveRateLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
	baseMin  time.Duration
	baseMax  time.Duration

	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	rnd           *rand.Rand
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	a := &AdaptiveRateLimiter{
		limiter:       rate.NewLimiter(every(minDelay), 1),
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		baseMin:       minDelay,
		baseMax:       maxDelay,
		maxErrorCount: 3,
		backoffFactor: 1.5,
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return a
}

// Unlimited never waits.
func Unlimited() *AdaptiveRateLimiter {
	return NewAdaptiveRateLimiter(0, 0)
}

func (a *AdaptiveRateLimiter) Wait(ctx context.Context) error {
	a.mu.Lock()
	lim := a.limiter
	jitter := a.jitter()
	a.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if jitter <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delays reports the current bounds.
func (a *AdaptiveRateLimiter) Delays() (time.Duration, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minDelay, a.maxDelay
}

// RecordSuccess eases the bounds back towards their configured values after
// a streak of successes.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		a.setDelays(
			maxDuration(time.Duration(float64(a.minDelay)*0.9), a.baseMin),
			maxDuration(time.Duration(float64(a.maxDelay)*0.9), a.baseMax),
		)
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)
		if newMin == 0 {
			newMin = time.Second
		}
		if newMin > maxMinDelay {
			newMin = maxMinDelay
		}
		if newMax > maxMaxDelay {
			newMax = maxMaxDelay
		}
		a.setDelays(newMin, maxDuration(newMax, newMin))
		a.errorCount = 0
	}
}

func (a *AdaptiveRateLimiter) setDelays(min, max time.Duration) {
	a.minDelay = min
	a.maxDelay = max
	a.limiter.SetLimit(every(min))
}

func (a *AdaptiveRateLimiter) jitter() time.Duration {
	delta := a.maxDelay - a.minDelay
	if delta <= 0 {
		return 0
	}
	return time.Duration(a.rnd.Int63n(int64(delta)))
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
