// Package fetch implements the authenticated HTTP session, request
// throttling, and headless rendering used by the traversal engine.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles requests against the target site: a short delay
// between consecutive requests, plus a longer cool-down once every
// threshold requests. Each knob is independently disablable by passing
// zero, so a fully unthrottled mode is possible for trusted/local runs.
type Limiter struct {
	mu        sync.Mutex
	count     int
	threshold int
	longDelay time.Duration
	// pacer enforces the short delay as token pacing; nil disables it.
	pacer *rate.Limiter
}

// NewLimiter builds a Limiter. threshold is the number of requests
// between long pauses; shortDelay the spacing between ordinary
// requests; longDelay the periodic cool-down. Zero disables a knob.
func NewLimiter(threshold int, shortDelay, longDelay time.Duration) *Limiter {
	l := &Limiter{
		threshold: threshold,
		longDelay: longDelay,
	}
	if shortDelay > 0 {
		l.pacer = rate.NewLimiter(rate.Every(shortDelay), 1)
	}
	return l
}

// Wait blocks for the delay owed to the upcoming request and advances
// the request counter. Every threshold-th request waits the long delay
// instead of the short one.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	n := l.count
	l.count++
	longPause := l.threshold > 0 && l.longDelay > 0 && n%l.threshold == l.threshold-1
	l.mu.Unlock()

	if longPause {
		if err := pause(ctx, l.longDelay); err != nil {
			return err
		}
		return nil
	}
	if l.pacer != nil {
		if err := l.pacer.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return nil
}

// Count reports how many requests have been admitted so far.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
