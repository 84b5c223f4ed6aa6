// Package timectrl paces the fixed-rate loops of the tracking session: the
// ~30 Hz frame loop and the 20 Hz continuous-input loop each run on their
// own Loop.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Loop invokes registered listeners at a fixed interval until the context is
// cancelled or Stop is called. Listeners run sequentially on the loop
// goroutine; a slow listener delays the next tick rather than overlapping it.
type Loop struct {
	interval time.Duration

	mu        sync.Mutex
	listeners []func(time.Time)
	quit      chan struct{}
	stopped   bool
}

// NewLoop constructs a loop with the given tick interval.
func NewLoop(interval time.Duration) *Loop {
	return &Loop{
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Interval returns the configured tick interval.
func (l *Loop) Interval() time.Duration { return l.interval }

// AddListener registers a callback invoked on every tick.
func (l *Loop) AddListener(fn func(time.Time)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Start runs the loop in a separate goroutine and returns a channel that is
// closed when the loop exits.
func (l *Loop) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.quit:
				return
			case now := <-ticker.C:
				l.mu.Lock()
				listeners := make([]func(time.Time), len(l.listeners))
				copy(listeners, l.listeners)
				l.mu.Unlock()
				for _, fn := range listeners {
					fn(now)
				}
			}
		}
	}()
	return done
}

// Stop ends the loop. It is idempotent and safe to call from a listener.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.quit)
}
