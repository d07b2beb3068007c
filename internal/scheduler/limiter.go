package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/JakeFAU/citenet/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// Limiter is a counting semaphore held around every outbound API round trip.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inflight atomic.Int64
	peak     atomic.Int64
}

// NewLimiter creates a Limiter admitting n concurrent holders.
func NewLimiter(n int) (*Limiter, error) {
	if n < 1 {
		return nil, fmt.Errorf("limiter capacity must be >= 1, got %d", n)
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), capacity: int64(n)}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire request slot: %w", err)
	}
	cur := l.inflight.Add(1)
	for {
		peak := l.peak.Load()
		if cur <= peak || l.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	metrics.SetInflightRequests(cur)
	return nil
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	metrics.SetInflightRequests(l.inflight.Add(-1))
	l.sem.Release(1)
}

// Capacity reports the number of slots.
func (l *Limiter) Capacity() int {
	return int(l.capacity)
}

// InFlight reports the number of slots currently held.
func (l *Limiter) InFlight() int64 {
	return l.inflight.Load()
}

// Peak reports the highest number of slots held at once.
func (l *Limiter) Peak() int64 {
	return l.peak.Load()
}
