// Package rate paces the fleet scheduler at a fixed tick rate.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket schedules ticks at a fixed rate.
//
// Unlike time.Ticker, which silently drops ticks when the receiver is slow,
// the bucket lets a late sweep catch up: up to maxBurst ticks that were
// missed while a sweep overran are released back to back, after which the
// schedule returns to its steady rate.
//
// # Algorithm
//
// The bucket keeps a virtual "drip" time that advances at the configured
// rate. Each call to Next returns when the next tick should run. If we are
// behind schedule, the tick runs immediately.
//
// # Thread Safety
//
// LeakyBucket is safe for concurrent use, although the fleet only drives it
// from its run loop.
//
// # Example
//
//	lb := NewLeakyBucket(20) // 20 ticks per second
//
//	for {
//	    if err := lb.Wait(ctx); err != nil {
//	        return err
//	    }
//	    supervisor.Tick()
//	}
type LeakyBucket struct {
	rate        float64 // Ticks per second
	lastDrip    time.Time
	accumulated float64 // Fractional ticks owed
	maxBurst    float64
	now         func() time.Time
	mu          sync.Mutex

	totalTicks    atomic.Int64
	totalWaitTime atomic.Int64 // nanoseconds
	caughtUp      atomic.Int64 // ticks released without waiting
}

// NewLeakyBucket creates a pacer at rate ticks per second.
// A non-positive rate falls back to 1.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, 1.0)
}

// NewLeakyBucketWithBurst creates a pacer that may release up to maxBurst
// overdue ticks back to back.
func NewLeakyBucketWithBurst(rate float64, maxBurst float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1.0
	}
	if maxBurst < 1.0 {
		maxBurst = 1.0
	}
	return &LeakyBucket{
		rate:     rate,
		lastDrip: time.Now(),
		maxBurst: maxBurst,
		now:      time.Now,
	}
}

// Next returns when the next tick should run.
//
// The returned time may be in the past if we are behind schedule,
// meaning the tick should run immediately.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.now()
	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > lb.maxBurst {
		lb.accumulated = lb.maxBurst
	}

	lb.totalTicks.Add(1)

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		lb.lastDrip = now
		lb.caughtUp.Add(1)
		return now
	}

	deficit := 1.0 - lb.accumulated
	wait := time.Duration(deficit * float64(time.Second) / lb.rate)
	lb.accumulated = 0

	next := now.Add(wait)
	// Drip from the scheduled time, not from now, so waking up at next does
	// not count the same interval twice.
	lb.lastDrip = next
	lb.totalWaitTime.Add(int64(wait))

	return next
}

// Wait blocks until the next tick should run or ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	wait := lb.Next().Sub(lb.now())
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the tick rate without releasing accumulated ticks.
func (lb *LeakyBucket) SetRate(rate float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if rate <= 0 {
		rate = 1.0
	}
	lb.rate = rate
	lb.accumulated = 0
	lb.lastDrip = lb.now()
}

// GetRate returns the tick rate in ticks per second.
func (lb *LeakyBucket) GetRate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Interval returns the steady-state time between ticks.
func (lb *LeakyBucket) Interval() time.Duration {
	return time.Duration(float64(time.Second) / lb.GetRate())
}

// Stats returns pacing statistics.
func (lb *LeakyBucket) Stats() LeakyBucketStats {
	lb.mu.Lock()
	rate, maxBurst := lb.rate, lb.maxBurst
	lb.mu.Unlock()

	return LeakyBucketStats{
		Rate:          rate,
		MaxBurst:      maxBurst,
		TotalTicks:    lb.totalTicks.Load(),
		CaughtUp:      lb.caughtUp.Load(),
		TotalWaitTime: time.Duration(lb.totalWaitTime.Load()),
	}
}

// LeakyBucketStats contains statistics about the pacer.
type LeakyBucketStats struct {
	Rate          float64       `json:"rate"`
	MaxBurst      float64       `json:"maxBurst"`
	TotalTicks    int64         `json:"totalTicks"`
	CaughtUp      int64         `json:"caughtUp"` // Ticks released immediately because the loop was late
	TotalWaitTime time.Duration `json:"totalWaitTime"`
}
