package watch

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket limiting how many runs start per hour.
type RateLimiter struct {
	mu sync.Mutex

	capacity   float64       // max tokens
	refillRate float64       // tokens per second
	interval   time.Duration // minimum wait when empty

	tokens    float64
	lastTime  time.Time
	waitCount int
}

// NewRateLimiter creates a limiter allowing perHour runs, with a burst of
// a tenth of that.
func NewRateLimiter(perHour int) *RateLimiter {
	if perHour <= 0 {
		perHour = 60
	}
	capacity := float64(perHour) / 10
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		capacity:   capacity,
		refillRate: float64(perHour) / 3600.0,
		interval:   time.Second,
		tokens:     capacity,
		lastTime:   time.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := rl.deficitWait()
		rl.waitCount++
		rl.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Delay returns how long the next Wait would block, without taking a token.
func (rl *RateLimiter) Delay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens >= 1 {
		return 0
	}
	return rl.deficitWait()
}

func (rl *RateLimiter) deficitWait() time.Duration {
	deficit := 1 - rl.tokens
	wait := time.Duration(deficit / rl.refillRate * float64(time.Second))
	if wait < rl.interval {
		wait = rl.interval
	}
	return wait
}

func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.lastTime = now
	}
}

// RateLimiterStats contains rate limiter statistics.
type RateLimiterStats struct {
	Tokens     float64 `json:"tokens"`
	Capacity   float64 `json:"capacity"`
	RefillRate float64 `json:"refill_rate"`
	WaitCount  int     `json:"wait_count"`
}

// Stats returns a snapshot of the limiter.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return RateLimiterStats{
		Tokens:     rl.tokens,
		Capacity:   rl.capacity,
		RefillRate: rl.refillRate,
		WaitCount:  rl.waitCount,
	}
}

// Reset restores full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = rl.capacity
	rl.lastTime = time.Now()
}
