package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage        = "send_message"
	ActionTyping             = "typing"
	ActionCreateConversation = "create_chat"
	ActionBridgeRequest      = "bridge_request"
)

// Limit allows Burst events at once, refilled one token per Every.
type Limit struct {
	Every time.Duration
	Burst int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key and action. Actions without a
// configured limit are always allowed.
type RateLimiter struct {
	limits  map[string]Limit
	entries map[string]*entry
	mutex   sync.Mutex
	now     func() time.Time
}

func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// DefaultLimits mirrors the server-side quotas so the client does not spend
// requests the server would reject anyway.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ActionSendMessage:        {Every: 500 * time.Millisecond, Burst: 10},
		ActionCreateConversation: {Every: 12 * time.Second, Burst: 5},
		ActionTyping:             {Every: 3 * time.Second, Burst: 1},
		ActionBridgeRequest:      {Every: 50 * time.Millisecond, Burst: 40},
	}
}

// Allow consumes a token for key/action when one is available. Otherwise it
// reports how long until the next token.
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	rl.mutex.Lock()
	limit, ok := rl.limits[action]
	if !ok {
		rl.mutex.Unlock()
		return true, 0
	}
	now := rl.now()
	id := key + ":" + action
	e, exists := rl.entries[id]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(rate.Every(limit.Every), limit.Burst)}
		rl.entries[id] = e
	}
	e.lastSeen = now
	rl.mutex.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, limit.Every
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Reset forgets the bucket for key/action, e.g. after an explicit typing stop.
func (rl *RateLimiter) Reset(key, action string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.entries, key+":"+action)
}

// Cleanup removes buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for id, e := range rl.entries {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(rl.entries, id)
		}
	}
}

// StartCleanupRoutine runs Cleanup every interval until ctx ends.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(2 * interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}
