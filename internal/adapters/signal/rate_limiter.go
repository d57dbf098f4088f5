package signal

import (
	"sync"
	"time"

	"github.com/quorumlab/quorum/internal/domain"
)

// JoinRateLimiter caps how often one user may join rooms, a cheap
// guard against join/leave flapping loops in misbehaving clients.
type JoinRateLimiter struct {
	mu        sync.Mutex
	history   map[domain.UserID][]time.Time
	limit     int
	interval  time.Duration
	lastSweep time.Time
}

func NewJoinRateLimiter(limit int, interval time.Duration) *JoinRateLimiter {
	return &JoinRateLimiter{
		history:   make(map[domain.UserID][]time.Time),
		limit:     limit,
		interval:  interval,
		lastSweep: time.Now(),
	}
}

func (rl *JoinRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)
	rl.sweepLocked(now, windowStart)

	attempts := rl.history[uid]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[uid] = fresh
	return true
}

// sweepLocked drops users whose attempts have all aged out of the
// window, keeping the map bounded by currently active users. Runs at
// most once per interval.
func (rl *JoinRateLimiter) sweepLocked(now, windowStart time.Time) {
	if now.Sub(rl.lastSweep) < rl.interval {
		return
	}
	rl.lastSweep = now
	for uid, attempts := range rl.history {
		idle := true
		for _, t := range attempts {
			if t.After(windowStart) {
				idle = false
				break
			}
		}
		if idle {
			delete(rl.history, uid)
		}
	}
}
