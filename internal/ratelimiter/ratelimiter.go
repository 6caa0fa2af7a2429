// Package ratelimiter throttles chunk ingest with token buckets.
//
// A Limiter combines one global bucket with one bucket per key (the owner of
// an upload). A request passes only when both buckets have a token. Per-key
// buckets are created on demand and pruned once idle.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes a Limiter. A zero rate disables that bucket.
type Config struct {
	// Rate is the sustained global rate in requests per second
	Rate float64

	// Burst is the global bucket capacity; defaults to Rate rounded up
	Burst int

	// PerKeyRate is the sustained rate of each key in requests per second
	PerKeyRate float64

	// PerKeyBurst is the capacity of each key bucket; defaults to PerKeyRate
	// rounded up
	PerKeyBurst int

	// IdleTimeout is how long a key bucket survives without use before Prune
	// drops it
	IdleTimeout time.Duration
}

// Limiter is safe for concurrent use. A nil *Limiter allows everything.
type Limiter struct {
	global *rate.Limiter

	perKey      rate.Limit
	perKeyBurst int
	idle        time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter. It returns nil when both rates are zero, so callers
// can keep a nil limiter for "unlimited".
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 && cfg.PerKeyRate <= 0 {
		return nil
	}

	l := &Limiter{
		perKey:      rate.Limit(cfg.PerKeyRate),
		perKeyBurst: burstFor(cfg.PerKeyRate, cfg.PerKeyBurst),
		idle:        cfg.IdleTimeout,
		buckets:     make(map[string]*bucket),
	}
	if cfg.Rate > 0 {
		l.global = rate.NewLimiter(rate.Limit(cfg.Rate), burstFor(cfg.Rate, cfg.Burst))
	}
	if l.idle <= 0 {
		l.idle = 10 * time.Minute
	}
	return l
}

func burstFor(r float64, burst int) int {
	if burst > 0 {
		return burst
	}
	b := int(r)
	if float64(b) < r {
		b++
	}
	return max(b, 1)
}

// Allow reports whether a request for key may proceed now, consuming a
// token from each bucket when it does.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}

	now := time.Now()
	keyed := l.bucket(key, now)

	if l.global != nil && keyed != nil {
		// Reserve on both so a key denial does not burn a global token.
		g := l.global.ReserveN(now, 1)
		if !g.OK() || g.DelayFrom(now) > 0 {
			g.CancelAt(now)
			return false
		}
		if !keyed.AllowN(now, 1) {
			g.CancelAt(now)
			return false
		}
		return true
	}
	if l.global != nil {
		return l.global.AllowN(now, 1)
	}
	return keyed.AllowN(now, 1)
}

// Wait blocks until a request for key may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	if keyed := l.bucket(key, time.Now()); keyed != nil {
		if err := keyed.Wait(ctx); err != nil {
			return err
		}
	}
	if l.global != nil {
		return l.global.Wait(ctx)
	}
	return nil
}

// Prune drops key buckets idle since before now minus the idle timeout and
// returns how many were dropped.
func (l *Limiter) Prune(now time.Time) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Keys returns the number of live key buckets.
func (l *Limiter) Keys() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucket(key string, now time.Time) *rate.Limiter {
	if l.perKey <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.perKey, l.perKeyBurst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}
