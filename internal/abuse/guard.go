// Package abuse combines the per-IP request throttle and the escalating
// block list guarding the chat endpoint.
package abuse

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Window is the rolling interval for both the throttle and the
	// failure count.
	Window = 60 * time.Second

	// MaxFailures is the number of failures inside Window after which an
	// IP is blocked for the remainder of the process lifetime.
	MaxFailures = 3
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Guard tracks request rates and failures per client IP. Limiter and failure
// state ages out; the block set never does — once an IP crosses the failure
// threshold it stays blocked until the process restarts.
type Guard struct {
	mu       sync.Mutex
	limiters map[string]*entry
	failures map[string][]time.Time
	blocked  map[string]struct{}

	now     func() time.Time
	onBlock func(ip string)
}

func NewGuard(onBlock func(ip string)) *Guard {
	if onBlock == nil {
		onBlock = func(string) {}
	}
	return &Guard{
		limiters: make(map[string]*entry),
		failures: make(map[string][]time.Time),
		blocked:  make(map[string]struct{}),
		now:      time.Now,
		onBlock:  onBlock,
	}
}

// Allow reports whether the IP may issue a request now. Each IP gets one
// request per rolling window.
func (g *Guard) Allow(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.limiters[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(Window), 1)}
		g.limiters[ip] = e
	}
	e.lastSeen = g.now()
	return e.limiter.Allow()
}

// RecordFailure appends a failure timestamp for the IP.
func (g *Guard) RecordFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.failures[ip] = append(g.pruneLocked(ip, now), now)
}

// Blocked reports whether the IP is on the block list. Crossing the failure
// threshold inside the window moves the IP onto the list as a side effect.
func (g *Guard) Blocked(ip string) bool {
	g.mu.Lock()

	if _, ok := g.blocked[ip]; ok {
		g.mu.Unlock()
		return true
	}

	recent := g.pruneLocked(ip, g.now())
	g.failures[ip] = recent
	if len(recent) < MaxFailures {
		g.mu.Unlock()
		return false
	}

	g.blocked[ip] = struct{}{}
	delete(g.failures, ip)
	g.mu.Unlock()

	// Hook runs outside the lock; it writes logs.
	g.onBlock(ip)
	return true
}

// Run sweeps stale limiter and failure entries until the context ends, keeping
// memory bounded over long uptimes. The block set is exempt on purpose.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for ip, e := range g.limiters {
		if now.Sub(e.lastSeen) > Window {
			delete(g.limiters, ip)
		}
	}
	for ip := range g.failures {
		if recent := g.pruneLocked(ip, now); len(recent) == 0 {
			delete(g.failures, ip)
		} else {
			g.failures[ip] = recent
		}
	}
}

// pruneLocked returns the IP's failures still inside the window. Caller holds g.mu.
func (g *Guard) pruneLocked(ip string, now time.Time) []time.Time {
	var recent []time.Time
	for _, t := range g.failures[ip] {
		if now.Sub(t) < Window {
			recent = append(recent, t)
		}
	}
	return recent
}
