package api

import (
	"net"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// Per-remote rate limiter pool.
type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	mu            sync.Mutex
	m             map[string]*limiterEntry
	rps           rate.Limit
	burst         int
	now           func() time.Time
	startCleanup  sync.Once
	stopOnce      sync.Once
	ttl           time.Duration
	cleanupPeriod time.Duration
	stopCh        chan struct{}
}

func newLimiterPool(rps float64, burst int, now func() time.Time) *limiterPool {
	return &limiterPool{
		m:             make(map[string]*limiterEntry),
		rps:           rate.Limit(rps),
		burst:         burst,
		now:           now,
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
		stopCh:        make(chan struct{}),
	}
}

// get limiter for key, create if missing; start cleanup once
func (p *limiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = p.now()
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: p.now()}
	return l
}

// Allow reports whether a request from key may proceed.
func (p *limiterPool) Allow(key string) bool {
	return p.get(key).AllowN(p.now(), 1)
}

func (p *limiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Shutdown stops the cleanup goroutine.
func (p *limiterPool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// sweep removes limiters unused for longer than the TTL.
func (p *limiterPool) sweep() {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
