package httpclient

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostSemaphore is a process-global per-host concurrency limiter. All callers
// in the process share it for a given host, preventing a thundering herd when
// several background refreshers and in-flight streams hit the same upstream
// host at once.
type HostSemaphore struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	limit int
}

// GlobalHostSem caps concurrent requests to any single upstream host.
var GlobalHostSem = NewHostSemaphore(4)

func NewHostSemaphore(concurrency int) *HostSemaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HostSemaphore{sems: make(map[string]chan struct{}), limit: concurrency}
}

// Acquire blocks until a slot is free for host and returns a release func.
func (h *HostSemaphore) Acquire(host string) func() {
	sem := h.semFor(host)
	sem <- struct{}{}
	return func() { <-sem }
}

func (h *HostSemaphore) semFor(host string) chan struct{} {
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Scheme + "://" + u.Host
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sems[host]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.sems[host] = s
	}
	return s
}

// HostLimiter is a process-global per-host request-rate limiter, complementing
// HostSemaphore: the semaphore bounds how many requests to a host are in
// flight at once, the limiter bounds how often new ones may start.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// GlobalHostLimiter allows a burst of 5 requests per host with steady-state
// refill of 10 requests/second, generous enough not to throttle normal
// station/facilities refresh traffic but enough to blunt a misbehaving client.
var GlobalHostLimiter = NewHostLimiter(rate.Limit(10), 5)

func NewHostLimiter(r rate.Limit, burst int) *HostLimiter {
	return &HostLimiter{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Scheme + "://" + u.Host
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.r, h.burst)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until a token is available for host or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.limiterFor(host).Wait(ctx)
}
