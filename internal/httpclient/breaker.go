package httpclient

import (
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker wraps per-host *gobreaker.CircuitBreaker[any] instances.
// A breaker trips after a run of consecutive upstream failures and fails fast for a cooldown window instead of letting every caller burn
// its own retry budget against a known-dead host.
type CircuitBreaker struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// GlobalBreaker is the shared per-host breaker set for this process.
var GlobalBreaker = NewCircuitBreaker()

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{breakers: make(map[string]*gobreaker.CircuitBreaker[any])}
}

func (c *CircuitBreaker) forHost(host string) *gobreaker.CircuitBreaker[any] {
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Scheme + "://" + u.Host
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[host]
	if !ok {
		settings := gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}
		b = gobreaker.NewCircuitBreaker[any](settings)
		c.breakers[host] = b
	}
	return b
}

// Execute runs fn through the breaker for host. While the breaker is open,
// fn is not called and gobreaker.ErrOpenState is returned immediately.
func (c *CircuitBreaker) Execute(host string, fn func() (any, error)) (any, error) {
	return c.forHost(host).Execute(fn)
}
