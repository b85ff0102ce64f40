// Package supervisor wraps this process's background workers (the
// facilities reloader and each market's station refresher) in a suture
// supervisor tree, so a panic or returned error in any one of them restarts
// just that worker instead of taking the process down. The SSDP responders
// and HTTP listeners run outside the tree.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Tree is the root supervisor for this process's background workers.
type Tree struct {
	root *suture.Supervisor
}

// New builds a Tree whose failures and restarts are logged through logger.
func New(logger zerolog.Logger) *Tree {
	spec := suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warn().Str("event", fmt.Sprintf("%v", ev)).Msg("supervisor: event")
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	}
	return &Tree{root: suture.New("tunerbridge", spec)}
}

// Add registers svc to run under the tree, restarted on failure.
func (t *Tree) Add(svc suture.Service) suture.ServiceToken {
	return t.root.Add(svc)
}

// ServeBackground starts the tree in a background goroutine, returning a
// channel that receives the terminal error (if any) when ctx is canceled.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// Func adapts a plain background-worker function (one that runs until ctx
// is canceled) into a suture.Service, for workers like the facilities
// reloader that don't otherwise need a named type.
type Func func(ctx context.Context) error

// Serve implements suture.Service.
func (f Func) Serve(ctx context.Context) error { return f(ctx) }
