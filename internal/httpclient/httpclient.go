// Package httpclient provides the shared HTTP client, per-host concurrency
// and rate limiting, retry-with-backoff, and circuit breaking used by every
// component that talks to the upstream service (credentials, facilities,
// station, restream).
package httpclient

import (
	"net/http"
	"time"
)

// Default returns an HTTP client tuned for short request/response calls
// (login, station/listing fetches, facilities download).
func Default() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       30 * time.Second,
		},
	}
}

// ForStreaming returns a client with no overall deadline (a restream session
// can run for hours) but a response-header timeout so a dead upstream is
// detected quickly rather than hanging a tuner slot forever.
func ForStreaming() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
