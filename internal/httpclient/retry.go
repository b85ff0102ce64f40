package httpclient

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy controls when and how to retry a response.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int

	// Retry429: on 429, wait Retry-After (capped at Max429Wait) and retry.
	Retry429   bool
	Max429Wait time.Duration

	// Retry5xx: on 5xx, wait with exponential backoff and retry.
	Retry5xx   bool
	Backoff5xx time.Duration

	LogHeaders bool
}

// DefaultRetryPolicy matches the upstream client's documented retry bound:
// a request is retried up to MaxRetries times with exponential backoff
// before the last response is returned to the caller unchanged.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	Retry429:   true,
	Max429Wait: 30 * time.Second,
	Retry5xx:   true,
	Backoff5xx: 500 * time.Millisecond,
	LogHeaders: true,
}

// DoWithRetry performs req, retrying on transport failures and 429/5xx per
// policy, up to policy.MaxRetries additional attempts; transport failures
// back off like 5xx responses. A non-2xx status that isn't retried, or that
// survives all retries, is returned to the caller unchanged — DoWithRetry
// only returns a Go error for a transport failure (DNS, connection refused,
// timeout) that survives all retries or a canceled context, never for an
// HTTP error response. Concurrent requests to the same host are bounded by
// GlobalHostSem and paced by GlobalHostLimiter.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastResp *http.Response
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			var body io.Reader
			if req.GetBody != nil {
				b, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				body = b
			}
			req2, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
			if err != nil {
				return nil, err
			}
			req2.GetBody = req.GetBody
			req2.ContentLength = req.ContentLength
			for k, v := range req.Header {
				req2.Header[k] = v
			}
			req = req2
		}

		if err := GlobalHostLimiter.Wait(ctx, req.URL.String()); err != nil {
			return nil, err
		}
		release := GlobalHostSem.Acquire(req.URL.String())
		resp, err := client.Do(req)
		release()
		if err != nil {
			if ctx.Err() != nil || attempt >= maxRetries {
				return nil, err
			}
			wait := jitter(policy.Backoff5xx * time.Duration(int64(1)<<uint(attempt)))
			log.Ctx(ctx).Warn().Err(err).Str("host", req.URL.Host).
				Int("attempt", attempt+1).Dur("wait", wait).Msg("httpclient: transport error, retrying")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		code := resp.StatusCode
		if (code >= 200 && code < 300) || code == http.StatusNotModified {
			return resp, nil
		}

		if policy.LogHeaders {
			logDiagHeaders(req.URL.String(), code, resp.Header)
		}

		if code == http.StatusTooManyRequests && policy.Retry429 && attempt < maxRetries {
			drain(resp)
			wait := jitter(parseRetryAfter(resp.Header.Get("Retry-After"), policy.Max429Wait))
			log.Ctx(ctx).Warn().Str("host", req.URL.Host).Int("attempt", attempt+1).
				Dur("wait", wait).Msg("httpclient: 429, retrying")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			lastResp = nil
			continue
		}

		if code >= 500 && code < 600 && policy.Retry5xx && attempt < maxRetries {
			drain(resp)
			base := policy.Backoff5xx * time.Duration(int64(1)<<uint(attempt))
			wait := jitter(base)
			log.Ctx(ctx).Warn().Str("host", req.URL.Host).Int("status", code).
				Int("attempt", attempt+1).Dur("wait", wait).Msg("httpclient: 5xx, retrying")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			lastResp = nil
			continue
		}

		lastResp = resp
		break
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, fmt.Errorf("httpclient: exhausted retries for %s", req.URL.String())
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func logDiagHeaders(url string, code int, h http.Header) {
	var parts []string
	for _, key := range []string{"Retry-After", "X-RateLimit-Remaining", "Server"} {
		if v := h.Get(key); v != "" {
			parts = append(parts, key+"="+v)
		}
	}
	if len(parts) > 0 {
		log.Debug().Str("url", url).Int("status", code).Str("headers", strings.Join(parts, " ")).Send()
	}
}

func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	t, err := time.Parse(http.TimeFormat, s)
	if err != nil {
		return time.Second
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}

// jitter adds ±25% random jitter to d to spread retries across concurrent callers.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	frac := float64(d) * 0.25
	delta := time.Duration(rand.Int63n(int64(frac*2+1))) - time.Duration(frac)
	result := d + delta
	if result < 0 {
		return 0
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
