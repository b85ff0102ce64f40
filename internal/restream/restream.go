// Package restream implements the paced HLS re-streaming engine: for one
// /watch/{id} client, it repeatedly polls the upstream media playlist,
// walks newly appeared segments in order, and writes each segment's bytes
// to the client no faster than real playback time, so a client that could
// read faster than playback never gets ahead of what a real tuner would
// deliver.
package restream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	hls "github.com/mogiioin/hls-m3u8"
	"github.com/rs/zerolog/log"

	"github.com/tunerbridge/tunerbridge/internal/httpclient"
)

// countDownStart is how many seconds of playback a resolved stream URL is
// trusted for before it must be re-resolved against the upstream watch API.
const countDownStart = 9900.0

// maxBufferedSegments/drainTo: once the known-segment buffer grows to
// maxBufferedSegments, the oldest drainTo of them are dropped, whether or
// not they were played, since the playlist itself only ever looks a little
// way back.
const (
	maxBufferedSegments = 30
	drainTo             = 10
)

const (
	playlistMaxRetries = 5
	segmentMaxRetries  = 10
)

// StreamResolver resolves a station id to a fresh, playable stream URL —
// satisfied by station.Provider (and station.Multiplexer) without this
// package importing it directly.
type StreamResolver interface {
	StationStreamURI(ctx context.Context, stationID string) (string, error)
}

type segment struct {
	url      string
	duration float64
	played   bool
}

// Session drives one client's restream for one station id.
type Session struct {
	stationID string
	resolver  StreamResolver
	client    *httpclient.Client

	url       string
	countDown float64
	segments  []segment

	secondsServed float64
	start         time.Time
}

// NewSession builds a Session for stationID. The first playlist resolution
// happens lazily on the first call to Run.
func NewSession(stationID string, resolver StreamResolver, client *httpclient.Client) *Session {
	if client == nil {
		client = httpclient.New()
	}
	return &Session{stationID: stationID, resolver: resolver, client: client, start: time.Now()}
}

// TerminationReason explains why Run returned.
type TerminationReason int

const (
	// ReasonClientDisconnect: the write to w failed because the client
	// went away (broken pipe, connection reset, closed context).
	ReasonClientDisconnect TerminationReason = iota
	// ReasonUpstreamExhausted: the upstream playlist stopped producing any
	// new, unplayed segment, or the stream URL could not be (re-)resolved.
	ReasonUpstreamExhausted
	// ReasonSegmentFetchFailed: a segment could not be fetched after
	// segmentMaxRetries attempts.
	ReasonSegmentFetchFailed
	// ReasonContextCanceled: ctx was canceled (server shutdown).
	ReasonContextCanceled
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonClientDisconnect:
		return "client disconnected"
	case ReasonUpstreamExhausted:
		return "upstream playlist exhausted"
	case ReasonSegmentFetchFailed:
		return "segment fetch failed"
	case ReasonContextCanceled:
		return "context canceled"
	default:
		return "unknown"
	}
}

// activeSessions counts in-flight Run calls; read it through ActiveSessions.
var activeSessions int64

// ActiveSessions returns the current count of in-flight Run calls.
func ActiveSessions() int64 { return atomic.LoadInt64(&activeSessions) }

// Run drives the restream loop, writing segment bytes to w until the
// client disconnects, the upstream playlist runs dry, the stream URL cannot
// be (re-)resolved, or a segment fetch exhausts its retries. It always returns a TerminationReason; err is
// non-nil only for ReasonSegmentFetchFailed and ReasonContextCanceled.
func (s *Session) Run(ctx context.Context, w io.Writer) (TerminationReason, error) {
	atomic.AddInt64(&activeSessions, 1)
	defer atomic.AddInt64(&activeSessions, -1)

	for {
		select {
		case <-ctx.Done():
			return ReasonContextCanceled, ctx.Err()
		default:
		}

		if s.countDown <= 0 {
			fresh, err := s.resolver.StationStreamURI(ctx, s.stationID)
			if err != nil {
				log.Error().Err(err).Str("station", s.stationID).Msg("restream: could not resolve stream url")
				return ReasonUpstreamExhausted, nil
			}
			s.url = fresh
			s.countDown = countDownStart
		}

		playlist, err := s.fetchPlaylist(ctx)
		if err != nil {
			log.Warn().Err(err).Str("station", s.stationID).Msg("restream: playlist fetch failed, skipping interval")
			if !sleepCtx(ctx, time.Second) {
				return ReasonContextCanceled, ctx.Err()
			}
			continue
		}

		s.mergeSegments(playlist)

		if len(s.segments) >= maxBufferedSegments {
			s.segments = s.segments[drainTo:]
		}

		next := s.firstUnplayed()
		if next == nil {
			return ReasonUpstreamExhausted, nil
		}

		runtime := time.Since(s.start).Seconds()
		wait := s.secondsServed - 0.5*next.duration - runtime
		if wait > 0 {
			if !sleepCtx(ctx, time.Duration(wait*float64(time.Second))) {
				return ReasonContextCanceled, ctx.Err()
			}
		}

		data, err := s.fetchSegment(ctx, next.url)
		if err != nil {
			return ReasonSegmentFetchFailed, err
		}

		if _, err := w.Write(data); err != nil {
			// Any write failure here means the client's connection is
			// gone; isClientDisconnect just classifies it for logging.
			log.Debug().Err(err).Bool("recognized", isClientDisconnect(err)).
				Str("station", s.stationID).Msg("restream: write failed, ending session")
			return ReasonClientDisconnect, nil
		}

		next.played = true
		s.secondsServed += next.duration
		s.countDown -= next.duration
	}
}

func (s *Session) mergeSegments(playlist *hls.MediaPlaylist) {
	base, err := url.Parse(s.url)
	known := make(map[string]bool, len(s.segments))
	for _, seg := range s.segments {
		known[seg.url] = true
	}
	for _, seg := range playlist.Segments {
		if seg == nil || seg.URI == "" {
			continue
		}
		resolved := seg.URI
		if err == nil {
			if u, perr := base.Parse(seg.URI); perr == nil {
				resolved = u.String()
			}
		}
		if known[resolved] {
			continue
		}
		known[resolved] = true
		s.segments = append(s.segments, segment{url: resolved, duration: seg.Duration})
	}
}

func (s *Session) firstUnplayed() *segment {
	for i := range s.segments {
		if !s.segments[i].played {
			return &s.segments[i]
		}
	}
	return nil
}

func (s *Session) fetchPlaylist(ctx context.Context) (*hls.MediaPlaylist, error) {
	var lastErr error
	for attempt := 0; attempt < playlistMaxRetries; attempt++ {
		mp, err := s.fetchPlaylistOnce(ctx)
		if err == nil {
			return mp, nil
		}
		lastErr = err
		if attempt < playlistMaxRetries-1 {
			if !sleepCtx(ctx, backoff(attempt)) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (s *Session) fetchPlaylistOnce(ctx context.Context) (*hls.MediaPlaylist, error) {
	resp, err := s.client.Get(ctx, s.url, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("restream: playlist status %d", resp.StatusCode)
	}
	mp := &hls.MediaPlaylist{}
	if err := mp.DecodeFrom(resp.Body, false); err != nil {
		return nil, err
	}
	return mp, nil
}

func (s *Session) fetchSegment(ctx context.Context, segURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < segmentMaxRetries; attempt++ {
		resp, err := s.client.Get(ctx, segURL, "")
		if err != nil {
			lastErr = err
		} else {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				lastErr = fmt.Errorf("restream: segment status %d", resp.StatusCode)
			} else {
				data, rerr := io.ReadAll(resp.Body)
				resp.Body.Close()
				if rerr == nil {
					return data, nil
				}
				lastErr = rerr
			}
		}
		if attempt < segmentMaxRetries-1 {
			if !sleepCtx(ctx, backoff(attempt)) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("restream: segment fetch exhausted retries: %w", lastErr)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(200*(attempt+1)) * time.Millisecond
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// isClientDisconnect recognizes the write errors that mean the client went
// away rather than a real server-side failure.
func isClientDisconnect(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection")
}
