package restream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunerbridge/tunerbridge/internal/httpclient"
)

type fakeResolver struct{ url string }

func (f fakeResolver) StationStreamURI(ctx context.Context, stationID string) (string, error) {
	return f.url, nil
}

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRunServesSegmentsThenExhausts(t *testing.T) {
	var playlistCalls int32

	var segURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/playlist.m3u8":
			n := atomic.AddInt32(&playlistCalls, 1)
			if n == 1 {
				w.Write([]byte("#EXTM3U\n#EXTINF:2.0,\nseg1.ts\n"))
			} else {
				// Same segment again: no new unplayed segment -> exhausted.
				w.Write([]byte("#EXTM3U\n#EXTINF:2.0,\nseg1.ts\n"))
			}
		case "/seg1.ts":
			w.Write([]byte("tsdata"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	segURL = srv.URL + "/seg1.ts"
	_ = segURL

	client := httpclient.New()
	client.HTTP.Transport = rtFunc(func(req *http.Request) (*http.Response, error) {
		return http.DefaultTransport.RoundTrip(req)
	})

	sess := NewSession("s1", fakeResolver{url: srv.URL + "/playlist.m3u8"}, client)
	var buf bytes.Buffer
	reason, err := sess.Run(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, ReasonUpstreamExhausted, reason)
	assert.Equal(t, "tsdata", buf.String())
}

func TestRunContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	client := httpclient.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess := NewSession("s1", fakeResolver{url: srv.URL}, client)
	var buf bytes.Buffer
	reason, err := sess.Run(ctx, &buf)
	assert.Equal(t, ReasonContextCanceled, reason)
	assert.Error(t, err)
}

type recordingResolver struct{ seen *int64 }

func (r recordingResolver) StationStreamURI(ctx context.Context, stationID string) (string, error) {
	*r.seen = ActiveSessions()
	return "", errors.New("no stream")
}

func TestActiveSessionsTracksInFlight(t *testing.T) {
	assert.GreaterOrEqual(t, ActiveSessions(), int64(0))

	before := ActiveSessions()
	var during int64
	sess := NewSession("s1", recordingResolver{seen: &during}, httpclient.New())
	reason, err := sess.Run(context.Background(), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, ReasonUpstreamExhausted, reason)
	assert.Equal(t, before+1, during)
	assert.Equal(t, before, ActiveSessions())
}

func TestIsClientDisconnectRecognizesBrokenPipeText(t *testing.T) {
	assert.True(t, isClientDisconnect(assertErr("write: broken pipe")))
	assert.False(t, isClientDisconnect(assertErr("some other error")))
}

type strErr string

func (e strErr) Error() string { return string(e) }
func assertErr(s string) error { return strErr(s) }
