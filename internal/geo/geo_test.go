package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunerbridge/tunerbridge/internal/httpclient"
)

func testClient(t *testing.T, handler http.HandlerFunc) *httpclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := httpclient.New()
	c.HTTP.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})
	return c
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestResolveSkipsInactiveZipFallsBackToIP(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/zip/"):
			json.NewEncoder(w).Encode(Market{DMA: "501", Name: "New York", Active: false})
		default:
			json.NewEncoder(w).Encode(Market{DMA: "807", Name: "San Francisco", Active: true, Latitude: 37.7, Longitude: -122.4})
		}
	})

	m, err := Resolve(context.Background(), client, []string{"10001"})
	require.NoError(t, err)
	assert.Equal(t, "807", m.DMA)
	assert.Equal(t, "America/Los_Angeles", m.TimeZone)
}

func TestResolveUsesFirstActiveZip(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/99999") {
			json.NewEncoder(w).Encode(Market{DMA: "501", Name: "New York", Active: true, Latitude: 40.7, Longitude: -74.0})
			return
		}
		json.NewEncoder(w).Encode(Market{Active: false})
	})

	m, err := Resolve(context.Background(), client, []string{"00000", "99999"})
	require.NoError(t, err)
	assert.Equal(t, "501", m.DMA)
}

func TestLookupTimeZoneUnknownCoordinates(t *testing.T) {
	_, ok := lookupTimeZone(0, 0)
	assert.False(t, ok)
}
