// Package geo resolves a configured zipcode (or, failing that, the
// caller's public IP) to an upstream market, enriching it with a timezone.
package geo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tunerbridge/tunerbridge/internal/httpclient"
	"github.com/tunerbridge/tunerbridge/internal/upstream"
)

// Market describes a resolved upstream market: its geographic center,
// identity, and whether the service is active there.
type Market struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	DMA       string  `json:"DMA"`
	Name      string  `json:"name"`
	Active    bool    `json:"active"`
	TimeZone  string  `json:"timezone,omitempty"`
}

// Resolve tries each zipcode in order, returning the first result where
// Active is true. If none are active (or none are configured), it falls
// back to resolving by the caller's public IP.
func Resolve(ctx context.Context, client *httpclient.Client, zipcodes []string) (Market, error) {
	for _, zip := range zipcodes {
		m, err := byZip(ctx, client, zip)
		if err != nil {
			continue
		}
		if m.Active {
			return withTimeZone(m), nil
		}
	}
	m, err := byIP(ctx, client)
	if err != nil {
		return Market{}, fmt.Errorf("geo: could not resolve a market: %w", err)
	}
	return withTimeZone(m), nil
}

func byZip(ctx context.Context, client *httpclient.Client, zip string) (Market, error) {
	return fetch(ctx, client, fmt.Sprintf(upstream.ZipGeoURLFormat, zip))
}

func byIP(ctx context.Context, client *httpclient.Client) (Market, error) {
	return fetch(ctx, client, upstream.IPGeoURL)
}

func fetch(ctx context.Context, client *httpclient.Client, uri string) (Market, error) {
	resp, err := client.Get(ctx, uri, "")
	if err != nil {
		return Market{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Market{}, fmt.Errorf("geo: %s returned %d", uri, resp.StatusCode)
	}
	var m Market
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Market{}, fmt.Errorf("geo: decoding market: %w", err)
	}
	return m, nil
}

// withTimeZone enriches m with a timezone name looked up by its
// coordinates. Resolution failure is non-fatal: an empty TimeZone means the
// XMLTV generator falls back to UTC for this market's original-air-date
// fields.
func withTimeZone(m Market) Market {
	if tz, ok := lookupTimeZone(m.Latitude, m.Longitude); ok {
		m.TimeZone = tz
	}
	return m
}
