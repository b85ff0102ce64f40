package station

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	hls "github.com/mogiioin/hls-m3u8"
	"github.com/rs/zerolog/log"

	"github.com/tunerbridge/tunerbridge/internal/facilities"
	"github.com/tunerbridge/tunerbridge/internal/geo"
	"github.com/tunerbridge/tunerbridge/internal/httpclient"
	"github.com/tunerbridge/tunerbridge/internal/upstream"
)

// TokenSource returns the current bearer token for outbound requests; it is
// satisfied by *credentials.Credentials without this package importing it
// directly, keeping the dependency direction client->credentials.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Service is a single market's station/EPG snapshot, refreshed in the
// background on CacheTimeout, with station-stream-URI resolution against
// the upstream watch API.
type Service struct {
	market   geo.Market
	id       uuid.UUID
	days     int
	client   *httpclient.Client
	tokens   TokenSource
	fac      *facilities.Store
	rewrite  bool
	disableCache bool
	cacheTimeout time.Duration

	mu       sync.RWMutex
	stations []Station
}

// New builds the initial station snapshot synchronously and returns an
// error — never panics — if the market is inactive or the snapshot cannot
// be built at all, since both are startup-fatal conditions the caller must
// decide how to handle.
func New(ctx context.Context, cfgUUID uuid.UUID, market geo.Market, days int, cacheTimeout time.Duration, disableCache, rewrite bool, client *httpclient.Client, tokens TokenSource, fac *facilities.Store) (*Service, error) {
	if !market.Active {
		return nil, fmt.Errorf("station: market %s (%s) is not active", market.DMA, market.Name)
	}
	s := &Service{
		market:       market,
		id:           uuid.NewSHA1(cfgUUID, []byte(market.DMA)),
		days:         days,
		client:       client,
		tokens:       tokens,
		fac:          fac,
		rewrite:      rewrite,
		disableCache: disableCache,
		cacheTimeout: cacheTimeout,
	}
	stations, err := s.buildStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("station: building initial snapshot for %s: %w", market.DMA, err)
	}
	s.mu.Lock()
	s.stations = stations
	s.mu.Unlock()
	return s, nil
}

// Serve implements suture.Service, refreshing the snapshot every
// cacheTimeout until ctx is canceled. A failed rebuild logs and keeps the
// previous snapshot rather than tearing down the service.
func (s *Service) Serve(ctx context.Context) error {
	if s.cacheTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.cacheTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stations, err := s.buildStations(ctx)
			if err != nil {
				log.Error().Err(err).Str("market", s.market.DMA).Msg("station: refresh failed, keeping previous snapshot")
				continue
			}
			s.mu.Lock()
			s.stations = stations
			s.mu.Unlock()
		}
	}
}

// Stations returns the current snapshot. When disableCache is set, a fresh
// snapshot is built synchronously on every call instead of reading the
// cached one.
func (s *Service) Stations(ctx context.Context) ([]Station, error) {
	if s.disableCache {
		return s.buildStations(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Station, len(s.stations))
	copy(out, s.stations)
	return out, nil
}

func (s *Service) Geo() geo.Market    { return s.market }
func (s *Service) UUID() uuid.UUID    { return s.id }
func (s *Service) Zipcodes() []string { return nil }
func (s *Service) Services() []Provider { return []Provider{s} }

type rawListing struct {
	ID              string   `json:"id"`
	ProgramID       string   `json:"programId"`
	Title           string   `json:"title"`
	EpisodeTitle    string   `json:"episodeTitle"`
	Description     string   `json:"description"`
	StartTime       int64    `json:"startTime"`
	EndTime         int64    `json:"endTime"`
	Genres          []string `json:"genres"`
	Season          int      `json:"season"`
	Episode         int      `json:"episode"`
	OriginalAirDate string   `json:"originalAirDate"`
	AirDate         string   `json:"airDate"`
	IsNew           bool     `json:"isNew"`
	Rating          string   `json:"rating"`
	IsMovie         bool     `json:"isMovie"`
	VideoProperties []string `json:"videoProperties"`
	Directors       []string `json:"directors"`
	Actors          []string `json:"actors"`
	PreferredImage  string   `json:"preferredImage"`
}

type rawStation struct {
	ID       string       `json:"id"`
	CallSign string       `json:"callSign"`
	Name     string       `json:"name"`
	Logo     string       `json:"logoUrl"`
	City     string       `json:"city"`
	Listings []rawListing `json:"listings"`
}

// buildStations fetches the market's current station/EPG list from
// upstream and assigns each station a channel number via resolveChannel. A
// station that resolveChannel can't bind is dropped with a logged warning
// rather than failing the whole refresh, since one bad station shouldn't
// take the market offline; the very first build (in New) still surfaces an
// error if it yields zero stations.
func (s *Service) buildStations(ctx context.Context) ([]Station, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("station: fetching token: %w", err)
	}

	uri := fmt.Sprintf(upstream.StationsURLFormat, s.market.DMA, time.Now().Unix(), s.days*24)
	resp, err := s.client.Get(ctx, uri, token)
	if err != nil {
		return nil, fmt.Errorf("station: fetching stations: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("station: stations request returned %d", resp.StatusCode)
	}

	var raws []rawStation
	if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
		return nil, fmt.Errorf("station: decoding stations: %w", err)
	}

	out := make([]Station, 0, len(raws))
	for _, r := range raws {
		channel, ok := s.resolveChannel(r)
		if !ok {
			log.Warn().Str("market", s.market.DMA).Str("callSign", r.CallSign).
				Msg("station: no channel number resolved, dropping station")
			continue
		}
		out = append(out, Station{
			ID:       r.ID,
			CallSign: r.CallSign,
			Name:     r.Name,
			Channel:  channel,
			Logo:     r.Logo,
			City:     r.City,
			Active:   true,
			Listings: convertListings(r.Listings, s.market.TimeZone),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("station: no stations resolved for market %s", s.market.DMA)
	}
	return out, nil
}

// resolveChannel assigns r a channel number: first by a literal "N.N" prefix
// already present in its call sign, else by call-sign detection run against
// r.Name and then r.CallSign, feeding whichever matches first to a facilities
// lookup keyed on the market id, base call sign, and sub-channel.
func (s *Service) resolveChannel(r rawStation) (string, bool) {
	if channel, ok := facilities.DirectChannel(r.CallSign); ok {
		return channel, true
	}
	callSign, subChannel, ok := facilities.DetectCallSign(r.Name)
	if !ok {
		callSign, subChannel, ok = facilities.DetectCallSign(r.CallSign)
	}
	if !ok {
		return "", false
	}
	return s.fac.Lookup(s.market.DMA, callSign, subChannel)
}

func convertListings(raws []rawListing, tz string) []Listing {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	out := make([]Listing, 0, len(raws))
	for _, r := range raws {
		l := Listing{
			ID:              r.ID,
			ProgramID:       r.ProgramID,
			Title:           r.Title,
			EpisodeTitle:    r.EpisodeTitle,
			Description:     r.Description,
			StartTime:       time.Unix(r.StartTime, 0).In(loc),
			EndTime:         time.Unix(r.EndTime, 0).In(loc),
			Genres:          r.Genres,
			Season:          r.Season,
			Episode:         r.Episode,
			IsNew:           r.IsNew,
			Rating:          r.Rating,
			IsMovie:         r.IsMovie,
			VideoProperties: r.VideoProperties,
			Directors:       r.Directors,
			Actors:          r.Actors,
			PreferredImage:  r.PreferredImage,
		}
		if t, err := time.ParseInLocation("2006-01-02", r.OriginalAirDate, loc); err == nil {
			l.OriginalAirDate = &t
		}
		if t, err := time.ParseInLocation("2006-01-02", r.AirDate, loc); err == nil {
			l.AirDate = &t
		}
		l.PreviouslyShown = l.OriginalAirDate != nil && !l.IsNew
		out = append(out, l)
	}
	return out
}

type watchResponse struct {
	StreamURL string `json:"streamUrl"`
}

// StationStreamURI resolves stationID to a playable HLS URL:
//  1. GET the watch endpoint for stationID + the market's coordinates,
//     which returns a streamUrl.
//  2. If rewrite is enabled and streamUrl's host matches the known indirect
//     CDN host, rewrite it straight to the <location>.upstreamtv.example
//     host named in its /proxy/<location>/... path and return that, without
//     the extra fetch/parse below.
//  3. Otherwise fetch streamUrl and attempt to parse it as an HLS master
//     playlist; if it is one, pick the highest-bandwidth variant and
//     resolve its URI against streamUrl's base.
//  4. If it isn't a master playlist (or parsing fails), streamUrl itself is
//     returned unchanged — it's already a playable media playlist.
func (s *Service) StationStreamURI(ctx context.Context, stationID string) (string, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	lat := strconv.FormatFloat(s.market.Latitude, 'f', -1, 64)
	lon := strconv.FormatFloat(s.market.Longitude, 'f', -1, 64)
	uri := fmt.Sprintf(upstream.WatchURLFormat, stationID, lat, lon)
	resp, err := s.client.Get(ctx, uri, token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("station: watch request for %s returned %d", stationID, resp.StatusCode)
	}
	var wr watchResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return "", fmt.Errorf("station: decoding watch response: %w", err)
	}
	if wr.StreamURL == "" {
		return "", fmt.Errorf("station: watch response for %s missing streamUrl", stationID)
	}

	if s.rewrite {
		if direct, ok := rewriteDirectURL(wr.StreamURL); ok {
			return direct, nil
		}
	}

	playlistResp, err := s.client.Get(ctx, wr.StreamURL, "")
	if err != nil {
		return wr.StreamURL, nil
	}
	defer playlistResp.Body.Close()
	if playlistResp.StatusCode < 200 || playlistResp.StatusCode >= 300 {
		return wr.StreamURL, nil
	}

	master := &hls.MasterPlaylist{}
	if err := master.DecodeFrom(playlistResp.Body, false); err != nil || len(master.Variants) == 0 {
		return wr.StreamURL, nil
	}

	base, err := url.Parse(wr.StreamURL)
	if err != nil {
		return wr.StreamURL, nil
	}

	var best *hls.Variant
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return wr.StreamURL, nil
	}
	resolved, err := base.Parse(best.URI)
	if err != nil {
		return wr.StreamURL, nil
	}
	return resolved.String(), nil
}

// rewriteDirectURL rewrites a proxied stream URL on upstream.HLSIndirectHost
// to the direct CDN host named in its /proxy/<location>/... path segment,
// bypassing the indirection entirely. ok is false if raw isn't on that host
// or doesn't carry a /proxy/<location> segment.
func rewriteDirectURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host != upstream.HLSIndirectHost {
		return "", false
	}
	const marker = "/proxy/"
	i := strings.Index(u.Path, marker)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimPrefix(u.Path[i+len(marker):], "/")
	location := rest
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		location = rest[:j]
	}
	if location == "" {
		return "", false
	}
	direct := fmt.Sprintf(upstream.DirectHostFormat, location)
	if u.RawQuery != "" {
		direct += "?" + u.RawQuery
	}
	return direct, true
}
