// Package facilities builds and refreshes the channel-number index derived
// from the FCC broadcast-station licensing dataset, joined against the
// upstream service's own market list by fuzzy name matching.
package facilities

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sahilm/fuzzy"

	"github.com/tunerbridge/tunerbridge/internal/httpclient"
	"github.com/tunerbridge/tunerbridge/internal/upstream"
)

// Field indices into a pipe-delimited facility.dat record.
const (
	facCallSignIdx      = 5
	facChannelIdx       = 6
	facServiceIdx       = 10
	licExpirationIdx    = 15
	facStatusIdx        = 16
	nielsenDMAIdx       = 27
	tvVirtualChannelIdx = 28
)

// serviceList is the set of FCC service-type codes accepted: full-power and
// low-power digital television, plus their analog-era companion classes
// still present in the dataset.
var serviceList = map[string]bool{"DT": true, "TX": true, "TV": true, "TB": true, "LD": true, "DC": true}

// MaxFileAge is how long a cached facility.dat is trusted before a fresh
// download is attempted.
const MaxFileAge = 24 * time.Hour

// CheckInterval is how often the background refresher re-checks file age.
const CheckInterval = time.Hour

// fuzzyThreshold is the minimum sahilm/fuzzy match score accepted when
// joining a Nielsen DMA name to an upstream market name. sahilm/fuzzy scores
// are on a different scale than the original matcher's; this threshold was
// picked empirically to reject cross-market false positives while still
// matching "New York" against "New York, NY" style upstream names.
const fuzzyThreshold = 50

// Market is one entry from the upstream service's market catalog.
type Market struct {
	ID   string
	Name string
}

type facility struct {
	callSign       string
	facChannel     string
	virtualChannel string
}

// Store holds the parsed, filtered facilities index, keyed by upstream
// market id and normalized call sign. It is safe for concurrent use: Lookup
// reads a snapshot that Load/Run replace atomically.
type Store struct {
	cacheDir string
	client   *httpclient.Client

	mu    sync.RWMutex
	index map[string]map[string]facility // marketID -> callSign -> facility
}

// New returns a Store that reads/writes its cache under cacheDir.
func New(cacheDir string, client *httpclient.Client) *Store {
	if client == nil {
		client = httpclient.New()
	}
	return &Store{cacheDir: cacheDir, client: client, index: map[string]map[string]facility{}}
}

// Load populates the index, reusing the on-disk cache if it is fresh
// (younger than MaxFileAge), otherwise downloading and filtering a new
// facility.dat and rewriting the cache.
func (s *Store) Load(ctx context.Context, markets []Market) error {
	path := s.cachePath()
	raw, fresh := s.readCache(path)

	var err error
	if !fresh {
		raw, err = s.download(ctx)
		if err != nil {
			if len(raw) > 0 {
				log.Warn().Err(err).Msg("facilities: download failed, falling back to stale cache")
			} else {
				return fmt.Errorf("facilities: download: %w", err)
			}
		}
	}

	records := parseRecords(raw)
	filtered := filterRecords(records)

	nameToID := matchMarkets(filtered, markets)
	index := buildIndex(filtered, nameToID)

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	if !fresh {
		if err := s.writeCache(path, filtered); err != nil {
			log.Warn().Err(err).Msg("facilities: failed to write cache")
		}
	}

	log.Info().Int("markets", len(index)).Msg("facilities: index built")
	return nil
}

// Run reloads the index every CheckInterval until ctx is canceled. marketsFn
// is called on every tick to get the current market catalog, since the
// upstream market list can change between reloads.
func (s *Store) Run(ctx context.Context, marketsFn func(context.Context) ([]Market, error)) {
	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			markets, err := marketsFn(ctx)
			if err != nil {
				log.Error().Err(err).Msg("facilities: could not fetch markets for reload")
				continue
			}
			if err := s.Load(ctx, markets); err != nil {
				log.Error().Err(err).Msg("facilities: reload failed, keeping previous index")
			}
		}
	}
}

// callSignDirectChannel matches a call sign field that already encodes a
// literal channel number, e.g. "4.1 WNBC-DT", bypassing facility lookup.
var callSignDirectChannel = regexp.MustCompile(`^(\d+\.\d+)\s+.+`)

// callSignPattern extracts the base call sign (e.g. "WNBC" from "WNBCDT2" or
// "KABC" from "KABC2") and any trailing sub-channel digit(s), matching US
// (W/K-prefixed) broadcast call signs.
var callSignPattern = regexp.MustCompile(`^([KW][A-Z]{2,3})[A-Z]{0,2}(\d{0,2})$`)

// DetectCallSign extracts a base call sign and sub-channel from name (a
// station's name or call-sign field), per callSignPattern. ok is false if no
// field in name matches.
func DetectCallSign(name string) (callSign, subChannel string, ok bool) {
	for _, field := range strings.Fields(name) {
		field = strings.TrimSuffix(field, "-DT")
		field = strings.TrimSuffix(field, "-TV")
		if m := callSignPattern.FindStringSubmatch(field); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// DirectChannel reports whether name already contains a literal "N.N "
// channel prefix (e.g. "4.1 WNBC-DT"), returning it as-is if so.
func DirectChannel(name string) (channel string, ok bool) {
	if m := callSignDirectChannel.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	return "", false
}

// Lookup resolves (callSign, subChannel) within marketID to a channel
// number:
//  1. virtual_channel empty → fac_channel.
//  2. subChannel empty → fac_channel + ".1".
//  3. else → fac_channel + "." + subChannel.
//
// ok is false if marketID or callSign isn't present in the index.
func (s *Store) Lookup(marketID, callSign, subChannel string) (channel string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	market, ok := s.index[marketID]
	if !ok {
		return "", false
	}
	f, ok := market[callSign]
	if !ok {
		return "", false
	}
	if f.virtualChannel == "" {
		return f.facChannel, true
	}
	if subChannel == "" {
		return f.facChannel + ".1", true
	}
	return f.facChannel + "." + subChannel, true
}

func normalizeCallSign(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

func parseRecords(raw []byte) [][]string {
	lines := strings.Split(string(raw), "\n")
	out := make([][]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		out = append(out, strings.Split(line, "|"))
	}
	return out
}

// filterRecords keeps only currently licensed, non-expired, TV-service
// records, per the FCC dataset's own status/service/expiration fields.
// Expiration is compared at 23:59:59 UTC on the stated date, so a facility
// expiring "today" is still valid through the end of that day.
func filterRecords(records [][]string) [][]string {
	now := time.Now().UTC()
	out := make([][]string, 0, len(records))
	for _, r := range records {
		if len(r) <= tvVirtualChannelIdx {
			continue
		}
		if strings.TrimSpace(r[facStatusIdx]) != "LICEN" {
			continue
		}
		if !serviceList[strings.TrimSpace(r[facServiceIdx])] {
			continue
		}
		expStr := strings.TrimSpace(r[licExpirationIdx])
		if expStr != "" {
			exp, err := time.Parse("01/02/2006 15:04:05 -0700", expStr+" 23:59:59 +0000")
			if err == nil && exp.Before(now) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// matchMarkets joins each distinct Nielsen DMA name present in records to
// the best-scoring upstream market name, keeping only matches that clear
// fuzzyThreshold. The highest-scoring market wins when more than one clears
// the bar.
func matchMarkets(records [][]string, markets []Market) map[string]string {
	names := make([]string, len(markets))
	for i, m := range markets {
		names[i] = strings.ToLower(m.Name)
	}

	seen := map[string]bool{}
	result := map[string]string{}
	for _, r := range records {
		dma := strings.ToLower(strings.TrimSpace(r[nielsenDMAIdx]))
		if dma == "" || seen[dma] {
			continue
		}
		seen[dma] = true

		matches := fuzzy.Find(dma, names)
		if len(matches) == 0 {
			continue
		}
		best := matches[0]
		for _, m := range matches[1:] {
			if m.Score > best.Score {
				best = m
			}
		}
		if best.Score < fuzzyThreshold {
			continue
		}
		result[dma] = markets[best.Index].ID
	}
	return result
}

func buildIndex(records [][]string, nameToID map[string]string) map[string]map[string]facility {
	index := map[string]map[string]facility{}
	for _, r := range records {
		dma := strings.ToLower(strings.TrimSpace(r[nielsenDMAIdx]))
		marketID, ok := nameToID[dma]
		if !ok {
			continue
		}
		callSign := normalizeCallSign(r[facCallSignIdx])
		if callSign == "" {
			continue
		}
		facChannel := strings.TrimSpace(r[facChannelIdx])
		if facChannel == "" {
			continue
		}
		virtualChannel := strings.TrimSpace(r[tvVirtualChannelIdx])
		if index[marketID] == nil {
			index[marketID] = map[string]facility{}
		}
		index[marketID][callSign] = facility{callSign: callSign, facChannel: facChannel, virtualChannel: virtualChannel}
	}
	return index
}

func (s *Store) cachePath() string {
	return filepath.Join(s.cacheDir, "facilities")
}

func (s *Store) readCache(path string) (raw []byte, fresh bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	raw, err = os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return raw, time.Since(info.ModTime()) < MaxFileAge
}

func (s *Store) writeCache(path string, filtered [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, r := range filtered {
		buf.WriteString(strings.Join(r, "|"))
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (s *Store) download(ctx context.Context) ([]byte, error) {
	resp, err := s.client.Get(ctx, upstream.FacilitiesZipURL, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("facilities: download status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("facilities: opening zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Name == upstream.FacilityDatFile {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("facilities: %s not found in archive", upstream.FacilityDatFile)
}

// DMAsFromUpstream fetches the current market catalog.
func DMAsFromUpstream(ctx context.Context, client *httpclient.Client) ([]Market, error) {
	resp, err := client.Get(ctx, upstream.DMAURL, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("facilities: dma list status %d", resp.StatusCode)
	}
	var raw []struct {
		DMA    string `json:"DMA"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("facilities: decoding dma list: %w", err)
	}
	out := make([]Market, 0, len(raw))
	for _, m := range raw {
		out = append(out, Market{ID: m.DMA, Name: m.Name})
	}
	return out, nil
}
