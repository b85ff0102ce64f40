package station

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tunerbridge/tunerbridge/internal/config"
	"github.com/tunerbridge/tunerbridge/internal/geo"
)

// Multiplexer unions N market Providers into a single lineup, giving every
// station service-qualified channel uniqueness under "remap" mode, or a
// fixed, operator-authored channel/name under "remap_file" mode. At most
// one of the two modes is active at a time (enforced at config load).
type Multiplexer struct {
	services []Provider
	cfgUUID  uuid.UUID

	remap      bool
	remapTable map[string]config.ChannelRemapEntry // keyed "channel.<stationID>"

	mu                  sync.Mutex
	stationIDServiceIdx map[string]int
}

// NewMultiplexer composes services. remapTable is nil unless remap_file was
// configured.
func NewMultiplexer(cfgUUID uuid.UUID, services []Provider, remap bool, remapTable map[string]config.ChannelRemapEntry) *Multiplexer {
	return &Multiplexer{
		services:            services,
		cfgUUID:             cfgUUID,
		remap:               remap,
		remapTable:          remapTable,
		stationIDServiceIdx: make(map[string]int),
	}
}

// Stations aggregates every service's current snapshot, applying the
// configured remap rule, and (re)populates the station-id -> owning-service
// routing table used by StationStreamURI.
func (m *Multiplexer) Stations(ctx context.Context) ([]Station, error) {
	idx := make(map[string]int)
	var all []Station

	for svcIdx, svc := range m.services {
		stations, err := svc.Stations(ctx)
		if err != nil {
			return nil, fmt.Errorf("multiplexer: service %d: %w", svcIdx, err)
		}
		for _, st := range stations {
			idx[st.ID] = svcIdx
			all = append(all, m.applyRemap(st, svcIdx))
		}
	}

	m.mu.Lock()
	m.stationIDServiceIdx = idx
	m.mu.Unlock()

	return all, nil
}

// SetRemapTable atomically replaces the remap_file table, used by the
// background file watcher to pick up operator edits without a restart.
func (m *Multiplexer) SetRemapTable(table map[string]config.ChannelRemapEntry) {
	m.mu.Lock()
	m.remapTable = table
	m.mu.Unlock()
}

func (m *Multiplexer) applyRemap(st Station, svcIdx int) Station {
	st.Active = true

	m.mu.Lock()
	table := m.remapTable
	m.mu.Unlock()

	if table != nil {
		entry, ok := table[remapKey(st.ID)]
		if !ok || !entry.Remapped {
			return st
		}
		st.Active = entry.Active
		st.Remapped = true
		newChannel := entry.NewChannel
		if newChannel == "" {
			newChannel = entry.ChannelNumber
		}
		if newChannel != "" {
			st.ChannelRemapped = newChannel
		}
		newCallSign := entry.NewCallSign
		if newCallSign == "" {
			newCallSign = entry.ChannelName
		}
		if newCallSign != "" {
			st.CallSignRemapped = newCallSign
		}
		return st
	}
	if m.remap && svcIdx > 0 {
		st.ChannelRemapped = offsetChannel(st.Channel, svcIdx)
		st.CallSignRemapped = st.CallSign
		st.Remapped = true
	}
	return st
}

func remapKey(stationID string) string {
	return "channel." + stationID
}

// offsetChannel adds 100*serviceIndex to channel's integer part, preserving
// any ".N" subchannel suffix, so that e.g. service index 1's "4.1" becomes
// "104.1" and never collides with service index 0's own "4.1".
func offsetChannel(channel string, serviceIdx int) string {
	whole := channel
	frac := ""
	if i := strings.IndexByte(channel, '.'); i >= 0 {
		whole = channel[:i]
		frac = channel[i:]
	}
	n, err := strconv.Atoi(whole)
	if err != nil {
		return channel
	}
	return strconv.Itoa(n+100*serviceIdx) + frac
}

// StationStreamURI routes to the service that owns stationID. Stations
// must first have been populated by a call to Stations.
func (m *Multiplexer) StationStreamURI(ctx context.Context, stationID string) (string, error) {
	m.mu.Lock()
	svcIdx, ok := m.stationIDServiceIdx[stationID]
	m.mu.Unlock()
	if !ok {
		if _, err := m.Stations(ctx); err != nil {
			return "", err
		}
		m.mu.Lock()
		svcIdx, ok = m.stationIDServiceIdx[stationID]
		m.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("multiplexer: unknown station %q", stationID)
		}
	}
	return m.services[svcIdx].StationStreamURI(ctx, stationID)
}

// Geo returns a synthetic market representing the union as a whole; it has
// no real geographic location.
func (m *Multiplexer) Geo() geo.Market {
	return geo.Market{DMA: "000", Name: "Multiplexer", Active: true}
}

func (m *Multiplexer) UUID() uuid.UUID     { return m.cfgUUID }
func (m *Multiplexer) Zipcodes() []string  { return nil }
func (m *Multiplexer) Services() []Provider { return m.services }
