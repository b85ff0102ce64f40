package station

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunerbridge/tunerbridge/internal/config"
	"github.com/tunerbridge/tunerbridge/internal/geo"
)

func TestOffsetChannel(t *testing.T) {
	assert.Equal(t, "104.1", offsetChannel("4.1", 1))
	assert.Equal(t, "204.1", offsetChannel("4.1", 2))
	assert.Equal(t, "4.1", offsetChannel("4.1", 0))
	assert.Equal(t, "not-a-number", offsetChannel("not-a-number", 1))
}

type fakeProvider struct {
	stations []Station
	idx      int
}

func (f *fakeProvider) Stations(ctx context.Context) ([]Station, error) { return f.stations, nil }
func (f *fakeProvider) StationStreamURI(ctx context.Context, id string) (string, error) {
	return "http://upstream/" + id, nil
}
func (f *fakeProvider) Geo() geo.Market       { return geo.Market{DMA: "x", Active: true} }
func (f *fakeProvider) UUID() uuid.UUID       { return uuid.New() }
func (f *fakeProvider) Zipcodes() []string    { return nil }
func (f *fakeProvider) Services() []Provider  { return []Provider{f} }

func TestMultiplexerRemapModeOffsetsByServiceIndex(t *testing.T) {
	svc0 := &fakeProvider{stations: []Station{{ID: "a1", Channel: "4.1"}}}
	svc1 := &fakeProvider{stations: []Station{{ID: "b1", Channel: "4.1"}}}
	mux := NewMultiplexer(uuid.New(), []Provider{svc0, svc1}, true, nil)

	stations, err := mux.Stations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)

	byID := map[string]Station{}
	for _, s := range stations {
		byID[s.ID] = s
	}
	assert.Equal(t, "4.1", byID["a1"].EffectiveChannel())
	assert.Equal(t, "104.1", byID["b1"].EffectiveChannel())
	assert.True(t, byID["b1"].Remapped)
}

func TestMultiplexerRemapFileOverridesChannelAndName(t *testing.T) {
	svc0 := &fakeProvider{stations: []Station{{ID: "a1", Channel: "4.1", Name: "Station A"}}}
	table := map[string]config.ChannelRemapEntry{
		"channel.a1": {ChannelNumber: "9.9", ChannelName: "Custom Name", Active: true, Remapped: true},
	}
	mux := NewMultiplexer(uuid.New(), []Provider{svc0}, false, table)

	stations, err := mux.Stations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "9.9", stations[0].EffectiveChannel())
	assert.Equal(t, "Custom Name", stations[0].EffectiveCallSign())
	assert.True(t, stations[0].Remapped)
}

func TestMultiplexerRemapFileIgnoresEntryNotFlaggedRemapped(t *testing.T) {
	svc0 := &fakeProvider{stations: []Station{{ID: "a1", Channel: "4.1", Name: "Station A"}}}
	table := map[string]config.ChannelRemapEntry{
		"channel.a1": {ChannelNumber: "9.9", ChannelName: "Custom Name"},
	}
	mux := NewMultiplexer(uuid.New(), []Provider{svc0}, false, table)

	stations, err := mux.Stations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "4.1", stations[0].EffectiveChannel())
	assert.False(t, stations[0].Remapped)
}

func TestMultiplexerRoutesStreamURIToOwningService(t *testing.T) {
	svc0 := &fakeProvider{stations: []Station{{ID: "a1", Channel: "4.1"}}}
	svc1 := &fakeProvider{stations: []Station{{ID: "b1", Channel: "4.1"}}}
	mux := NewMultiplexer(uuid.New(), []Provider{svc0, svc1}, true, nil)

	_, err := mux.Stations(context.Background())
	require.NoError(t, err)

	uri, err := mux.StationStreamURI(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "http://upstream/b1", uri)
}

func TestMultiplexerSetRemapTableAppliesOnNextStations(t *testing.T) {
	svc0 := &fakeProvider{stations: []Station{{ID: "a1", Channel: "4.1", Name: "Station A"}}}
	mux := NewMultiplexer(uuid.New(), []Provider{svc0}, false, nil)

	stations, err := mux.Stations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.1", stations[0].EffectiveChannel())

	mux.SetRemapTable(map[string]config.ChannelRemapEntry{
		"channel.a1": {ChannelNumber: "9.9", Active: true, Remapped: true},
	})

	stations, err = mux.Stations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9.9", stations[0].EffectiveChannel())
}

func TestMultiplexerUnknownStation(t *testing.T) {
	mux := NewMultiplexer(uuid.New(), nil, true, nil)
	_, err := mux.StationStreamURI(context.Background(), "nope")
	assert.Error(t, err)
}
