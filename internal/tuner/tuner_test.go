package tuner

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tunerbridge/tunerbridge/internal/config"
	"github.com/tunerbridge/tunerbridge/internal/geo"
	"github.com/tunerbridge/tunerbridge/internal/station"
)

type fakeProvider struct {
	stations []station.Station
	streamErr error
}

func (f *fakeProvider) Stations(ctx context.Context) ([]station.Station, error) {
	return f.stations, nil
}

func (f *fakeProvider) StationStreamURI(ctx context.Context, stationID string) (string, error) {
	if f.streamErr != nil {
		return "", f.streamErr
	}
	return "https://cdn.example/stream/" + stationID + ".m3u8", nil
}

func (f *fakeProvider) Geo() geo.Market { return geo.Market{DMA: "501", Name: "New York", Active: true} }
func (f *fakeProvider) UUID() uuid.UUID { return uuid.Nil }
func (f *fakeProvider) Zipcodes() []string { return []string{"10001"} }
func (f *fakeProvider) Services() []station.Provider { return nil }

func testServer() (*Server, *fakeProvider) {
	fp := &fakeProvider{
		stations: []station.Station{
			{ID: "s1", CallSign: "WABC", Name: "ABC 7", Channel: "7.1", City: "New York", Active: true},
			{ID: "s2", CallSign: "WNBC", Name: "NBC 4", Channel: "4.1", City: "New York", Active: true},
		},
	}
	cfg := &config.Config{
		FriendlyName:   "TunerBridge",
		DeviceModel:    "HDHR3-US",
		DeviceFirmware: "hdhomerun3_atsc",
		TunerCount:     3,
	}
	return &Server{
		Addr:        "127.0.0.1:0",
		BaseURL:     "http://127.0.0.1:6077",
		Config:      cfg,
		Provider:    fp,
		DeviceID:    "12345678AB",
		ServiceUUID: "11111111-2222-3333-4444-555555555555",
	}, fp
}

func TestHandleDiscoverReturnsDeviceIdentity(t *testing.T) {
	s, _ := testServer()
	r := httptest.NewRequest(http.MethodGet, "/discover.json", nil)
	w := httptest.NewRecorder()
	s.handleDiscover(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var d discoverData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	require.Equal(t, "TunerBridge", d.FriendlyName)
	require.Equal(t, "locast2dvr", d.Manufacturer)
	require.Equal(t, "12345678AB", d.DeviceID)
	require.Equal(t, 3, d.TunerCount)
	require.Equal(t, s.BaseURL+"/lineup.json", d.LineupURL)
}

func TestHandleLineupStatusNeverReportsScanInProgress(t *testing.T) {
	s, _ := testServer()
	r := httptest.NewRequest(http.MethodGet, "/lineup_status.json", nil)
	w := httptest.NewRecorder()
	s.handleLineupStatus(w, r)

	var status lineupStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.False(t, status.ScanInProgress)
	require.Equal(t, 2, status.Found)
}

func TestHandleLineupJSONSortsByChannel(t *testing.T) {
	s, _ := testServer()
	r := httptest.NewRequest(http.MethodGet, "/lineup.json", nil)
	w := httptest.NewRecorder()
	s.handleLineupJSON(w, r)

	var entries []lineupEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, "4.1", entries[0].GuideNumber)
	require.Equal(t, "7.1", entries[1].GuideNumber)
	require.Equal(t, s.BaseURL+"/watch/s2", entries[0].URL)
}

func TestHandleDeviceXMLIsValidUPnPDescriptor(t *testing.T) {
	s, _ := testServer()
	r := httptest.NewRequest(http.MethodGet, "/device.xml", nil)
	w := httptest.NewRecorder()
	s.handleDeviceXML(w, r)

	var d deviceXML
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &d))
	require.Equal(t, "urn:schemas-upnp-org:device:MediaServer:1", d.Device.DeviceType)
	require.Equal(t, "locast2tuner", d.Device.Manufacturer)
	require.Equal(t, "uuid:11111111-2222-3333-4444-555555555555", d.Device.UDN)
}

func TestHandleMapJSONKeyedByChannelStationID(t *testing.T) {
	s, _ := testServer()
	r := httptest.NewRequest(http.MethodGet, "/map.json", nil)
	w := httptest.NewRecorder()
	s.handleMapJSON(w, r)

	var out map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "7.1", out["channel.s1"]["channelNumber"])
}

func TestHandleTunerM3UGroupsByNetwork(t *testing.T) {
	s, fp := testServer()
	fp.stations[0].CallSign = "ABC"
	r := httptest.NewRequest(http.MethodGet, "/tuner.m3u", nil)
	w := httptest.NewRecorder()
	s.handleTunerM3U(w, r)

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "#EXTM3U\n"))
	require.Contains(t, body, `tvg-chno="7.1"`)
	require.Contains(t, body, `tvg-id="channel.s1"`)
	require.Contains(t, body, `group-title="New York;Network"`)
	require.Contains(t, body, s.BaseURL+"/watch/s1.m3u")
}

func TestNetworkGroupNonNetworkCallSignGroupsByCity(t *testing.T) {
	require.Equal(t, "New York", networkGroup("New York", "WNET"))
}

func TestNetworkGroupNetworkCallSignAddsNetworkSuffix(t *testing.T) {
	require.Equal(t, "New York;Network", networkGroup("New York", "ABC"))
}

func TestHandleEPGXMLWritesWellFormedDocument(t *testing.T) {
	s, fp := testServer()
	fp.stations[0].Listings = []station.Listing{
		{ID: "l1", Title: "Evening News", Genres: []string{"News"}, StartTime: time.Now(), EndTime: time.Now().Add(time.Hour)},
	}
	r := httptest.NewRequest(http.MethodGet, "/epg.xml", nil)
	w := httptest.NewRecorder()
	s.handleEPGXML(w, r)

	var doc xmltvDoc
	body := strings.TrimPrefix(w.Body.String(), xml.Header)
	require.NoError(t, xml.Unmarshal([]byte(body), &doc))
	require.Len(t, doc.Channels, 2)
	require.Len(t, doc.Programs, 1)
	require.Equal(t, "Evening News", doc.Programs[0].Title)
}

func TestHandleConfigRedactsPassword(t *testing.T) {
	s, _ := testServer()
	s.Config.Username = "viewer@example.com"
	s.Config.Password = "super-secret"
	r := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()
	s.handleConfig(w, r)

	require.NotContains(t, w.Body.String(), "super-secret")
	require.Contains(t, w.Body.String(), "viewer@example.com")
}

func TestHandleWatchReturns404ForUnknownStation(t *testing.T) {
	s, fp := testServer()
	fp.streamErr = errors.New("unknown station")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/watch/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouterServesDiscoverEndToEnd(t *testing.T) {
	s, _ := testServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/discover.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
