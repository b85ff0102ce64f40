package facilities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(callSign, channel, service, status, expiration, dma, virtual string) []string {
	r := make([]string, 29)
	r[facCallSignIdx] = callSign
	r[facChannelIdx] = channel
	r[facServiceIdx] = service
	r[facStatusIdx] = status
	r[licExpirationIdx] = expiration
	r[nielsenDMAIdx] = dma
	r[tvVirtualChannelIdx] = virtual
	return r
}

func TestFilterRecordsAcceptsLicensedTV(t *testing.T) {
	future := time.Now().AddDate(1, 0, 0).Format("01/02/2006")
	records := [][]string{
		record("WNBC", "28", "DT", "LICEN", future, "New York", "4.1"),
		record("WABC", "7", "TX", "LICEN", future, "New York", "7.1"),
		record("WDEAD", "9", "DT", "EXPIR", future, "New York", "9.1"),
		record("WOLD", "9", "DT", "LICEN", "01/01/2000", "New York", "9.1"),
		record("WAM", "9", "AM", "LICEN", future, "New York", ""),
	}
	out := filterRecords(records)
	require.Len(t, out, 2)
}

func TestFilterRecordsExpiresAtEndOfDay(t *testing.T) {
	today := time.Now().UTC().Format("01/02/2006")
	records := [][]string{
		record("WNBC", "28", "DT", "LICEN", today, "New York", "4.1"),
	}
	out := filterRecords(records)
	assert.Len(t, out, 1)
}

func TestMatchMarketsPicksBestFuzzyMatch(t *testing.T) {
	records := [][]string{
		record("WNBC", "28", "DT", "LICEN", "", "New York", "4.1"),
	}
	markets := []Market{
		{ID: "501", Name: "New York, NY"},
		{ID: "999", Name: "Bakersfield"},
	}
	m := matchMarkets(records, markets)
	require.Contains(t, m, "new york")
	assert.Equal(t, "501", m["new york"])
}

func TestBuildIndexKeepsFacAndVirtualChannelsSeparate(t *testing.T) {
	records := [][]string{
		record("WNBC", "4", "DT", "LICEN", "", "New York", "4.1"),
	}
	index := buildIndex(records, map[string]string{"new york": "501"})
	require.Contains(t, index, "501")
	f, ok := index["501"]["WNBC"]
	require.True(t, ok)
	assert.Equal(t, "4", f.facChannel)
	assert.Equal(t, "4.1", f.virtualChannel)
}

func TestLookupDirectChannelFromName(t *testing.T) {
	channel, ok := DirectChannel("4.1 WNBC-DT")
	require.True(t, ok)
	assert.Equal(t, "4.1", channel)
}

func TestLookupNoSubChannelDefaultsToDotOne(t *testing.T) {
	s := New(t.TempDir(), nil)
	s.index = map[string]map[string]facility{
		"501": {"WNBC": {callSign: "WNBC", facChannel: "4", virtualChannel: "4.1"}},
	}
	channel, ok := s.Lookup("501", "WNBC", "")
	require.True(t, ok)
	assert.Equal(t, "4.1", channel)
}

func TestLookupUsesSubChannelWhenPresent(t *testing.T) {
	s := New(t.TempDir(), nil)
	s.index = map[string]map[string]facility{
		"501": {"WNBC": {callSign: "WNBC", facChannel: "4", virtualChannel: "4.1"}},
	}
	channel, ok := s.Lookup("501", "WNBC", "2")
	require.True(t, ok)
	assert.Equal(t, "4.2", channel)
}

func TestLookupEmptyVirtualChannelReturnsFacChannelOnly(t *testing.T) {
	s := New(t.TempDir(), nil)
	s.index = map[string]map[string]facility{
		"501": {"WNBC": {callSign: "WNBC", facChannel: "36", virtualChannel: ""}},
	}
	channel, ok := s.Lookup("501", "WNBC", "")
	require.True(t, ok)
	assert.Equal(t, "36", channel)
}

func TestLookupMiss(t *testing.T) {
	s := New(t.TempDir(), nil)
	_, ok := s.Lookup("501", "ZZZZ", "")
	assert.False(t, ok)
}

func TestDetectCallSign(t *testing.T) {
	callSign, sub, ok := DetectCallSign("WNBC-DT")
	require.True(t, ok)
	assert.Equal(t, "WNBC", callSign)
	assert.Equal(t, "", sub)

	callSign, sub, ok = DetectCallSign("some text KABC2")
	require.True(t, ok)
	assert.Equal(t, "KABC", callSign)
	assert.Equal(t, "2", sub)

	_, _, ok = DetectCallSign("no call sign here")
	assert.False(t, ok)
}
