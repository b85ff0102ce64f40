package tuner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunerbridge/tunerbridge/internal/station"
)

func TestToProgrammeSeasonAndEpisodeEmitsTwoEpisodeNumElements(t *testing.T) {
	l := station.Listing{
		ID: "l1", Title: "Show", Season: 2, Episode: 5, ProgramID: "EP000000010005",
		StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
	}
	p := toProgramme("c1", l)
	require.Len(t, p.EpisodeNum, 3)
	assert.Equal(t, "xmltv_ns", p.EpisodeNum[0].System)
	assert.Equal(t, "1.4.", p.EpisodeNum[0].Value)
	assert.Equal(t, "", p.EpisodeNum[1].System)
	assert.Equal(t, "S01E04", p.EpisodeNum[1].Value)
	assert.Equal(t, "dd_progid", p.EpisodeNum[2].System)
	assert.Equal(t, "EP000000010005", p.EpisodeNum[2].Value)
}

func TestToProgrammeEpisodeOnlyUsesXmltvNs(t *testing.T) {
	l := station.Listing{ID: "l1", Title: "Show", Episode: 3, StartTime: time.Now(), EndTime: time.Now().Add(time.Hour)}
	p := toProgramme("c1", l)
	require.Len(t, p.EpisodeNum, 2)
	assert.Equal(t, "xmltv_ns", p.EpisodeNum[0].System)
	assert.Equal(t, "0.2.", p.EpisodeNum[0].Value)
}

func TestToProgrammeAlwaysEmitsDDProgID(t *testing.T) {
	l := station.Listing{ID: "l1", Title: "Movie", IsMovie: true, ProgramID: "MV001", StartTime: time.Now(), EndTime: time.Now().Add(time.Hour)}
	p := toProgramme("c1", l)
	require.Len(t, p.EpisodeNum, 1)
	assert.Equal(t, "dd_progid", p.EpisodeNum[0].System)
	assert.Equal(t, "MV001", p.EpisodeNum[0].Value)
}

func TestVideoFromPropertiesHDMarksAspectAndQuality(t *testing.T) {
	v := videoFromProperties([]string{"HDTV", "1080i"})
	require.NotNil(t, v)
	assert.Equal(t, "16:9", v.Aspect)
	assert.Equal(t, "HDTV", v.Quality)
}

func TestVideoFromPropertiesHighResWithoutHDTVTagStillWidens(t *testing.T) {
	v := videoFromProperties([]string{"720p"})
	require.NotNil(t, v)
	assert.Equal(t, "16:9", v.Aspect)
	assert.Equal(t, "SD", v.Quality)
}

func TestVideoFromPropertiesDefaultsToSDAnd4x3(t *testing.T) {
	v := videoFromProperties([]string{"CC"})
	require.NotNil(t, v)
	assert.Equal(t, "4:3", v.Aspect)
	assert.Equal(t, "SD", v.Quality)
}
