package tuner

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/tunerbridge/tunerbridge/internal/station"
)

const xmltvTimeFormat = "20060102150405 -0700"

type xmltvDoc struct {
	XMLName  xml.Name        `xml:"tv"`
	Channels []xmltvChannel  `xml:"channel"`
	Programs []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID          string `xml:"id,attr"`
	DisplayName string `xml:"display-name"`
	Icon        *xmltvIcon `xml:"icon,omitempty"`
}

type xmltvIcon struct {
	Src string `xml:"src,attr"`
}

type xmltvProgramme struct {
	Start       string        `xml:"start,attr"`
	Stop        string        `xml:"stop,attr"`
	Channel     string        `xml:"channel,attr"`
	Title       string        `xml:"title"`
	SubTitle    string        `xml:"sub-title,omitempty"`
	Desc        string        `xml:"desc,omitempty"`
	Category    []string      `xml:"category,omitempty"`
	EpisodeNum  []xmltvEpNum  `xml:"episode-num,omitempty"`
	Icon        *xmltvIcon    `xml:"icon,omitempty"`
	Rating      *xmltvRating  `xml:"rating,omitempty"`
	Credits     *xmltvCredits `xml:"credits,omitempty"`
	New         *struct{}     `xml:"new,omitempty"`
	PreviouslyShown *xmltvPreviouslyShown `xml:"previously-shown,omitempty"`
	Video       *xmltvVideo   `xml:"video,omitempty"`
}

type xmltvEpNum struct {
	System string `xml:"system,attr"`
	Value  string `xml:",chardata"`
}

type xmltvRating struct {
	System string `xml:"system,attr"`
	Value  string `xml:"value"`
}

type xmltvCredits struct {
	Directors []string `xml:"director,omitempty"`
	Actors    []string `xml:"actor,omitempty"`
}

type xmltvPreviouslyShown struct {
	Start string `xml:"start,attr,omitempty"`
}

type xmltvVideo struct {
	Aspect  string `xml:"aspect,omitempty"`
	Quality string `xml:"quality,omitempty"`
}

// WriteXMLTV renders stations and their listings as an XMLTV document. The
// episode-number elements follow a priority of representations:
//  1. season AND episode present -> an xmltv_ns element ("S-1.E-1.") plus a
//     second, system-less "SsseEee" element
//  2. episode only, on a non-movie -> an xmltv_ns element ("0.E-1.")
//  3. dd_progid is always added in addition to whichever of the above fired
//  4. a News program, or any program flagged IsNew, prefers its
//     OriginalAirDate (in the station's local timezone) as
//     previously-shown/@start rather than AirDate
//  5. any other non-movie program with an AirDate uses that as
//     previously-shown/@start instead
func WriteXMLTV(w io.Writer, stations []station.Station) error {
	doc := xmltvDoc{}
	for _, st := range stations {
		doc.Channels = append(doc.Channels, xmltvChannel{
			ID:          st.ID,
			DisplayName: st.Name,
			Icon:        iconOrNil(st.Logo),
		})
		for _, l := range st.Listings {
			doc.Programs = append(doc.Programs, toProgramme(st.ID, l))
		}
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}

func iconOrNil(src string) *xmltvIcon {
	if src == "" {
		return nil
	}
	return &xmltvIcon{Src: src}
}

func toProgramme(channelID string, l station.Listing) xmltvProgramme {
	p := xmltvProgramme{
		Start:    l.StartTime.Format(xmltvTimeFormat),
		Stop:     l.EndTime.Format(xmltvTimeFormat),
		Channel:  channelID,
		Title:    l.Title,
		SubTitle: l.EpisodeTitle,
		Desc:     l.Description,
		Category: l.Genres,
		Icon:     iconOrNil(l.PreferredImage),
		Video:    videoFromProperties(l.VideoProperties),
	}

	switch {
	case l.Season > 0 && l.Episode > 0:
		p.EpisodeNum = append(p.EpisodeNum,
			xmltvEpNum{System: "xmltv_ns", Value: fmt.Sprintf("%d.%d.", l.Season-1, l.Episode-1)},
			xmltvEpNum{Value: fmt.Sprintf("S%02dE%02d", l.Season-1, l.Episode-1)},
		)
	case l.Episode > 0 && !l.IsMovie:
		p.EpisodeNum = append(p.EpisodeNum, xmltvEpNum{System: "xmltv_ns", Value: fmt.Sprintf("0.%d.", l.Episode-1)})
	}
	p.EpisodeNum = append(p.EpisodeNum, xmltvEpNum{System: "dd_progid", Value: l.ProgramID})

	if l.Rating != "" {
		p.Rating = &xmltvRating{System: "VCHIP", Value: l.Rating}
	}
	if len(l.Directors) > 0 || len(l.Actors) > 0 {
		p.Credits = &xmltvCredits{Directors: splitNames(l.Directors), Actors: splitNames(l.Actors)}
	}
	if l.IsNew {
		p.New = &struct{}{}
	}

	isNews := containsFold(l.Genres, "news")
	switch {
	case (isNews || l.IsNew) && l.OriginalAirDate != nil:
		p.PreviouslyShown = &xmltvPreviouslyShown{Start: l.OriginalAirDate.Format(xmltvTimeFormat)}
	case !l.IsMovie && l.AirDate != nil:
		p.PreviouslyShown = &xmltvPreviouslyShown{Start: l.AirDate.Format(xmltvTimeFormat)}
	}

	return p
}

func splitNames(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ", ") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// videoFromProperties derives <aspect>/<quality> from a listing's raw video
// property tags: aspect is 16:9 if any property mentions 1080, 720, or HDTV
// resolution, else 4:3; quality is HDTV if any property mentions HDTV, else
// SD. With no properties at all it returns nil and no <video> element is
// written; otherwise both fields are populated.
func videoFromProperties(props []string) *xmltvVideo {
	if len(props) == 0 {
		return nil
	}
	v := &xmltvVideo{Aspect: "4:3", Quality: "SD"}
	for _, p := range props {
		if containsAnyFold(p, "1080", "720", "hdtv") {
			v.Aspect = "16:9"
		}
		if containsAnyFold(p, "hdtv") {
			v.Quality = "HDTV"
		}
	}
	return v
}

func containsAnyFold(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
