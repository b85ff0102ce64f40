package tuner

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tunerbridge/tunerbridge/internal/station"
)

type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

func (s *Server) lineupEntries(r *http.Request) ([]lineupEntry, error) {
	stations, err := s.Provider.Stations(r.Context())
	if err != nil {
		return nil, err
	}
	active := make([]station.Station, 0, len(stations))
	for _, st := range stations {
		if st.Active {
			active = append(active, st)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].EffectiveChannel() < active[j].EffectiveChannel() })
	out := make([]lineupEntry, 0, len(active))
	for _, st := range active {
		name := st.Name
		if st.CallSignRemapped != "" {
			name = st.EffectiveCallSign()
		}
		out = append(out, lineupEntry{
			GuideNumber: st.EffectiveChannel(),
			GuideName:   name,
			URL:         s.BaseURL + "/watch/" + st.ID,
		})
	}
	return out, nil
}

func (s *Server) handleLineupJSON(w http.ResponseWriter, r *http.Request) {
	entries, err := s.lineupEntries(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

type lineupXML struct {
	XMLName xml.Name `xml:"Lineup"`
	Program []struct {
		XMLName     xml.Name `xml:"Program"`
		GuideNumber string   `xml:"GuideNumber"`
		GuideName   string   `xml:"GuideName"`
		URL         string   `xml:"URL"`
	} `xml:"Program"`
}

func (s *Server) handleLineupXML(w http.ResponseWriter, r *http.Request) {
	entries, err := s.lineupEntries(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	var doc lineupXML
	for _, e := range entries {
		doc.Program = append(doc.Program, struct {
			XMLName     xml.Name `xml:"Program"`
			GuideNumber string   `xml:"GuideNumber"`
			GuideName   string   `xml:"GuideName"`
			URL         string   `xml:"URL"`
		}{GuideNumber: e.GuideNumber, GuideName: e.GuideName, URL: e.URL})
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(doc)
}

func (s *Server) handleEPGJSON(w http.ResponseWriter, r *http.Request) {
	stations, err := s.Provider.Stations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stations)
}

func (s *Server) handleEPGXML(w http.ResponseWriter, r *http.Request) {
	stations, err := s.Provider.Stations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	if err := WriteXMLTV(w, stations); err != nil {
		log.Error().Err(err).Msg("tuner: writing xmltv failed")
	}
}

// networkCallSigns are the network call signs that are grouped with a
// ";Network" suffix in /tuner.m3u, matching the original tuner client's
// regional-guide convention. Only an exact call sign match counts; an
// affiliate's own call sign (e.g. "WABC") is grouped by city alone.
var networkCallSigns = map[string]bool{
	"ABC": true, "CBS": true, "NBC": true, "FOX": true, "CW": true, "PBS": true,
}

func (s *Server) handleTunerM3U(w http.ResponseWriter, r *http.Request) {
	stations, err := s.Provider.Stations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Write([]byte("#EXTM3U\n"))
	for _, st := range stations {
		if !st.Active {
			continue
		}
		callSign := st.EffectiveCallSign()
		group := networkGroup(st.City, callSign)
		tvgName := callSign
		if s.Config.Multiplex {
			tvgName = fmt.Sprintf("%s (%s)", callSign, st.City)
		}
		fmt.Fprintf(w, "#EXTINF:-1 tvg-id=\"channel.%s\" tvg-name=\"%s\" tvg-logo=\"%s\" tvg-chno=\"%s\" group-title=\"%s\", %s\n%s/watch/%s.m3u\n",
			st.ID, tvgName, st.Logo, st.EffectiveChannel(), group, tvgName, s.BaseURL, st.ID)
	}
}

// networkGroup assigns the M3U group-title for a station: its city with a
// ";Network" suffix when its call sign belongs to a major broadcast network,
// or the bare city otherwise.
func networkGroup(city, callSign string) string {
	if networkCallSigns[strings.ToUpper(callSign)] {
		return city + ";Network"
	}
	return city
}
