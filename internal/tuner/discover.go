package tuner

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
)

// discoverData is the tuner-appliance discovery document returned by
// /discover.json, field names fixed by the device protocol.
type discoverData struct {
	FriendlyName    string `json:"FriendlyName"`
	Manufacturer    string `json:"Manufacturer"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	d := discoverData{
		FriendlyName:    s.Config.FriendlyName,
		Manufacturer:    "locast2dvr",
		ModelNumber:     s.Config.DeviceModel,
		FirmwareName:    s.Config.DeviceFirmware,
		FirmwareVersion: "20231022",
		DeviceID:        s.DeviceID,
		DeviceAuth:      "locast2dvr",
		BaseURL:         s.BaseURL,
		LineupURL:       s.BaseURL + "/lineup.json",
		TunerCount:      s.Config.TunerCount,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

// lineupStatus mirrors the corrected form this gateway always reports:
// scanning is never "in progress" because the lineup is generated from a
// live snapshot, not a tuner-hardware scan.
type lineupStatus struct {
	ScanInProgress bool     `json:"ScanInProgress"`
	Progress       int      `json:"Progress,omitempty"`
	Found          int      `json:"Found,omitempty"`
	Source         string   `json:"Source,omitempty"`
	SourceList     []string `json:"SourceList,omitempty"`
}

func (s *Server) handleLineupStatus(w http.ResponseWriter, r *http.Request) {
	stations, err := s.Provider.Stations(r.Context())
	found := 0
	if err == nil {
		found = len(stations)
	}
	status := lineupStatus{
		ScanInProgress: false,
		Progress:       50,
		Found:          found,
		Source:         "Antenna",
		SourceList:     []string{"Antenna"},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleLineupPost(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// deviceXML is the UPnP device descriptor advertised at /device.xml and via
// SSDP's LOCATION header.
type deviceXML struct {
	XMLName     xml.Name `xml:"root"`
	Xmlns       string   `xml:"xmlns,attr"`
	SpecVersion struct {
		Major int `xml:"major"`
		Minor int `xml:"minor"`
	} `xml:"specVersion"`
	URLBase string `xml:"URLBase"`
	Device  struct {
		DeviceType      string `xml:"deviceType"`
		FriendlyName    string `xml:"friendlyName"`
		Manufacturer    string `xml:"manufacturer"`
		ModelName       string `xml:"modelName"`
		ModelNumber     string `xml:"modelNumber"`
		SerialNumber    string `xml:"serialNumber"`
		UDN             string `xml:"UDN"`
	} `xml:"device"`
}

func (s *Server) handleDeviceXML(w http.ResponseWriter, r *http.Request) {
	var d deviceXML
	d.Xmlns = "urn:schemas-upnp-org:device-1-0"
	d.SpecVersion.Major = 1
	d.SpecVersion.Minor = 0
	d.URLBase = s.BaseURL
	d.Device.DeviceType = "urn:schemas-upnp-org:device:MediaServer:1"
	d.Device.FriendlyName = s.Config.FriendlyName
	d.Device.Manufacturer = "locast2tuner"
	d.Device.ModelName = s.Config.DeviceModel
	d.Device.ModelNumber = s.Config.DeviceModel
	d.Device.SerialNumber = s.DeviceID
	d.Device.UDN = "uuid:" + s.ServiceUUID

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(d)
}

func (s *Server) handleMapJSON(w http.ResponseWriter, r *http.Request) {
	stations, err := s.Provider.Stations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	out := make(map[string]map[string]string, len(stations))
	for _, st := range stations {
		out["channel."+st.ID] = map[string]string{
			"channelNumber": st.EffectiveChannel(),
			"channelName":   st.Name,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
