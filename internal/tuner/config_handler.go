package tuner

import (
	"net/http"

	"github.com/pelletier/go-toml/v2"
)

// configView is the TOML-serializable subset of config.Config exposed at
// /config; the password is never included.
type configView struct {
	Username             string `toml:"username"`
	BindAddress          string `toml:"bind_address"`
	Port                 int    `toml:"port"`
	TunerCount           int    `toml:"tuner_count"`
	DeviceModel          string `toml:"device_model"`
	DeviceFirmware       string `toml:"device_firmware"`
	FriendlyName         string `toml:"friendly_name"`
	Days                 int    `toml:"days"`
	CacheTimeout         int    `toml:"cache_timeout"`
	DisableStationCache  bool   `toml:"disable_station_cache"`
	DisableDonationCheck bool   `toml:"disable_donation_check"`
	Multiplex            bool   `toml:"multiplex"`
	Remap                bool   `toml:"remap"`
	RemapFile            string `toml:"remap_file,omitempty"`
	RewriteEndpoint      bool   `toml:"rewrite_endpoint"`
}

// handleConfig dumps the effective configuration as TOML, for operators
// diagnosing a running instance. Credentials are always redacted; this
// endpoint is diagnostic, not a way to recover a forgotten password.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	view := configView{
		Username:             cfg.Username,
		BindAddress:          cfg.BindAddress,
		Port:                 cfg.Port,
		TunerCount:           cfg.TunerCount,
		DeviceModel:          cfg.DeviceModel,
		DeviceFirmware:       cfg.DeviceFirmware,
		FriendlyName:         cfg.FriendlyName,
		Days:                 cfg.Days,
		CacheTimeout:         cfg.CacheTimeout,
		DisableStationCache:  cfg.DisableStationCache,
		DisableDonationCheck: cfg.DisableDonationCheck,
		Multiplex:            cfg.Multiplex,
		Remap:                cfg.Remap,
		RemapFile:            cfg.RemapFile,
		RewriteEndpoint:      cfg.RewriteEndpoint,
	}

	data, err := toml.Marshal(view)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/toml; charset=utf-8")
	w.Write(data)
}
