// Package config loads and validates this process's configuration: the
// upstream account credentials, market selection, tuner appliance identity,
// and the handful of knobs that shape station/channel composition.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// ChannelRemapEntry is one entry of a static channel remap table, keyed
// "channel.<station-id>" in the remap file and in /map.json. An entry only
// takes effect when Remapped is true; entries present but not yet flagged
// active let an operator stage a remap table without applying it.
type ChannelRemapEntry struct {
	ChannelNumber string `json:"channelNumber" koanf:"channelNumber"`
	ChannelName   string `json:"channelName" koanf:"channelName"`
	OrigCallSign  string `json:"orig_call_sign,omitempty" koanf:"orig_call_sign"`
	NewCallSign   string `json:"new_call_sign,omitempty" koanf:"new_call_sign"`
	OrigChannel   string `json:"orig_channel,omitempty" koanf:"orig_channel"`
	NewChannel    string `json:"new_channel,omitempty" koanf:"new_channel"`
	City          string `json:"city,omitempty" koanf:"city"`
	Active        bool   `json:"active" koanf:"active"`
	Remapped      bool   `json:"remapped" koanf:"remapped"`
}

// Config is the immutable, process-wide configuration. It is built once by
// Load and passed by reference to every component that needs it; nothing
// mutates it after Load returns.
type Config struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	BindAddress string `koanf:"bind_address"`
	Port        int    `koanf:"port"`
	TunerCount  int    `koanf:"tuner_count"`

	DeviceModel    string `koanf:"device_model"`
	DeviceFirmware string `koanf:"device_firmware"`
	FriendlyName   string `koanf:"friendly_name"`

	// UUID seeds every per-market service's deterministic identity
	// (UUIDv5(UUID, marketID)). If unset, it is read from <cache_dir>/uuid,
	// or generated once and written there.
	UUID uuid.UUID `koanf:"-"`

	Days                 int  `koanf:"days"`
	CacheTimeout         int  `koanf:"cache_timeout"`
	DisableStationCache  bool `koanf:"disable_station_cache"`
	DisableDonationCheck bool `koanf:"disable_donation_check"`

	Multiplex bool   `koanf:"multiplex"`
	Remap     bool   `koanf:"remap"`
	RemapFile string `koanf:"remap_file"`

	Zipcodes         []string `koanf:"-"`
	OverrideZipcodes []string `koanf:"-"`

	// RewriteEndpoint, when true, rewrites watch/stream URLs on the indirect
	// HLS proxy host straight to the direct CDN location named in their
	// path, bypassing upstream playlist indirection; see internal/station.
	RewriteEndpoint bool `koanf:"rewrite_endpoint"`

	CacheDir string `koanf:"cache_dir"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	MetricsAddr  string `koanf:"metrics_addr"`
	SSDPDisabled bool   `koanf:"ssdp_disabled"`

	ConfigFile string `koanf:"-"`
}

func defaults() *koanf.Koanf {
	k := koanf.New(".")
	_ = k.Load(confmap(map[string]any{
		"bind_address":           "0.0.0.0",
		"port":                   6077,
		"tuner_count":            3,
		"device_model":           "HDHR3-US",
		"device_firmware":        "hdhomerun3_atsc",
		"friendly_name":          "TunerBridge",
		"days":                   7,
		"cache_timeout":          3600,
		"disable_station_cache":  false,
		"disable_donation_check": false,
		"multiplex":              false,
		"remap":                  false,
		"rewrite_endpoint":       false,
		"cache_dir":              "cache",
		"log_level":              "info",
		"log_format":             "json",
		"metrics_addr":           "",
		"ssdp_disabled":          false,
	}), nil)
	return k
}

// Load builds a Config from (in increasing priority): built-in defaults, an
// optional YAML file (configFile, skipped if empty), and environment
// variables prefixed TUNERBRIDGE_. It returns an error — never panics — on
// missing credentials or an invalid combination of settings, since those
// are operator mistakes the caller should report and exit on.
func Load(configFile string) (*Config, error) {
	k := defaults()

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider("TUNERBRIDGE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "TUNERBRIDGE_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	c.ConfigFile = configFile

	if zc := k.String("zipcodes"); zc != "" {
		c.Zipcodes = splitCSV(zc)
	}
	if zc := k.String("override_zipcodes"); zc != "" {
		c.OverrideZipcodes = splitCSV(zc)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	if id := k.String("uuid"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("config: invalid uuid %q: %w", id, err)
		}
		c.UUID = parsed
	} else {
		path := filepath.Join(c.CacheDir, "uuid")
		if raw, err := os.ReadFile(path); err == nil {
			if parsed, err := uuid.Parse(strings.TrimSpace(string(raw))); err == nil {
				c.UUID = parsed
			}
		}
		if c.UUID == uuid.Nil {
			c.UUID = uuid.New()
			if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config: could not persist uuid")
			} else if err := os.WriteFile(path, []byte(c.UUID.String()), 0o644); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config: could not persist uuid")
			}
		}
	}

	return &c, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.Password) == "" {
		return fmt.Errorf("config: username and password are required")
	}
	if c.TunerCount < 1 {
		return fmt.Errorf("config: tuner_count must be >= 1")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port out of range: %d", c.Port)
	}
	if c.Days < 1 {
		return fmt.Errorf("config: days must be >= 1")
	}
	if c.Remap && c.RemapFile != "" {
		return fmt.Errorf("config: remap and remap_file are mutually exclusive")
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// confmap is a tiny koanf.Provider over an in-memory map, used to seed
// defaults without round-tripping through env or file parsing.
type confmap map[string]any

func (c confmap) ReadBytes() ([]byte, error) { return nil, fmt.Errorf("confmap: not supported") }
func (c confmap) Read() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out, nil
}

// BaseURL returns the externally reachable base URL for tuner index i
// (0-based): http://<advertiseHost-or-bind-address>:<port+i>.
func (c *Config) BaseURL(advertiseHost string, i int) string {
	host := advertiseHost
	if host == "" {
		host = c.BindAddress
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port+i)
}

// LoadRemapFile reads a static channel remap table from path, a JSON object
// keyed "channel.<station-id>".
func LoadRemapFile(path string) (map[string]ChannelRemapEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading remap file %s: %w", path, err)
	}
	var table map[string]ChannelRemapEntry
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("config: parsing remap file %s: %w", path, err)
	}
	return table, nil
}

// WatchRemapFile calls onChange with a freshly reloaded table every time
// path is modified on disk, until ctx is canceled. A malformed reload is
// logged and skipped, keeping whatever table onChange was last given.
func WatchRemapFile(ctx context.Context, path string, onChange func(map[string]ChannelRemapEntry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating remap file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watching remap file %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				table, err := LoadRemapFile(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("config: remap file reload failed, keeping previous table")
					continue
				}
				onChange(table)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config: remap file watcher error")
			}
		}
	}()
	return nil
}
