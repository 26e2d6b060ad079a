package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Runtime configuration. Precedence: compiled defaults < config.toml in
// the config directory < POIVIEW_* environment variables. Command-line
// flags in main.go only pick directories and debug logging.

type Config struct {
	DebounceInterval time.Duration
	RefreshInterval  time.Duration
	ClusterThreshold int
	ClusterGridPx    int
	ClusterMaxZoom   int
	POIRadiusMeters  int
	RecenterZoom     int
	SuggestLimit     int
	NominatimServer  string
	OverpassServer   string
}

const (
	defaultDebounceInterval = 300 * time.Millisecond
	defaultRefreshInterval  = 30 * time.Second
	defaultClusterThreshold = 20
	defaultClusterGridPx    = 60
	defaultClusterMaxZoom   = 17
	defaultPOIRadiusMeters  = 1000
	defaultRecenterZoom     = 14
	defaultSuggestLimit     = 8
	defaultNominatimServer  = "https://nominatim.openstreetmap.org"
)

func defaultConfig() Config {
	return Config{
		DebounceInterval: defaultDebounceInterval,
		RefreshInterval:  defaultRefreshInterval,
		ClusterThreshold: defaultClusterThreshold,
		ClusterGridPx:    defaultClusterGridPx,
		ClusterMaxZoom:   defaultClusterMaxZoom,
		POIRadiusMeters:  defaultPOIRadiusMeters,
		RecenterZoom:     defaultRecenterZoom,
		SuggestLimit:     defaultSuggestLimit,
		NominatimServer:  defaultNominatimServer,
		OverpassServer:   defaultOverpassServer,
	}
}

// LoadConfig parses the TOML file at path (missing file falls back to
// defaults) and applies environment overrides on top.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		var raw struct {
			DebounceMs       int    `toml:"debounce_ms"`
			RefreshSeconds   int    `toml:"refresh_seconds"`
			ClusterThreshold int    `toml:"cluster_threshold"`
			ClusterGridPx    int    `toml:"cluster_grid_px"`
			ClusterMaxZoom   int    `toml:"cluster_max_zoom"`
			POIRadiusMeters  int    `toml:"poi_radius_meters"`
			RecenterZoom     int    `toml:"recenter_zoom"`
			SuggestLimit     int    `toml:"suggest_limit"`
			NominatimServer  string `toml:"nominatim_server"`
			OverpassServer   string `toml:"overpass_server"`
		}
		if err := toml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
		if raw.DebounceMs > 0 {
			cfg.DebounceInterval = time.Duration(raw.DebounceMs) * time.Millisecond
		}
		if raw.RefreshSeconds > 0 {
			cfg.RefreshInterval = time.Duration(raw.RefreshSeconds) * time.Second
		}
		if raw.ClusterThreshold > 0 {
			cfg.ClusterThreshold = raw.ClusterThreshold
		}
		if raw.ClusterGridPx >= 8 && raw.ClusterGridPx <= 512 {
			cfg.ClusterGridPx = raw.ClusterGridPx
		}
		if raw.ClusterMaxZoom > 0 {
			cfg.ClusterMaxZoom = raw.ClusterMaxZoom
		}
		if raw.POIRadiusMeters > 0 {
			cfg.POIRadiusMeters = raw.POIRadiusMeters
		}
		if raw.RecenterZoom > 0 {
			cfg.RecenterZoom = raw.RecenterZoom
		}
		if raw.SuggestLimit > 0 && raw.SuggestLimit <= 200 {
			cfg.SuggestLimit = raw.SuggestLimit
		}
		if raw.NominatimServer != "" {
			cfg.NominatimServer = raw.NominatimServer
		}
		if raw.OverpassServer != "" {
			cfg.OverpassServer = raw.OverpassServer
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides reads POIVIEW_* variables with soft validation:
// unparsable values are ignored.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POIVIEW_NOMINATIM_SERVER"); v != "" {
		cfg.NominatimServer = v
	}
	if v := os.Getenv("POIVIEW_OVERPASS_SERVER"); v != "" {
		cfg.OverpassServer = v
	}
	if v := os.Getenv("POIVIEW_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
			cfg.RefreshInterval = d
		}
	}
	if v := os.Getenv("POIVIEW_DEBOUNCE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DebounceInterval = d
		}
	}
	if v := os.Getenv("POIVIEW_CLUSTER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClusterThreshold = n
		}
	}
	if v := os.Getenv("POIVIEW_POI_RADIUS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.POIRadiusMeters = n
		}
	}
}
