// Package config loads pipeline configuration from environment variables,
// with an optional YAML overlay for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for external endpoints and tuning knobs.
const (
	DefaultTempoBucket      = "asdc-prod-protected"
	DefaultEarthDataCreds   = "https://data.asdc.earthdata.nasa.gov/s3credentials"
	DefaultGEOSCFBaseURL    = "https://fluid.nccs.nasa.gov/cfapi"
	DefaultAirNowBaseURL    = "https://www.airnowapi.org"
	DefaultWAQIBaseURL      = "https://api.waqi.info"
	DefaultOpenMeteoBaseURL = "https://api.open-meteo.com"
	DefaultListenAddr       = ":8080"
	DefaultCollectionLimit  = 100
)

// BoundingBox is a latitude/longitude rectangle.
type BoundingBox struct {
	LatMin float64 `yaml:"lat_min"`
	LonMin float64 `yaml:"lon_min"`
	LatMax float64 `yaml:"lat_max"`
	LonMax float64 `yaml:"lon_max"`
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// NorthAmerica is the default bounding box for the satellite coverage area.
var NorthAmerica = BoundingBox{LatMin: 15.0, LonMin: -170.0, LatMax: 72.0, LonMax: -50.0}

// Database holds the relational store coordinates.
type Database struct {
	Driver   string `yaml:"driver"` // "mysql" or "postgres"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	// DSN overrides the individual fields when set.
	DSN string `yaml:"dsn"`
}

// ConnectionString builds the driver-specific DSN.
func (d Database) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			d.Host, d.Port, d.User, d.Password, d.Name)
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name)
	}
}

// History configures the rolling hourly history store backend.
type History struct {
	Backend string `yaml:"backend"` // "memory", "sqlite", "file", or "s3"
	Path    string `yaml:"path"`    // sqlite file or snapshot directory
	Bucket  string `yaml:"bucket"`  // s3 backend
}

// Config is the process-wide configuration. API keys and tokens are
// loaded once at start-up and treated as immutable.
type Config struct {
	Database Database `yaml:"database"`
	History  History  `yaml:"history"`

	AirNowAPIKey      string `yaml:"airnow_api_key"`
	WAQIToken         string `yaml:"waqi_token"`
	EarthDataToken    string `yaml:"earthdata_token"`
	EarthDataCredsURL string `yaml:"earthdata_creds_url"`
	TempoBucket       string `yaml:"tempo_bucket"`
	CacheBucket       string `yaml:"cache_bucket"`

	GEOSCFBaseURL    string `yaml:"geoscf_base_url"`
	AirNowBaseURL    string `yaml:"airnow_base_url"`
	WAQIBaseURL      string `yaml:"waqi_base_url"`
	OpenMeteoBaseURL string `yaml:"openmeteo_base_url"`

	NorthAmericaBBox BoundingBox `yaml:"north_america_bbox"`
	ListenAddr       string      `yaml:"listen_addr"`
	CollectionLimit  int         `yaml:"collection_limit"`
	Debug            bool        `yaml:"debug"`
}

// FatalError marks a configuration problem that must stop start-up.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return "configuration fatal: " + e.Reason
}

// FromEnv loads configuration from AIRFUSE_* environment variables.
func FromEnv() *Config {
	c := &Config{
		Database: Database{
			Driver:   envOr("AIRFUSE_DB_DRIVER", "mysql"),
			Host:     os.Getenv("AIRFUSE_DB_HOST"),
			Port:     envInt("AIRFUSE_DB_PORT", 3306),
			User:     os.Getenv("AIRFUSE_DB_USER"),
			Password: os.Getenv("AIRFUSE_DB_PASSWORD"),
			Name:     os.Getenv("AIRFUSE_DB_NAME"),
			DSN:      os.Getenv("AIRFUSE_DB_DSN"),
		},
		History: History{
			Backend: envOr("AIRFUSE_HISTORY_BACKEND", "sqlite"),
			Path:    envOr("AIRFUSE_HISTORY_PATH", "airfuse-history.db"),
			Bucket:  os.Getenv("AIRFUSE_HISTORY_BUCKET"),
		},
		AirNowAPIKey:      os.Getenv("AIRFUSE_AIRNOW_API_KEY"),
		WAQIToken:         os.Getenv("AIRFUSE_WAQI_TOKEN"),
		EarthDataToken:    os.Getenv("AIRFUSE_EARTHDATA_TOKEN"),
		EarthDataCredsURL: envOr("AIRFUSE_EARTHDATA_CREDS_URL", DefaultEarthDataCreds),
		TempoBucket:       envOr("AIRFUSE_TEMPO_BUCKET", DefaultTempoBucket),
		CacheBucket:       os.Getenv("AIRFUSE_CACHE_BUCKET"),
		GEOSCFBaseURL:     envOr("AIRFUSE_GEOSCF_BASE_URL", DefaultGEOSCFBaseURL),
		AirNowBaseURL:     envOr("AIRFUSE_AIRNOW_BASE_URL", DefaultAirNowBaseURL),
		WAQIBaseURL:       envOr("AIRFUSE_WAQI_BASE_URL", DefaultWAQIBaseURL),
		OpenMeteoBaseURL:  envOr("AIRFUSE_OPENMETEO_BASE_URL", DefaultOpenMeteoBaseURL),
		NorthAmericaBBox:  NorthAmerica,
		ListenAddr:        envOr("AIRFUSE_LISTEN_ADDR", DefaultListenAddr),
		CollectionLimit:   envInt("AIRFUSE_COLLECTION_LIMIT", DefaultCollectionLimit),
		Debug:             os.Getenv("AIRFUSE_DEBUG") != "",
	}

	if bbox := os.Getenv("AIRFUSE_NA_BBOX"); bbox != "" {
		if parsed, err := parseBBox(bbox); err == nil {
			c.NorthAmericaBBox = parsed
		}
	}
	return c
}

// LoadFile overlays values from a YAML file onto the config. Missing
// file is not an error; the env-only path is the normal deployment.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the start-up requirements. A FatalError here means the
// process must refuse to start.
func (c *Config) Validate() error {
	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
		return &FatalError{Reason: "database coordinates missing (AIRFUSE_DB_HOST/AIRFUSE_DB_NAME or AIRFUSE_DB_DSN)"}
	}
	if c.EarthDataToken == "" {
		return &FatalError{Reason: "EarthData bearer token missing (AIRFUSE_EARTHDATA_TOKEN)"}
	}
	if c.CollectionLimit <= 0 {
		c.CollectionLimit = DefaultCollectionLimit
	}
	return nil
}

func parseBBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bounding box needs 4 comma-separated values, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("bounding box value %q: %w", p, err)
		}
		vals[i] = v
	}
	return BoundingBox{LatMin: vals[0], LonMin: vals[1], LatMax: vals[2], LonMax: vals[3]}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
