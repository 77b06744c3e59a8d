package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override. The feed, upstream and
// ingest settings also accept their unprefixed names (CENTER_LAT, PORT, ...).
const EnvPrefix = "TRACON_SCOPE_"

// Config represents the complete application configuration.
type Config struct {
	Server          ServerConfig          `json:"server"`
	Database        DatabaseConfig        `json:"database"`
	Feed            FeedConfig            `json:"feed"`
	ADSB            ADSBConfig            `json:"adsb"`
	FlightAware     FlightAwareConfig     `json:"flightaware"`
	Weather         WeatherConfig         `json:"weather"`
	AviationWeather AviationWeatherConfig `json:"aviation_weather"`
	Airspace        AirspaceConfig        `json:"airspace"`
	Ingest          IngestConfig          `json:"ingest"`
	Logging         LoggingConfig         `json:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// TLSEnabled determines if HTTPS should be used
	TLSEnabled bool `json:"tls_enabled"`

	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`

	// CORSOrigins lists allowed browser origins ("*" allows any)
	CORSOrigins []string `json:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled turns on the snapshot and ingest archive
	Enabled bool `json:"enabled"`

	// Driver is the database driver (postgres)
	Driver string `json:"driver"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	MaxOpenConns int `json:"max_open_conns"`
	MaxIdleConns int `json:"max_idle_conns"`

	// RetentionHours bounds how long archived rows are kept (0 = forever)
	RetentionHours int `json:"retention_hours"`
}

// FeedConfig describes the area the aircraft feed covers.
type FeedConfig struct {
	// CenterLat/CenterLon in decimal degrees
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`

	// RadiusNm is the search radius in nautical miles
	RadiusNm float64 `json:"radius_nm"`

	// PollIntervalMs is the time between upstream polls (default: 5000)
	PollIntervalMs int `json:"poll_interval_ms"`

	DestinationCacheSize  int `json:"destination_cache_size"`
	DestinationTTLSeconds int `json:"destination_ttl_seconds"`
}

// PollInterval returns the poll interval as a duration.
func (f FeedConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMs) * time.Millisecond
}

// DestinationTTL returns the destination cache TTL.
func (f FeedConfig) DestinationTTL() time.Duration {
	return time.Duration(f.DestinationTTLSeconds) * time.Second
}

// ADSBConfig contains the adsb.lol client configuration.
type ADSBConfig struct {
	BaseURL string `json:"base_url"`

	// SearchPathTemplate contains {lat}, {lon} and {radius} placeholders
	SearchPathTemplate string `json:"search_path_template"`

	RouteSetPath      string `json:"routeset_path"`
	RouteSetBatchSize int    `json:"routeset_batch_size"`

	// RouteLookupEnabled fills destinationIata from the routeset endpoint
	RouteLookupEnabled bool `json:"route_lookup_enabled"`

	// RequestsPerSecond limits outgoing requests (0 = unlimited)
	RequestsPerSecond float64 `json:"requests_per_second"`

	TimeoutSeconds int `json:"timeout_seconds"`

	// MaxRetries per poll; retries must finish inside one poll interval
	MaxRetries int `json:"max_retries"`
}

// FlightAwareConfig configures the AeroAPI fallback for destinations the
// routeset cannot resolve. It is off while APIKey is empty.
type FlightAwareConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`

	// RequestsPerHour caps AeroAPI spend; lookups over budget wait for a
	// later poll (default: 60)
	RequestsPerHour int `json:"requests_per_hour"`

	TimeoutSeconds int `json:"timeout_seconds"`
}

// WeatherConfig configures the reflectivity query path and ingest.
type WeatherConfig struct {
	SamplesURL string `json:"samples_url"`

	// MaxCells caps the sampled grid (0 disables the cap)
	MaxCells int `json:"max_cells"`

	RequestChunkSize  int     `json:"request_chunk_size"`
	Concurrency       int     `json:"concurrency"`
	RequestsPerSecond float64 `json:"requests_per_second"`

	// DefaultRadiusNm is used when a query omits radiusNm (default: 80)
	DefaultRadiusNm float64 `json:"default_radius_nm"`

	// MaxRadiusNm clamps query radii (default: 150)
	MaxRadiusNm float64 `json:"max_radius_nm"`
}

// AviationWeatherConfig configures the METAR source for QNH.
type AviationWeatherConfig struct {
	BaseURL    string `json:"base_url"`
	MetarPath  string `json:"metar_path"`
	CacheTTLMs int    `json:"cache_ttl_ms"`
}

// CacheTTL returns the QNH cache TTL.
func (a AviationWeatherConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLMs) * time.Millisecond
}

// AirportConfig is the primary airport used for the low altitude exemption.
type AirportConfig struct {
	Enabled  bool    `json:"enabled"`
	ICAO     string  `json:"icao"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusNm float64 `json:"radius_nm"`
}

// RunwayConfig describes one approach corridor.
type RunwayConfig struct {
	ID           string  `json:"id"`
	ThresholdLat float64 `json:"threshold_lat"`
	ThresholdLon float64 `json:"threshold_lon"`
	HeadingDeg   float64 `json:"heading_deg"`
	LengthNm     float64 `json:"length_nm,omitempty"`
	HalfWidthNm  float64 `json:"half_width_nm,omitempty"`
}

// AirspaceConfig configures the alert engine.
type AirspaceConfig struct {
	// MVAFile is an AIXM/GML MVA document, optionally .zst compressed
	MVAFile string `json:"mva_file"`

	Airport AirportConfig  `json:"airport"`
	Runways []RunwayConfig `json:"runways"`

	FlightRulesCacheSize int `json:"flight_rules_cache_size"`
}

// IngestConfig authenticates and bounds external ingest processors.
type IngestConfig struct {
	// WxToken and TaisToken are shared secrets compared against the
	// x-wx-token / x-tais-token headers. Prefer the bcrypt hashes.
	WxToken   string `json:"wx_token,omitempty"`
	TaisToken string `json:"tais_token,omitempty"`

	WxTokenHash   string `json:"wx_token_hash,omitempty"`
	TaisTokenHash string `json:"tais_token_hash,omitempty"`

	// JWTSecret enables bearer tokens minted by cmd/ingest-token
	JWTSecret string `json:"jwt_secret,omitempty"`

	WxMaxBytes          int64 `json:"wx_max_bytes"`
	FlightRulesMaxBytes int64 `json:"flight_rules_max_bytes"`

	// ReplaySize is the number of flight rules messages replayed to new
	// stream clients
	ReplaySize int `json:"replay_size"`
}

// LoggingConfig configures the structured log file.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level"`

	// Dir holds the rotating log file
	Dir        string `json:"dir"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`

	// Stderr mirrors log records to standard error
	Stderr bool `json:"stderr"`
}

// Load reads configuration from a JSON file on top of the defaults, then
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults. The feed
// center is unset and must come from the file or the environment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			Database:       "traconscope",
			Username:       "traconscope",
			SSLMode:        "disable",
			MaxOpenConns:   10,
			MaxIdleConns:   2,
			RetentionHours: 24,
		},
		Feed: FeedConfig{
			PollIntervalMs:        5000,
			DestinationCacheSize:  2048,
			DestinationTTLSeconds: 900,
		},
		ADSB: ADSBConfig{
			BaseURL:            "https://api.adsb.lol",
			SearchPathTemplate: "/v2/lat/{lat}/lon/{lon}/dist/{radius}",
			RouteSetPath:       "/api/0/routeset/",
			RouteSetBatchSize:  50,
			RouteLookupEnabled: true,
			RequestsPerSecond:  1,
			TimeoutSeconds:     10,
			MaxRetries:         2,
		},
		FlightAware: FlightAwareConfig{
			BaseURL:         "https://aeroapi.flightaware.com/aeroapi",
			RequestsPerHour: 60,
			TimeoutSeconds:  10,
		},
		Weather: WeatherConfig{
			SamplesURL:        "https://mapservices.weather.noaa.gov/eventdriven/rest/services/radar/radar_base_reflectivity_time/ImageServer/getSamples",
			MaxCells:          40000,
			RequestChunkSize:  1000,
			Concurrency:       4,
			RequestsPerSecond: 10,
			DefaultRadiusNm:   80,
			MaxRadiusNm:       150,
		},
		AviationWeather: AviationWeatherConfig{
			BaseURL:    "https://aviationweather.gov",
			MetarPath:  "/api/data/metar",
			CacheTTLMs: 60000,
		},
		Airspace: AirspaceConfig{
			Airport:              AirportConfig{RadiusNm: 5},
			FlightRulesCacheSize: 4096,
		},
		Ingest: IngestConfig{
			WxMaxBytes:          8 << 20,
			FlightRulesMaxBytes: 1 << 20,
			ReplaySize:          200,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "logs",
			File:       "tracon-scope.log",
			MaxSizeMB:  64,
			MaxAgeDays: 14,
			MaxBackups: 5,
			Compress:   true,
			Stderr:     true,
		},
	}
}

// Validate checks the values the services cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Feed.RadiusNm <= 0 {
		errs = append(errs, fmt.Errorf("feed.radius_nm must be positive, got %v", c.Feed.RadiusNm))
	}
	if c.Feed.CenterLat < -90 || c.Feed.CenterLat > 90 {
		errs = append(errs, fmt.Errorf("feed.center_lat out of range: %v", c.Feed.CenterLat))
	}
	if c.Feed.CenterLon < -180 || c.Feed.CenterLon > 180 {
		errs = append(errs, fmt.Errorf("feed.center_lon out of range: %v", c.Feed.CenterLon))
	}
	if c.Feed.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("feed.poll_interval_ms must be positive, got %d", c.Feed.PollIntervalMs))
	}
	if c.FlightAware.APIKey != "" && c.FlightAware.RequestsPerHour <= 0 {
		errs = append(errs, fmt.Errorf("flightaware.requests_per_hour must be positive, got %d", c.FlightAware.RequestsPerHour))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Weather.MaxRadiusNm <= 0 || c.Weather.DefaultRadiusNm <= 0 {
		errs = append(errs, errors.New("weather radii must be positive"))
	}
	if c.Weather.MaxCells < 0 {
		errs = append(errs, fmt.Errorf("weather.max_cells must not be negative, got %d", c.Weather.MaxCells))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	for _, r := range c.Airspace.Runways {
		if r.ID == "" {
			errs = append(errs, errors.New("airspace.runways entries need an id"))
		}
	}
	return errors.Join(errs...)
}

// applyEnvironmentOverrides applies environment variable overrides to the
// config. This allows deployment settings and secrets to be kept out of
// config files.
func (c *Config) applyEnvironmentOverrides() error {
	strs := []struct {
		name string
		dst  *string
		bare bool
	}{
		{"PORT", &c.Server.Port, true},
		{"HOST", &c.Server.Host, false},
		{"DB_HOST", &c.Database.Host, false},
		{"DB_PASSWORD", &c.Database.Password, false},
		{"ADSBLOL_BASE_URL", &c.ADSB.BaseURL, true},
		{"ADSBLOL_SEARCH_PATH_TEMPLATE", &c.ADSB.SearchPathTemplate, true},
		{"ADSBLOL_ROUTESET_PATH", &c.ADSB.RouteSetPath, true},
		{"FLIGHTAWARE_API_KEY", &c.FlightAware.APIKey, true},
		{"AWX_BASE_URL", &c.AviationWeather.BaseURL, true},
		{"AWX_METAR_PATH", &c.AviationWeather.MetarPath, true},
		{"WX_REFLECTIVITY_SAMPLES_URL", &c.Weather.SamplesURL, true},
		{"WX_INGEST_TOKEN", &c.Ingest.WxToken, true},
		{"TAIS_INGEST_TOKEN", &c.Ingest.TaisToken, true},
		{"INGEST_JWT_SECRET", &c.Ingest.JWTSecret, false},
		{"MVA_FILE", &c.Airspace.MVAFile, false},
		{"LOG_LEVEL", &c.Logging.Level, false},
	}
	for _, s := range strs {
		v, ok := lookupEnv(s.name)
		if !ok && s.bare {
			v, ok = lookupBareEnv(s.name)
		}
		if ok {
			*s.dst = v
		}
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"CENTER_LAT", &c.Feed.CenterLat},
		{"CENTER_LON", &c.Feed.CenterLon},
		{"RADIUS_NM", &c.Feed.RadiusNm},
	}
	for _, f := range floats {
		v, ok := envValue(f.name)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("environment variable %s must be a valid number: %w", f.name, err)
		}
		*f.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"POLL_INTERVAL_MS", &c.Feed.PollIntervalMs},
		{"ADSBLOL_ROUTESET_BATCH_SIZE", &c.ADSB.RouteSetBatchSize},
		{"AWX_CACHE_TTL_MS", &c.AviationWeather.CacheTTLMs},
		{"WX_REFLECTIVITY_REQUEST_CHUNK_SIZE", &c.Weather.RequestChunkSize},
	}
	for _, i := range ints {
		v, ok := envValue(i.name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("environment variable %s must be a valid integer: %w", i.name, err)
		}
		*i.dst = parsed
	}

	if v, ok := envValue("WX_REFLECTIVITY_MAX_CELLS"); ok {
		switch strings.ToLower(v) {
		case "null", "none", "off", "false", "0":
			c.Weather.MaxCells = 0
		default:
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("environment variable WX_REFLECTIVITY_MAX_CELLS must be a valid number or null: %w", err)
			}
			c.Weather.MaxCells = parsed
		}
	}

	if v, ok := envValue("WX_INGEST_MAX_BYTES"); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("environment variable WX_INGEST_MAX_BYTES must be a positive integer")
		}
		c.Ingest.WxMaxBytes = parsed
	}

	if v, ok := lookupEnv("DATABASE_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("environment variable DATABASE_ENABLED must be a boolean: %w", err)
		}
		c.Database.Enabled = enabled
	}

	return nil
}

// envValue returns the prefixed variable, falling back to the bare
// compatibility name.
func envValue(name string) (string, bool) {
	if v, ok := lookupEnv(name); ok {
		return v, true
	}
	return lookupBareEnv(name)
}

func lookupEnv(name string) (string, bool) {
	return nonEmptyEnv(EnvPrefix + name)
}

func lookupBareEnv(name string) (string, bool) {
	return nonEmptyEnv(name)
}

func nonEmptyEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}
