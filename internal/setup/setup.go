// Package setup builds the shared services from configuration for the
// commands.
package setup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/unklstewy/tracon-scope/internal/metrics"
	"github.com/unklstewy/tracon-scope/pkg/adsb"
	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/config"
	"github.com/unklstewy/tracon-scope/pkg/coordinates"
	"github.com/unklstewy/tracon-scope/pkg/feed"
	"github.com/unklstewy/tracon-scope/pkg/flightaware"
	"github.com/unklstewy/tracon-scope/pkg/qnh"
	"github.com/unklstewy/tracon-scope/pkg/recat"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

// Center returns the configured feed center.
func Center(cfg *config.Config) coordinates.LatLon {
	return coordinates.LatLon{Lat: cfg.Feed.CenterLat, Lon: cfg.Feed.CenterLon}
}

// ADSBClient creates the adsb.lol client.
func ADSBClient(cfg config.ADSBConfig) *adsb.Client {
	return adsb.NewClient(adsb.ClientConfig{
		BaseURL:            cfg.BaseURL,
		SearchPathTemplate: cfg.SearchPathTemplate,
		RouteSetPath:       cfg.RouteSetPath,
		RouteSetBatchSize:  cfg.RouteSetBatchSize,
		RequestsPerSecond:  cfg.RequestsPerSecond,
		Timeout:            time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
}

// RetryConfig bounds upstream retries so they finish within one poll
// interval.
func RetryConfig(cfg *config.Config) adsb.RetryConfig {
	retry := adsb.DefaultRetryConfig()
	retry.MaxRetries = cfg.ADSB.MaxRetries
	if interval := cfg.Feed.PollInterval(); interval > 0 {
		retry.MaxDelay = min(retry.MaxDelay, interval/2)
		retry.InitialDelay = min(retry.InitialDelay, retry.MaxDelay)
	}
	return retry
}

// FeedService creates the aircraft feed around source. The route lookup
// is wired when enabled and source also implements adsb.RouteSource; with a
// FlightAware key, AeroAPI answers what the routeset leaves unresolved.
func FeedService(cfg *config.Config, source adsb.DataSource, m *metrics.Metrics, logger *slog.Logger) (*feed.Service, error) {
	table, err := recat.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load wake categories: %w", err)
	}

	deps := feed.Deps{
		Source:  source,
		Recat:   table,
		Metrics: m,
		Logger:  logger,
	}
	deps.Routes = Routes(cfg, source)

	return feed.NewService(feed.Config{
		Center:               Center(cfg),
		RadiusNm:             cfg.Feed.RadiusNm,
		PollInterval:         cfg.Feed.PollInterval(),
		Retry:                RetryConfig(cfg),
		DestinationCacheSize: cfg.Feed.DestinationCacheSize,
		DestinationTTL:       cfg.Feed.DestinationTTL(),
	}, deps)
}

// Routes builds the destination lookup chain, or nil when there is none.
func Routes(cfg *config.Config, source adsb.DataSource) adsb.RouteSource {
	var chain adsb.RouteChain
	if routes, ok := source.(adsb.RouteSource); ok && cfg.ADSB.RouteLookupEnabled {
		chain = append(chain, routes)
	}
	if fa := cfg.FlightAware; fa.APIKey != "" {
		chain = append(chain, flightaware.NewClient(flightaware.Config{
			APIKey:          fa.APIKey,
			BaseURL:         fa.BaseURL,
			RequestsPerHour: fa.RequestsPerHour,
			Timeout:         time.Duration(fa.TimeoutSeconds) * time.Second,
		}))
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	return chain
}

// Engine creates the alert engine: MVA sectors, the airport exemption,
// approach corridors and an empty flight rules side channel.
func Engine(cfg config.AirspaceConfig, logger *slog.Logger) (*airspace.Engine, error) {
	rules, err := airspace.NewFlightRules(cfg.FlightRulesCacheSize)
	if err != nil {
		return nil, err
	}

	e := &airspace.Engine{
		AirportRadiusNm: cfg.Airport.RadiusNm,
		Rules:           rules,
	}
	if cfg.MVAFile != "" {
		e.Sectors = airspace.LoadMVAFile(cfg.MVAFile, logger)
	}
	if cfg.Airport.Enabled {
		e.Airport = &coordinates.LatLon{Lat: cfg.Airport.Lat, Lon: cfg.Airport.Lon}
	}
	for _, rw := range cfg.Runways {
		e.Corridors = append(e.Corridors, airspace.NewCorridor(
			rw.ID,
			coordinates.LatLon{Lat: rw.ThresholdLat, Lon: rw.ThresholdLon},
			rw.HeadingDeg,
			rw.LengthNm,
			rw.HalfWidthNm,
		))
	}
	return e, nil
}

// QnhService creates the METAR backed QNH lookup.
func QnhService(cfg config.AviationWeatherConfig) *qnh.Service {
	return qnh.NewService(qnh.Config{
		BaseURL:   cfg.BaseURL,
		MetarPath: cfg.MetarPath,
		CacheTTL:  cfg.CacheTTL(),
	})
}

// Sampler creates the reflectivity query path sampler.
func Sampler(cfg config.WeatherConfig) *wx.Sampler {
	return wx.NewSampler(wx.SamplerConfig{
		SamplesURL:        cfg.SamplesURL,
		MaxCells:          cfg.MaxCells,
		ChunkSize:         cfg.RequestChunkSize,
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
}
