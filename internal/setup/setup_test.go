package setup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/pkg/adsb"
	"github.com/unklstewy/tracon-scope/pkg/config"
	"github.com/unklstewy/tracon-scope/pkg/coordinates"
	"github.com/unklstewy/tracon-scope/pkg/flightaware"
)

type staticSource struct{}

func (staticSource) FetchAircraftInRadius(ctx context.Context, lat, lon, radiusNm float64) ([]adsb.Aircraft, error) {
	return nil, nil
}

func (staticSource) Close() error { return nil }

func TestRetryConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ADSB.MaxRetries = 3

	t.Run("Default poll interval keeps default delays", func(t *testing.T) {
		r := RetryConfig(cfg)
		if r.MaxRetries != 3 || r.MaxDelay != 2*time.Second || r.InitialDelay != 500*time.Millisecond {
			t.Errorf("unexpected retry config %+v", r)
		}
	})

	t.Run("Short poll interval shrinks delays", func(t *testing.T) {
		cfg.Feed.PollIntervalMs = 600
		r := RetryConfig(cfg)
		if r.MaxDelay != 300*time.Millisecond || r.InitialDelay != 300*time.Millisecond {
			t.Errorf("unexpected retry config %+v", r)
		}
	})
}

func TestFeedService(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Feed.CenterLat, cfg.Feed.CenterLon, cfg.Feed.RadiusNm = 35.2144, -80.9473, 60

	svc, err := FeedService(cfg, staticSource{}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("FeedService failed: %v", err)
	}
	latest := svc.Latest()
	if latest.Center.Lat != 35.2144 || latest.RadiusNm != 60 || latest.UpdatedAtMs != 0 {
		t.Errorf("unexpected initial snapshot %+v", latest)
	}

	t.Run("Zero radius is rejected", func(t *testing.T) {
		cfg := config.DefaultConfig()
		if _, err := FeedService(cfg, staticSource{}, nil, logging.Discard()); err == nil {
			t.Error("expected error for zero radius")
		}
	})
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name    string
		source  adsb.DataSource
		enabled bool
		apiKey  string
		check   func(adsb.RouteSource) bool
	}{
		{name: "No route source", source: staticSource{}, check: func(r adsb.RouteSource) bool { return r == nil }},
		{name: "Routeset only", source: ADSBClient(config.DefaultConfig().ADSB), enabled: true, check: func(r adsb.RouteSource) bool {
			_, ok := r.(*adsb.Client)
			return ok
		}},
		{name: "FlightAware only", source: staticSource{}, apiKey: "key", check: func(r adsb.RouteSource) bool {
			_, ok := r.(*flightaware.Client)
			return ok
		}},
		{name: "Routeset then FlightAware", source: ADSBClient(config.DefaultConfig().ADSB), enabled: true, apiKey: "key", check: func(r adsb.RouteSource) bool {
			chain, ok := r.(adsb.RouteChain)
			return ok && len(chain) == 2
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.ADSB.RouteLookupEnabled = tt.enabled
			cfg.FlightAware.APIKey = tt.apiKey
			if got := Routes(cfg, tt.source); !tt.check(got) {
				t.Errorf("Routes = %T", got)
			}
		})
	}
}

func TestEngine(t *testing.T) {
	cfg := config.AirspaceConfig{
		Airport: config.AirportConfig{Enabled: true, ICAO: "KCLT", Lat: 35.2144, Lon: -80.9473, RadiusNm: 5},
		Runways: []config.RunwayConfig{
			{ID: "18C", ThresholdLat: 35.2350, ThresholdLon: -80.9430, HeadingDeg: 181},
			{ID: "36C", ThresholdLat: 35.1940, ThresholdLon: -80.9430, HeadingDeg: 1, LengthNm: 8, HalfWidthNm: 0.5},
		},
	}

	e, err := Engine(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Engine failed: %v", err)
	}
	if e.Airport == nil || e.AirportRadiusNm != 5 || e.Rules == nil {
		t.Fatalf("unexpected engine %+v", e)
	}
	if len(e.Corridors) != 2 || e.Corridors[0].LengthNm != 10 || e.Corridors[1].HalfWidthNm != 0.5 {
		t.Errorf("unexpected corridors %+v", e.Corridors)
	}
	if !e.IsLowAltitudeExempt(coordinates.LatLon{Lat: 35.2144, Lon: -80.9473}) {
		t.Error("airport should be exempt")
	}

	t.Run("Unreadable MVA file disables low altitude alerts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mva.xml")
		if err := os.WriteFile(path, []byte("<not-gml"), 0o644); err != nil {
			t.Fatal(err)
		}
		e, err := Engine(config.AirspaceConfig{MVAFile: path}, logging.Discard())
		if err != nil {
			t.Fatalf("Engine failed: %v", err)
		}
		if len(e.Sectors) != 0 || e.Airport != nil {
			t.Errorf("unexpected engine %+v", e)
		}
	})
}
