package adsb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	cfg := DefaultClientConfig()
	cfg.BaseURL = url
	cfg.RequestsPerSecond = 0
	return NewClient(cfg)
}

// TestNewClient tests client construction.
func TestNewClient(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "https://api.test.com"})

	if client.cfg.SearchPathTemplate != "/v2/lat/{lat}/lon/{lon}/dist/{radius}" {
		t.Errorf("Expected default search path, got %s", client.cfg.SearchPathTemplate)
	}
	if client.cfg.RouteSetBatchSize != 50 {
		t.Errorf("Expected batch size 50, got %d", client.cfg.RouteSetBatchSize)
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", client.httpClient.Timeout)
	}
}

// TestFetchAircraftInRadius tests fetching aircraft within a radius.
func TestFetchAircraftInRadius(t *testing.T) {
	t.Run("Successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedPath := "/v2/lat/35.2/lon/-80.9/dist/40"
			if r.URL.Path != expectedPath {
				t.Errorf("Expected path %s, got %s", expectedPath, r.URL.Path)
			}
			w.Write([]byte(`{"ac":[
				{"hex":"a12345","flight":"ual123  ","lat":35.5,"lon":-80.5,"alt_baro":30000,"alt_geom":30250,
				 "gs":450,"track":90,"track_rate":-0.5,"squawk":"4567","t":"b738"},
				{"hex":"a99999","lat":35.1,"lon":-80.1,"alt_baro":"ground"},
				{"hex":"nopos"},
				{"flight":"NOHEX","lat":1,"lon":2}
			]}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		aircraft, err := client.FetchAircraftInRadius(context.Background(), 35.2, -80.9, 40)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(aircraft) != 2 {
			t.Fatalf("Expected 2 aircraft, got %d", len(aircraft))
		}

		ac := aircraft[0]
		if ac.ID != "A12345" || ac.Hex != "A12345" {
			t.Errorf("Expected id/hex A12345, got %s/%s", ac.ID, ac.Hex)
		}
		if ac.Callsign == nil || *ac.Callsign != "UAL123" {
			t.Errorf("Expected callsign UAL123, got %v", ac.Callsign)
		}
		if ac.AltitudeFt == nil || *ac.AltitudeFt != 30250 {
			t.Errorf("Expected geometric altitude 30250, got %v", ac.AltitudeFt)
		}
		if ac.TrackRateDegPerSec == nil || *ac.TrackRateDegPerSec != -0.5 {
			t.Errorf("Expected track rate -0.5, got %v", ac.TrackRateDegPerSec)
		}
		if ac.AircraftType == nil || *ac.AircraftType != "B738" {
			t.Errorf("Expected type B738, got %v", ac.AircraftType)
		}
		if ac.OnGround {
			t.Error("Expected airborne aircraft")
		}

		ground := aircraft[1]
		if !ground.OnGround {
			t.Error("Expected alt_baro \"ground\" to mark the aircraft on ground")
		}
		if ground.AltitudeFt != nil {
			t.Errorf("Expected unknown altitude, got %v", *ground.AltitudeFt)
		}
		if ground.Callsign != nil {
			t.Errorf("Expected nil callsign, got %v", *ground.Callsign)
		}
	})

	t.Run("Accepts a bare array and numeric strings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"icao24":"abc123","latitude":"40.5","longitude":"-73.9","gnd":1,"flightId":"f-1"}]`))
		}))
		defer server.Close()

		aircraft, err := newTestClient(server.URL).FetchAircraftInRadius(context.Background(), 40, -74, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(aircraft) != 1 {
			t.Fatalf("Expected 1 aircraft, got %d", len(aircraft))
		}
		if aircraft[0].ID != "F-1" || aircraft[0].Lat != 40.5 || !aircraft[0].OnGround {
			t.Errorf("Unexpected aircraft %+v", aircraft[0])
		}
	})

	t.Run("Handles rate limit error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.Header().Set("X-Rate-Limit-Limit", "100")
			w.Header().Set("X-Rate-Limit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchAircraftInRadius(context.Background(), 35, -80, 100)
		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("Expected RateLimitError, got %T: %v", err, err)
		}
		if rle.RetryAfter != 30*time.Second {
			t.Errorf("Expected RetryAfter 30s, got %v", rle.RetryAfter)
		}
		if rle.Headers.Limit != 100 || rle.Headers.Remaining != 0 {
			t.Errorf("Unexpected headers %+v", rle.Headers)
		}
	})

	t.Run("Validation error is permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchAircraftInRadius(context.Background(), 95, -80, 100)
		if err == nil {
			t.Fatal("Expected error, got nil")
		}
		if !IsPermanent(err) {
			t.Errorf("Expected permanent error, got %v", err)
		}
	})

	t.Run("Server error is not permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchAircraftInRadius(context.Background(), 35, -80, 100)
		if err == nil || IsPermanent(err) {
			t.Errorf("Expected transient error, got %v", err)
		}
	})
}

// TestFetchDestinations tests routeset lookups.
func TestFetchDestinations(t *testing.T) {
	t.Run("Falls back to the lon body shape", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			var body struct {
				Planes []map[string]any `json:"planes"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if _, ok := body.Planes[0]["lng"]; ok {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			w.Write([]byte(`[
				{"callsign":"UAL123","_airport_codes_iata":"EWR-SFO"},
				{"callsign":"DAL9","_airports":[{"iata":"ATL"},{"iata":"lax"}]}
			]`))
		}))
		defer server.Close()

		got, err := newTestClient(server.URL).FetchDestinations(context.Background(), []RoutePlane{
			{Callsign: "ual123", Lat: 40, Lon: -74},
			{Callsign: "UAL123", Lat: 40, Lon: -74},
			{Callsign: "DAL9", Lat: 33, Lon: -84},
			{Callsign: "N123AB", Lat: 33, Lon: -84},
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if calls != 2 {
			t.Errorf("Expected 2 requests, got %d", calls)
		}
		if got["UAL123"] != "SFO" {
			t.Errorf("UAL123 -> %q, want SFO", got["UAL123"])
		}
		if got["DAL9"] != "LAX" {
			t.Errorf("DAL9 -> %q, want LAX", got["DAL9"])
		}
		if dest, ok := got["N123AB"]; !ok || dest != "" {
			t.Errorf("N123AB -> %q (present=%v), want empty entry", dest, ok)
		}
	})

	t.Run("Fails fast on server errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchDestinations(context.Background(), []RoutePlane{{Callsign: "UAL1"}})
		if err == nil {
			t.Fatal("Expected error, got nil")
		}
	})
}

type stubRoutes struct {
	found map[string]string
	err   error
	asked []string
}

func (s *stubRoutes) FetchDestinations(_ context.Context, planes []RoutePlane) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range planes {
		s.asked = append(s.asked, p.Callsign)
		if dest, ok := s.found[p.Callsign]; ok {
			out[p.Callsign] = dest
		}
	}
	return out, s.err
}

func TestRouteChain(t *testing.T) {
	primary := &stubRoutes{found: map[string]string{"AAL1": "JFK", "DAL2": "", "UAL3": ""}}
	fallback := &stubRoutes{found: map[string]string{"DAL2": "ATL", "UAL3": ""}, err: errors.New("boom")}

	got, err := RouteChain{primary, fallback}.FetchDestinations(context.Background(), []RoutePlane{
		{Callsign: "AAL1"}, {Callsign: "DAL2"}, {Callsign: "UAL3"}, {Callsign: "SWA4"},
	})
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}

	t.Run("Later sources only see unresolved callsigns", func(t *testing.T) {
		if len(fallback.asked) != 3 || fallback.asked[0] != "DAL2" {
			t.Errorf("fallback asked %v", fallback.asked)
		}
	})

	t.Run("Resolved, unresolved and skipped callsigns", func(t *testing.T) {
		if got["AAL1"] != "JFK" || got["DAL2"] != "ATL" {
			t.Errorf("destinations = %v", got)
		}
		if dest, ok := got["UAL3"]; !ok || dest != "" {
			t.Errorf("UAL3 = %q, %v; want an empty entry", dest, ok)
		}
		if _, ok := got["SWA4"]; ok {
			t.Error("SWA4 was skipped by every source and must be retried")
		}
	})
}

func TestNormalizeIATA(t *testing.T) {
	tests := map[string]string{
		"sfo":  "SFO",
		" JFK": "JFK",
		"KJFK": "",
		"J1K":  "",
		"":     "",
	}
	for in, want := range tests {
		if got := NormalizeIATA(in); got != want {
			t.Errorf("NormalizeIATA(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Run("Seconds", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "5")
		if got := parseRetryAfter(h); got != 5*time.Second {
			t.Errorf("Expected 5s, got %v", got)
		}
	})

	t.Run("HTTP date in the future", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
		if got := parseRetryAfter(h); got <= 0 || got > time.Minute {
			t.Errorf("Expected (0, 1m], got %v", got)
		}
	})

	t.Run("Missing header", func(t *testing.T) {
		if got := parseRetryAfter(http.Header{}); got != 0 {
			t.Errorf("Expected 0, got %v", got)
		}
	})
}

func TestExtractRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "60")
	h.Set("X-RateLimit-Reset", "1700000000")

	got := extractRateLimitHeaders(h)
	if got.Limit != 60 {
		t.Errorf("Expected limit 60, got %d", got.Limit)
	}
	if got.Remaining != -1 {
		t.Errorf("Expected remaining -1, got %d", got.Remaining)
	}
	if got.Reset.Unix() != 1700000000 {
		t.Errorf("Unexpected reset %v", got.Reset)
	}
}
