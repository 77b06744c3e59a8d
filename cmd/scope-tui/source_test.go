package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/feed"
	"github.com/unklstewy/tracon-scope/pkg/tracking"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

func TestRemoteSource(t *testing.T) {
	var wxQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/aircraft", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(feed.Response{
			UpdatedAtMs: 1700000000000,
			Center:      feed.Center{Lat: 35.2144, Lon: -80.9473},
			RadiusNm:    60,
			Aircraft:    []feed.Item{{ID: "a1"}},
		})
	})
	mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"updatedAtMs":1700000000000,"alerts":["N123 LA"]}`))
	})
	mux.HandleFunc("/api/wx/radar", func(w http.ResponseWriter, r *http.Request) {
		wxQuery = r.URL.RawQuery
		http.Error(w, `{"error":"upstream"}`, http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, err := newRemoteSource(srv.URL+"/").Frame(context.Background(), 40)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if f.feed == nil || len(f.feed.Aircraft) != 1 || f.feed.RadiusNm != 60 {
		t.Errorf("unexpected feed %+v", f.feed)
	}
	if len(f.alerts) != 1 || f.alerts[0] != "N123 LA" {
		t.Errorf("alerts = %v", f.alerts)
	}
	if f.grid != nil || f.wxErr == nil {
		t.Error("weather failure should leave the grid empty and report an error")
	}
	if wxQuery != "lat=35.2144&lon=-80.9473&radiusNm=40" {
		t.Errorf("wx query = %q", wxQuery)
	}

	t.Run("Feed failure fails the frame", func(t *testing.T) {
		down := httptest.NewServer(http.NotFoundHandler())
		defer down.Close()
		if _, err := newRemoteSource(down.URL).Frame(context.Background(), 40); err == nil {
			t.Error("expected error")
		}
	})
}

type staticFeed struct{ resp *feed.Response }

func (s staticFeed) Latest() *feed.Response { return s.resp }

type countingSampler struct {
	calls int
	err   error
}

func (s *countingSampler) FetchGrid(ctx context.Context, lat, lon, radiusNm float64) (*wx.Grid, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &wx.Grid{RadiusNm: radiusNm, Width: 1, Height: 1, Levels: []int{2}}, nil
}

func TestLocalSource(t *testing.T) {
	alt := 500.0
	resp := &feed.Response{
		Center: feed.Center{Lat: 35.2144, Lon: -80.9473},
		Aircraft: []feed.Item{
			{ID: "a1", Callsign: ptr("AAL1"), AltitudeAmslFt: &alt, Position: tracking.PositionSample{Lat: 35.3, Lon: -80.9}},
			{ID: "b2", Callsign: ptr("DAL2"), AltitudeAmslFt: &alt, Position: tracking.PositionSample{Lat: 35.3, Lon: -80.9}},
		},
	}
	sampler := &countingSampler{}
	src := &localSource{
		feed:    staticFeed{resp},
		engine:  &airspace.Engine{},
		sampler: sampler,
		logger:  logging.Discard(),
		wxEvery: time.Hour,
	}

	f, err := src.Frame(context.Background(), 40)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if len(f.alerts) != 1 || f.alerts[0] != "AAL1*DAL2 CA" {
		t.Errorf("alerts = %v", f.alerts)
	}
	if f.grid == nil || f.grid.RadiusNm != 40 {
		t.Fatalf("unexpected grid %+v", f.grid)
	}

	t.Run("Weather is cached until the range changes", func(t *testing.T) {
		src.Frame(context.Background(), 40)
		if sampler.calls != 1 {
			t.Errorf("calls = %d, want 1", sampler.calls)
		}
		src.Frame(context.Background(), 60)
		if sampler.calls != 2 {
			t.Errorf("calls = %d, want 2", sampler.calls)
		}
	})

	t.Run("Failed sample keeps the previous grid", func(t *testing.T) {
		sampler.err = errors.New("boom")
		f, _ := src.Frame(context.Background(), 80)
		if f.wxErr == nil || f.grid == nil || f.grid.RadiusNm != 60 {
			t.Errorf("unexpected frame %+v", f)
		}
	})
}
