package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/feed"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

// frame is everything the scope draws for one refresh.
type frame struct {
	feed   *feed.Response
	alerts []string
	grid   *wx.Grid
	wxErr  error
}

// source supplies frames to the scope.
type source interface {
	Frame(ctx context.Context, radiusNm float64) (frame, error)
}

// remoteSource reads a running scope server.
type remoteSource struct {
	baseURL string
	client  *http.Client
}

func newRemoteSource(baseURL string) *remoteSource {
	return &remoteSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *remoteSource) Frame(ctx context.Context, radiusNm float64) (frame, error) {
	var f frame

	var resp feed.Response
	if err := s.getJSON(ctx, "/api/aircraft", &resp); err != nil {
		return f, err
	}
	f.feed = &resp

	var alerts struct {
		Alerts []string `json:"alerts"`
	}
	if err := s.getJSON(ctx, "/api/alerts", &alerts); err != nil {
		return f, err
	}
	f.alerts = alerts.Alerts

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(resp.Center.Lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(resp.Center.Lon, 'f', 4, 64))
	q.Set("radiusNm", strconv.FormatFloat(radiusNm, 'f', 0, 64))
	var grid wx.Grid
	if err := s.getJSON(ctx, "/api/wx/radar?"+q.Encode(), &grid); err != nil {
		f.wxErr = err
	} else {
		f.grid = &grid
	}
	return f, nil
}

func (s *remoteSource) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// FeedReader is the part of the feed service the local source uses.
type FeedReader interface {
	Latest() *feed.Response
}

// GridFetcher samples the weather service.
type GridFetcher interface {
	FetchGrid(ctx context.Context, lat, lon, radiusNm float64) (*wx.Grid, error)
}

// localSource runs the feed, rule engine and weather sampler in process.
type localSource struct {
	feed    FeedReader
	engine  *airspace.Engine
	sampler GridFetcher
	logger  *slog.Logger

	// Weather is sampled at most once per wxEvery.
	wxEvery  time.Duration
	mu       sync.Mutex
	wxAt     time.Time
	wxRadius float64
	grid     *wx.Grid
}

func (s *localSource) Frame(ctx context.Context, radiusNm float64) (frame, error) {
	resp := s.feed.Latest()
	f := frame{
		feed:   resp,
		alerts: s.engine.Alerts(airspace.TargetsFromFeed(resp)),
	}
	if s.sampler == nil {
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid == nil || radiusNm != s.wxRadius || time.Since(s.wxAt) >= s.wxEvery {
		grid, err := s.sampler.FetchGrid(ctx, resp.Center.Lat, resp.Center.Lon, radiusNm)
		if err != nil {
			s.logger.Warn("Weather sample failed", "error", err)
			f.wxErr = err
		} else {
			s.grid, s.wxAt, s.wxRadius = grid, time.Now(), radiusNm
		}
	}
	f.grid = s.grid
	return f, nil
}
