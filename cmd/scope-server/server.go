package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unklstewy/tracon-scope/internal/auth"
	"github.com/unklstewy/tracon-scope/internal/db"
	"github.com/unklstewy/tracon-scope/internal/metrics"
	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/coordinates"
	"github.com/unklstewy/tracon-scope/pkg/feed"
	"github.com/unklstewy/tracon-scope/pkg/qnh"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

const (
	streamWx          = "wx"
	streamFlightRules = "flightRules"

	keepaliveInterval = 15 * time.Second

	defaultHistoryWindow = 30 * time.Minute
	maxHistoryWindow     = 24 * time.Hour
)

// FeedSource provides feed snapshots.
type FeedSource interface {
	Latest() *feed.Response
	Subscribe() (<-chan *feed.Response, func())
}

// QnhSource looks up altimeter settings.
type QnhSource interface {
	GetQnh(ctx context.Context, icaos []string) (*qnh.Response, error)
}

// GridSampler builds a reflectivity grid around a point.
type GridSampler interface {
	FetchGrid(ctx context.Context, lat, lon, radiusNm float64) (*wx.Grid, error)
}

// WxArchive stores weather grids.
type WxArchive interface {
	Insert(ctx context.Context, source string, g *wx.Grid) error
}

// FlightRulesArchive stores flight rules messages.
type FlightRulesArchive interface {
	Insert(ctx context.Context, msgs []airspace.FlightRulesMessage) error
}

// TrackArchive reads archived aircraft positions.
type TrackArchive interface {
	TrackHistory(ctx context.Context, aircraftID string, since time.Time) ([]db.TrackPoint, error)
}

// Options are the HTTP server settings that handlers consult.
type Options struct {
	CORSOrigins []string

	WxMaxBytes          int64
	FlightRulesMaxBytes int64

	// Fallback geometry for ingested grids and radar queries without a
	// position
	Center   coordinates.LatLon
	RadiusNm float64

	DefaultWxRadiusNm float64
	MaxWxRadiusNm     float64
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	router *chi.Mux
	opts   Options

	feed        FeedSource
	engine      *airspace.Engine
	qnh         QnhSource
	sampler     GridSampler
	wxStore     *wx.Store
	broadcaster *Broadcaster
	hub         *wsHub

	wxGuard    *auth.Guard
	rulesGuard *auth.Guard

	wxArchive    WxArchive
	rulesArchive FlightRulesArchive
	history      TrackArchive

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// AlertsResponse is the body of GET /api/alerts.
type AlertsResponse struct {
	UpdatedAtMs int64    `json:"updatedAtMs"`
	Alerts      []string `json:"alerts"`
}

// HistoryPoint is one archived position of an aircraft.
type HistoryPoint struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	AltitudeFt  *float64 `json:"altitudeFt"`
	Coast       bool     `json:"coast"`
	TimestampMs int64    `json:"timestampMs"`
}

// HistoryResponse is the body of GET /api/history/{id}.
type HistoryResponse struct {
	ID     string         `json:"id"`
	Points []HistoryPoint `json:"points"`
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	s.router = r

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", auth.HeaderTaisToken, auth.HeaderWxToken},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, errorBody("Not Found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondText(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	r.Get("/ws/aircraft", s.handleAircraftSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/aircraft", s.handleGetAircraft)
		r.Get("/alerts", s.handleGetAlerts)
		r.Get("/qnh", s.handleGetQnh)
		r.Get("/history/{id}", s.handleGetHistory)

		r.Get("/wx/radar", s.handleGetWxRadar)
		r.Post("/wx/radar", s.handleIngestWxRadar)

		r.Get("/flightRules", s.handleFlightRulesStream)
		r.Post("/flightRules", s.handleIngestFlightRules)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetAircraft(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, s.feed.Latest())
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, s.evaluate(s.feed.Latest()))
}

// evaluate runs the alert rules over a snapshot.
func (s *Server) evaluate(resp *feed.Response) AlertsResponse {
	out := AlertsResponse{Alerts: []string{}}
	if resp == nil {
		return out
	}
	out.UpdatedAtMs = resp.UpdatedAtMs

	targets := airspace.TargetsFromFeed(resp)
	la := s.engine.LowAltitudeAlerts(targets)
	ca := s.engine.ConflictAlerts(targets)
	s.metrics.SetAlerts("low_altitude", len(la))
	s.metrics.SetAlerts("conflict", len(ca))

	out.Alerts = airspace.MergeAlerts(la, ca)
	return out
}

// handleGetHistory returns the archived trail of one aircraft, oldest
// first. sinceMs defaults to 30 minutes ago and is limited to one day.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, http.StatusNotFound, errorBody("Track archive is not enabled"))
		return
	}

	id := chi.URLParam(r, "id")
	now := s.now()
	since := now.Add(-defaultHistoryWindow)
	if v := r.URL.Query().Get("sinceMs"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody("sinceMs must be epoch milliseconds"))
			return
		}
		since = time.UnixMilli(ms)
	}
	if earliest := now.Add(-maxHistoryWindow); since.Before(earliest) {
		since = earliest
	}

	points, err := s.history.TrackHistory(r.Context(), id, since)
	if err != nil {
		s.logger.Error("Track history lookup failed", "id", id, "error", err)
		respondJSON(w, http.StatusInternalServerError, errorBody("Failed to read track history"))
		return
	}

	out := HistoryResponse{ID: id, Points: make([]HistoryPoint, 0, len(points))}
	for _, p := range points {
		out.Points = append(out.Points, HistoryPoint{
			Lat:         p.Lat,
			Lon:         p.Lon,
			AltitudeFt:  p.AltitudeFt,
			Coast:       p.Coast,
			TimestampMs: p.ObservedAt.UnixMilli(),
		})
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetQnh(w http.ResponseWriter, r *http.Request) {
	icaos := icaoParams(r)
	if len(icaos) == 0 {
		respondJSON(w, http.StatusBadRequest, errorBody("Provide at least one ICAO via ?icao=KJFK&icao=KLAX or ?ids=KJFK,KLAX"))
		return
	}

	resp, err := s.qnh.GetQnh(r.Context(), icaos)
	if err != nil {
		s.logger.Error("QNH lookup failed", "icaos", icaos, "error", err)
		respondJSON(w, http.StatusBadGateway, errorBody("Failed to fetch QNH data"))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, resp)
}

// icaoParams reads repeated icao parameters, each possibly a comma list,
// or failing that the comma separated ids parameter.
func icaoParams(r *http.Request) []string {
	q := r.URL.Query()
	if repeated := q["icao"]; len(repeated) > 0 {
		var out []string
		for _, v := range repeated {
			out = append(out, strings.Split(v, ",")...)
		}
		return out
	}
	ids := q.Get("ids")
	if ids == "" {
		return nil
	}
	return strings.Split(ids, ",")
}

func (s *Server) handleGetWxRadar(w http.ResponseWriter, r *http.Request) {
	if g := s.wxStore.Latest(); g != nil {
		w.Header().Set("Cache-Control", "no-store")
		respondJSON(w, http.StatusOK, g)
		return
	}

	lat, lon, radiusNm, ok := s.radarQuery(r)
	if !ok {
		respondJSON(w, http.StatusBadRequest, errorBody("Provide valid lat, lon, and positive radiusNm query params"))
		return
	}

	g, err := s.sampler.FetchGrid(r.Context(), lat, lon, radiusNm)
	s.metrics.ObserveWxFetch(err)
	if err != nil {
		s.logger.Error("Radar lookup failed", "lat", lat, "lon", lon, "radiusNm", radiusNm, "error", err)
		respondJSON(w, http.StatusBadGateway, errorBody("Failed to fetch radar data"))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, g)
}

// radarQuery parses lat, lon and radiusNm. A missing position defaults to
// the feed center; the radius is clamped to the configured maximum.
func (s *Server) radarQuery(r *http.Request) (lat, lon, radiusNm float64, ok bool) {
	q := r.URL.Query()
	lat, okLat := floatParam(q.Get("lat"), s.opts.Center.Lat)
	lon, okLon := floatParam(q.Get("lon"), s.opts.Center.Lon)
	radiusNm, okRadius := floatParam(q.Get("radiusNm"), s.opts.DefaultWxRadiusNm)
	if !okLat || !okLon || !okRadius || radiusNm <= 0 {
		return 0, 0, 0, false
	}
	if s.opts.MaxWxRadiusNm > 0 {
		radiusNm = math.Min(radiusNm, s.opts.MaxWxRadiusNm)
	}
	return lat, lon, radiusNm, true
}

func floatParam(v string, fallback float64) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (s *Server) handleIngestWxRadar(w http.ResponseWriter, r *http.Request) {
	body, status := s.readIngest(w, r, s.wxGuard, s.opts.WxMaxBytes)
	if status != 0 {
		s.metrics.ObserveIngest(streamWx, status)
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.rejectIngest(w, streamWx, http.StatusBadRequest, "invalid json")
		return
	}
	if _, isObject := payload.(map[string]any); !isObject {
		s.metrics.ObserveIngest(streamWx, http.StatusBadRequest)
		respondJSON(w, http.StatusBadRequest, errorBody("invalid wx payload"))
		return
	}

	g := wx.NormalizePayload(payload, s.opts.Center, s.opts.RadiusNm, s.now())
	s.wxStore.Replace(&g)
	s.logger.Debug("Ingested wx grid",
		"site", g.Site,
		"width", g.Width,
		"height", g.Height,
		"peakLevel", g.PeakLevel())

	if s.wxArchive != nil {
		err := s.wxArchive.Insert(r.Context(), db.WxSourceIngest, &g)
		s.metrics.ObserveArchiveWrite("wx_grids", err)
		if err != nil {
			s.logger.Warn("Failed to archive wx grid", "error", err)
		}
	}

	s.metrics.ObserveIngest(streamWx, http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngestFlightRules(w http.ResponseWriter, r *http.Request) {
	body, status := s.readIngest(w, r, s.rulesGuard, s.opts.FlightRulesMaxBytes)
	if status != 0 {
		s.metrics.ObserveIngest(streamFlightRules, status)
		return
	}

	// Stream frames are single lines.
	var line bytes.Buffer
	if err := json.Compact(&line, body); err != nil {
		s.rejectIngest(w, streamFlightRules, http.StatusBadRequest, "invalid json")
		return
	}
	s.broadcaster.Publish(line.String())

	msgs, err := airspace.ParseFlightRulesMessages(body)
	if err != nil {
		s.logger.Warn("Flight rules payload has no usable messages", "error", err)
	} else {
		n := s.engine.Rules.Apply(msgs...)
		s.logger.Debug("Applied flight rules", "messages", len(msgs), "recorded", n)

		if s.rulesArchive != nil {
			err := s.rulesArchive.Insert(r.Context(), msgs)
			s.metrics.ObserveArchiveWrite("flight_rules_messages", err)
			if err != nil {
				s.logger.Warn("Failed to archive flight rules", "error", err)
			}
		}
	}

	s.metrics.ObserveIngest(streamFlightRules, http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

// readIngest authorizes an ingest request and reads its trimmed body. On
// failure the response has been written and the status is returned.
func (s *Server) readIngest(w http.ResponseWriter, r *http.Request, guard *auth.Guard, maxBytes int64) ([]byte, int) {
	if err := guard.Authorize(r); err != nil {
		s.logger.Warn("Rejected ingest request", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
		respondText(w, http.StatusUnauthorized, "unauthorized")
		return nil, http.StatusUnauthorized
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondText(w, http.StatusRequestEntityTooLarge, "payload too large")
			return nil, http.StatusRequestEntityTooLarge
		}
		respondText(w, http.StatusBadRequest, "bad request")
		return nil, http.StatusBadRequest
	}
	return bytes.TrimSpace(body), 0
}

func (s *Server) rejectIngest(w http.ResponseWriter, stream string, status int, msg string) {
	s.metrics.ObserveIngest(stream, status)
	respondText(w, status, msg)
}

// handleFlightRulesStream serves flight rules as server-sent events,
// replaying the recent backlog first.
func (s *Server) handleFlightRulesStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondText(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	backlog, live, cancel := s.broadcaster.Subscribe()
	defer cancel()
	s.metrics.StreamClientAdded()
	defer s.metrics.StreamClientRemoved()

	io.WriteString(w, "retry: 1000\n")
	io.WriteString(w, ": connected\n\n")
	for _, msg := range backlog {
		writeEvent(w, msg)
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-live:
			if err := writeEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, data string) error {
	_, err := fmt.Fprintf(w, "event: flightRules\ndata: %s\n\n", data)
	return err
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}
