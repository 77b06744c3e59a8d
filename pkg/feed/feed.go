// Package feed runs the aircraft poll loop: it fetches aircraft around the
// configured center, runs them through the track store and publishes the
// resulting feed snapshot to readers and subscribers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/unklstewy/tracon-scope/internal/metrics"
	"github.com/unklstewy/tracon-scope/pkg/adsb"
	"github.com/unklstewy/tracon-scope/pkg/coordinates"
	"github.com/unklstewy/tracon-scope/pkg/recat"
	"github.com/unklstewy/tracon-scope/pkg/tracking"
)

// ErrPollInFlight is returned by Poll when another poll is still running.
var ErrPollInFlight = errors.New("poll already in flight")

const (
	DefaultPollInterval         = 5 * time.Second
	DefaultDestinationCacheSize = 2048
	DefaultDestinationTTL       = 15 * time.Minute
)

// Center is the feed center in decimal degrees.
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Item is one airborne aircraft in a feed snapshot.
type Item struct {
	ID                string                    `json:"id"`
	Callsign          *string                   `json:"callsign"`
	AircraftTypeIcao  *string                   `json:"aircraftTypeIcao"`
	WakeCategory      recat.Category            `json:"wakeCategory"`
	TrackDeg          *float64                  `json:"trackDeg"`
	Coast             bool                      `json:"coast"`
	GroundspeedKts    *float64                  `json:"groundspeedKts"`
	AltitudeAmslFt    *float64                  `json:"altitudeAmslFt"`
	OnGround          bool                      `json:"onGround"`
	Squawk            *string                   `json:"squawk"`
	DestinationIata   *string                   `json:"destinationIata"`
	Position          tracking.PositionSample   `json:"position"`
	PreviousPositions []tracking.PositionSample `json:"previousPositions"`
}

// Response is a complete feed snapshot. Snapshots are immutable once
// published.
type Response struct {
	UpdatedAtMs int64   `json:"updatedAtMs"`
	Center      Center  `json:"center"`
	RadiusNm    float64 `json:"radiusNm"`
	Aircraft    []Item  `json:"aircraft"`
}

// Config configures the poll loop.
type Config struct {
	Center       coordinates.LatLon
	RadiusNm     float64
	PollInterval time.Duration

	// Retry bounds each upstream fetch. Keep MaxDelay below PollInterval.
	Retry adsb.RetryConfig

	DestinationCacheSize int
	DestinationTTL       time.Duration
}

// Deps are the collaborators of a Service. Routes, Recat and Metrics are
// optional.
type Deps struct {
	Source  adsb.DataSource
	Routes  adsb.RouteSource
	Recat   *recat.Table
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service owns the track store and the latest snapshot.
type Service struct {
	cfg     Config
	source  adsb.DataSource
	routes  adsb.RouteSource
	recat   *recat.Table
	metrics *metrics.Metrics
	logger  *slog.Logger

	store        *tracking.Store
	destinations *expirable.LRU[string, string]

	inFlight atomic.Bool
	latest   atomic.Pointer[Response]

	subMu sync.Mutex
	subs  map[chan *Response]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewService creates a feed service. The initial snapshot is empty with
// updatedAtMs 0.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("feed: data source is required")
	}
	if cfg.RadiusNm <= 0 {
		return nil, fmt.Errorf("feed: invalid radius %v", cfg.RadiusNm)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Retry == (adsb.RetryConfig{}) {
		cfg.Retry = adsb.DefaultRetryConfig()
	}
	if cfg.DestinationCacheSize <= 0 {
		cfg.DestinationCacheSize = DefaultDestinationCacheSize
	}
	if cfg.DestinationTTL <= 0 {
		cfg.DestinationTTL = DefaultDestinationTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}

	s := &Service{
		cfg:          cfg,
		source:       deps.Source,
		routes:       deps.Routes,
		recat:        deps.Recat,
		metrics:      deps.Metrics,
		logger:       logger,
		store:        tracking.NewStore(cfg.PollInterval),
		destinations: expirable.NewLRU[string, string](cfg.DestinationCacheSize, nil, cfg.DestinationTTL),
		subs:         make(map[chan *Response]struct{}),
		now:          time.Now,
	}
	s.latest.Store(&Response{
		Center:   Center{Lat: cfg.Center.Lat, Lon: cfg.Center.Lon},
		RadiusNm: cfg.RadiusNm,
		Aircraft: []Item{},
	})
	return s, nil
}

// Latest returns the most recent snapshot.
func (s *Service) Latest() *Response {
	return s.latest.Load()
}

// Subscribe registers a channel that receives every new snapshot. A
// subscriber that has not drained the previous snapshot misses the next
// one. The returned function unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan *Response, func()) {
	ch := make(chan *Response, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(resp *Response) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- resp:
		default:
		}
	}
}

// Start polls immediately and then every PollInterval until ctx is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		s.pollSafely(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pollSafely(ctx)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) pollSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in feed poll, retrying next cycle", "panic", r)
		}
	}()

	if err := s.Poll(ctx); err != nil && !errors.Is(err, ErrPollInFlight) && ctx.Err() == nil {
		s.logger.Warn("unable to update aircraft feed", "error", err)
	}
}

// Poll runs one cycle. A call made while another poll is running returns
// ErrPollInFlight without doing anything. On upstream failure the previous
// snapshot stays in place.
func (s *Service) Poll(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.ObservePoll(metrics.PollSkipped, 0)
		return ErrPollInFlight
	}
	defer s.inFlight.Store(false)

	started := time.Now()
	now := s.now()

	aircraft, err := adsb.RetryWithBackoffResult(ctx, s.cfg.Retry, func() ([]adsb.Aircraft, error) {
		return s.source.FetchAircraftInRadius(ctx, s.cfg.Center.Lat, s.cfg.Center.Lon, s.cfg.RadiusNm)
	})
	if err != nil {
		s.metrics.ObservePoll(metrics.PollError, time.Since(started))
		return fmt.Errorf("failed to fetch aircraft: %w", err)
	}

	tracks := s.store.Apply(aircraft, now)
	destinations := s.resolveDestinations(ctx, tracks)

	resp := &Response{
		UpdatedAtMs: now.UnixMilli(),
		Center:      Center{Lat: s.cfg.Center.Lat, Lon: s.cfg.Center.Lon},
		RadiusNm:    s.cfg.RadiusNm,
		Aircraft:    make([]Item, 0, len(tracks)),
	}
	coasting := 0
	for _, t := range tracks {
		item := s.item(t, destinations)
		if item.Coast {
			coasting++
		}
		resp.Aircraft = append(resp.Aircraft, item)
	}

	s.latest.Store(resp)
	s.publish(resp)

	s.metrics.ObservePoll(metrics.PollOK, time.Since(started))
	s.metrics.SetTracks(len(resp.Aircraft), coasting)
	s.logger.Debug("aircraft feed updated", "aircraft", len(resp.Aircraft), "coasting", coasting)
	return nil
}

func (s *Service) item(t tracking.Track, destinations map[string]string) Item {
	ac := t.Aircraft
	item := Item{
		ID:                ac.ID,
		Callsign:          ac.Callsign,
		AircraftTypeIcao:  ac.AircraftType,
		WakeCategory:      recat.CategoryUnknown,
		TrackDeg:          ac.TrackDeg,
		Coast:             t.Coasting(),
		GroundspeedKts:    ac.GroundspeedKts,
		AltitudeAmslFt:    ac.AltitudeFt,
		OnGround:          ac.OnGround,
		Squawk:            ac.Squawk,
		Position:          t.Position,
		PreviousPositions: t.History,
	}
	if s.recat != nil && ac.AircraftType != nil {
		item.WakeCategory = s.recat.Lookup(*ac.AircraftType)
	}
	if dest := destinations[ac.CallsignOrEmpty()]; dest != "" {
		item.DestinationIata = &dest
	}
	return item
}

// resolveDestinations returns callsign to IATA destination for the tracks,
// asking the route source only for callsigns not cached. Lookups that
// resolve to nothing are cached as "" so they are not retried every poll.
// A failed lookup is logged and leaves those destinations empty.
func (s *Service) resolveDestinations(ctx context.Context, tracks []tracking.Track) map[string]string {
	out := make(map[string]string)
	if s.routes == nil {
		return out
	}

	var missing []adsb.RoutePlane
	for _, t := range tracks {
		cs := t.Aircraft.CallsignOrEmpty()
		if cs == "" {
			continue
		}
		if dest, ok := s.destinations.Get(cs); ok {
			out[cs] = dest
			continue
		}
		missing = append(missing, adsb.RoutePlane{Callsign: cs, Lat: t.Position.Lat, Lon: t.Position.Lon})
	}
	if len(missing) == 0 {
		return out
	}

	found, err := s.routes.FetchDestinations(ctx, missing)
	if err != nil {
		s.logger.Warn("destination lookup failed", "callsigns", len(missing), "error", err)
	}
	for cs, dest := range found {
		dest = adsb.NormalizeIATA(dest)
		s.destinations.Add(cs, dest)
		out[cs] = dest
	}
	return out
}
