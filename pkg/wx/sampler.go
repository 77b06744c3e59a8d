package wx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

var (
	// ErrOutsideRegion is returned when a center lies outside every
	// MRMS coverage region.
	ErrOutsideRegion = errors.New("center point is outside supported MRMS regions")

	// ErrGridTooLarge is returned when the requested radius needs more
	// cells than the sampler is configured to fetch.
	ErrGridTooLarge = errors.New("requested grid too large, reduce radius")
)

// SamplerConfig configures the MRMS reflectivity sampler.
type SamplerConfig struct {
	// SamplesURL is the ImageServer getSamples endpoint
	SamplesURL string

	// MaxCells caps width*height (0 = unlimited)
	MaxCells int

	// ChunkSize is the number of points per request
	ChunkSize int

	// Concurrency bounds in-flight chunk requests
	Concurrency int

	// RequestsPerSecond limits outgoing requests (0 = unlimited)
	RequestsPerSecond float64

	Timeout time.Duration
}

// DefaultSamplerConfig returns the NOAA base reflectivity image service.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		SamplesURL:        "https://mapservices.weather.noaa.gov/eventdriven/rest/services/radar/radar_base_reflectivity_time/ImageServer/getSamples",
		MaxCells:          40000,
		ChunkSize:         1000,
		Concurrency:       4,
		RequestsPerSecond: 10,
		Timeout:           15 * time.Second,
	}
}

type regionBounds struct {
	region                         Region
	minLat, maxLat, minLon, maxLon float64
}

// Checked in order; the smaller regions overlap CONUS and must win.
var regions = []regionBounds{
	{RegionHawaii, 17, 25, -165, -150},
	{RegionGuam, 5, 25, 130, 155},
	{RegionCarib, 8, 28, -90, -55},
	{RegionAlaska, 50, 72, -180, -129},
	{RegionCONUS, 20, 55, -130, -60},
}

// SelectRegion returns the MRMS region covering a point.
func SelectRegion(lat, lon float64) (Region, bool) {
	lon = coordinates.NormalizeLongitude(lon)
	for _, r := range regions {
		if lat >= r.minLat && lat <= r.maxLat && lon >= r.minLon && lon <= r.maxLon {
			return r.region, true
		}
	}
	return "", false
}

// ThresholdLevel maps a reflectivity in dBZ to a precipitation level.
func ThresholdLevel(dbz float64) int {
	switch {
	case dbz > 55:
		return 6
	case dbz > 50:
		return 5
	case dbz > 45:
		return 4
	case dbz > 40:
		return 3
	case dbz > 30:
		return 2
	case dbz > 20:
		return 1
	}
	return 0
}

const (
	mercatorHalfExtent = 20037508.34
	mercatorMaxLat     = 85.05112878
)

// ToWebMercator converts a position to EPSG:3857 meters.
func ToWebMercator(lat, lon float64) (x, y float64) {
	lat = math.Max(-mercatorMaxLat, math.Min(mercatorMaxLat, lat))
	x = lon * mercatorHalfExtent / 180
	y = math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180) * (mercatorHalfExtent / 180)
	return x, y
}

// GridSize returns the side length of a query-path grid.
func GridSize(radiusNm float64) int {
	return int(math.Floor(2*radiusNm/DefaultCellSizeNm)) + 1
}

// Sampler synthesizes reflectivity grids by sampling the MRMS image
// service on a regular 0.5 nm lattice.
type Sampler struct {
	cfg         SamplerConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewSampler creates a sampler. Zero config fields take their defaults,
// except MaxCells where 0 disables the cap.
func NewSampler(cfg SamplerConfig) *Sampler {
	def := DefaultSamplerConfig()
	if cfg.SamplesURL == "" {
		cfg.SamplesURL = def.SamplesURL
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Sampler{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(limit, cfg.Concurrency),
	}
}

type mercatorPoint struct {
	index int
	x, y  float64
}

// FetchGrid samples a square north-up grid of radiusNm around the center.
// Row 0 is the northern edge and column 0 the western edge.
func (s *Sampler) FetchGrid(ctx context.Context, lat, lon, radiusNm float64) (*Grid, error) {
	region, ok := SelectRegion(lat, lon)
	if !ok {
		return nil, ErrOutsideRegion
	}

	size := GridSize(radiusNm)
	count := size * size
	if s.cfg.MaxCells > 0 && count > s.cfg.MaxCells {
		return nil, fmt.Errorf("%w (%d cells)", ErrGridTooLarge, count)
	}

	lonFactor := math.Cos(lat * coordinates.DegreesToRadians)
	if math.Abs(lonFactor) < 1e-9 {
		lonFactor = 1e-9
	}

	points := make([]mercatorPoint, 0, count)
	for row := range size {
		yNm := radiusNm - float64(row)*DefaultCellSizeNm
		pLat := lat + yNm/coordinates.NmPerDegreeLatitude
		for col := range size {
			xNm := -radiusNm + float64(col)*DefaultCellSizeNm
			pLon := coordinates.NormalizeLongitude(lon + xNm/(coordinates.NmPerDegreeLatitude*lonFactor))
			x, y := ToWebMercator(pLat, pLon)
			points = append(points, mercatorPoint{index: row*size + col, x: x, y: y})
		}
	}

	levels := make([]int, count)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(points); start += s.cfg.ChunkSize {
		chunk := points[start:min(start+s.cfg.ChunkSize, len(points))]
		eg.Go(func() error {
			chunkLevels, err := s.fetchChunk(ctx, chunk)
			if err != nil {
				return err
			}
			// Chunks cover disjoint index ranges
			for i, p := range chunk {
				levels[p.index] = chunkLevels[i]
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Grid{
		UpdatedAtMs: time.Now().UnixMilli(),
		Region:      region,
		Center:      coordinates.LatLon{Lat: lat, Lon: coordinates.NormalizeLongitude(lon)},
		RadiusNm:    radiusNm,
		CellSizeNm:  DefaultCellSizeNm,
		Width:       size,
		Height:      size,
		Levels:      levels,
	}, nil
}

func (s *Sampler) fetchChunk(ctx context.Context, points []mercatorPoint) ([]int, error) {
	coords := make([][2]float64, len(points))
	for i, p := range points {
		coords[i] = [2]float64{p.x, p.y}
	}
	geometry, err := json.Marshal(map[string]any{
		"points":           coords,
		"spatialReference": map[string]int{"wkid": 3857},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sample geometry: %w", err)
	}

	form := url.Values{}
	form.Set("f", "pjson")
	form.Set("geometry", string(geometry))
	form.Set("geometryType", "esriGeometryMultipoint")
	form.Set("returnFirstValueOnly", "false")

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SamplesURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build samples request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wx samples: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("wx samples request failed with %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse wx samples: %w", err)
	}

	samples, ok := payload["samples"].([]any)
	if !ok {
		samples, _ = payload["results"].([]any)
	}

	out := make([]int, len(points))
	for i := range out {
		if i >= len(samples) {
			break
		}
		if dbz, ok := sampleValue(samples[i]); ok {
			out[i] = ThresholdLevel(dbz)
		}
	}
	return out, nil
}

// sampleValue returns the larger of a sample's value and any entry in its
// values list.
func sampleValue(sample any) (float64, bool) {
	obj, ok := sample.(map[string]any)
	if !ok {
		return 0, false
	}
	best, found := numberOf(obj["value"])
	values, _ := obj["values"].([]any)
	for _, v := range values {
		if f, ok := numberOf(v); ok && (!found || f > best) {
			best, found = f, true
		}
	}
	return best, found
}
