package adsb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig configures the adsb.lol client.
type ClientConfig struct {
	// BaseURL is the API base URL (default: https://api.adsb.lol)
	BaseURL string

	// SearchPathTemplate contains {lat}, {lon} and {radius} placeholders
	SearchPathTemplate string

	// RouteSetPath is the POST endpoint used for destination lookups
	RouteSetPath string

	// RouteSetBatchSize bounds the number of planes per routeset request
	RouteSetBatchSize int

	// RequestsPerSecond limits outgoing requests (0 = unlimited)
	RequestsPerSecond float64

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration
}

// DefaultClientConfig returns the public adsb.lol endpoints.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:            "https://api.adsb.lol",
		SearchPathTemplate: "/v2/lat/{lat}/lon/{lon}/dist/{radius}",
		RouteSetPath:       "/api/0/routeset/",
		RouteSetBatchSize:  50,
		RequestsPerSecond:  1,
		Timeout:            10 * time.Second,
	}
}

// Client implements DataSource and RouteSource for the adsb.lol API.
// API Documentation: https://api.adsb.lol/docs
type Client struct {
	cfg         ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a new adsb.lol API client.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.SearchPathTemplate == "" {
		cfg.SearchPathTemplate = def.SearchPathTemplate
	}
	if cfg.RouteSetPath == "" {
		cfg.RouteSetPath = def.RouteSetPath
	}
	if cfg.RouteSetBatchSize < 1 {
		cfg.RouteSetBatchSize = def.RouteSetBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(limit, 1),
	}
}

// FetchAircraftInRadius returns all aircraft reported within radiusNm of
// the given point. Records without a position or hex address are dropped.
func (c *Client) FetchAircraftInRadius(ctx context.Context, lat, lon, radiusNm float64) ([]Aircraft, error) {
	path := strings.NewReplacer(
		"{lat}", formatNumber(lat),
		"{lon}", formatNumber(lon),
		"{radius}", formatNumber(radiusNm),
	).Replace(c.cfg.SearchPathTemplate)

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aircraft data: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	records := resolveAircraftList(payload)
	aircraft := make([]Aircraft, 0, len(records))
	for _, raw := range records {
		if ac, ok := normalizeAircraft(raw); ok {
			aircraft = append(aircraft, ac)
		}
	}
	return aircraft, nil
}

// FetchDestinations looks up destination airports for the given flights in
// batches. Every unique callsign asked for appears in the result.
func (c *Client) FetchDestinations(ctx context.Context, planes []RoutePlane) (map[string]string, error) {
	seen := make(map[string]bool)
	var unique []RoutePlane
	for _, p := range planes {
		cs := NormalizeCallsign(p.Callsign)
		if cs == nil || seen[*cs] || !isFinite(p.Lat) || !isFinite(p.Lon) {
			continue
		}
		seen[*cs] = true
		unique = append(unique, RoutePlane{Callsign: *cs, Lat: p.Lat, Lon: p.Lon})
	}

	out := make(map[string]string, len(unique))
	for start := 0; start < len(unique); start += c.cfg.RouteSetBatchSize {
		end := min(start+c.cfg.RouteSetBatchSize, len(unique))
		chunk := unique[start:end]

		found, err := c.fetchDestinationBatch(ctx, chunk)
		if err != nil {
			return out, err
		}
		for _, p := range chunk {
			out[p.Callsign] = found[p.Callsign]
		}
	}
	return out, nil
}

func (c *Client) fetchDestinationBatch(ctx context.Context, planes []RoutePlane) (map[string]string, error) {
	withLng := make([]map[string]any, len(planes))
	withLon := make([]map[string]any, len(planes))
	for i, p := range planes {
		withLng[i] = map[string]any{"callsign": p.Callsign, "lat": p.Lat, "lng": p.Lon}
		withLon[i] = map[string]any{"callsign": p.Callsign, "lat": p.Lat, "lon": p.Lon}
	}

	// The routeset endpoint has accepted both spellings over time; schema
	// mismatches come back as 4xx and the next body shape is tried.
	bodies := []map[string]any{
		{"planes": withLng},
		{"planes": withLon},
	}

	var lastErr error
	for _, body := range bodies {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode routeset body: %w", err)
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.RouteSetPath), bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch routeset: %w", err)
		}

		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			lastErr = err
			var se *StatusError
			if errors.As(err, &se) && se.schemaMismatch() {
				continue
			}
			return nil, err
		}

		var payload []map[string]any
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			// Non-array payloads carry no routes
			return map[string]string{}, nil
		}

		out := make(map[string]string, len(payload))
		for _, record := range payload {
			if cs, dest, ok := destinationFromRouteRecord(record); ok {
				out[cs] = dest
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("routeset request failed after fallback attempts: %w", lastErr)
}

// Close cleanly shuts down the client.
// For adsb.lol, this is a no-op as there are no persistent connections.
func (c *Client) Close() error {
	return nil
}

func (c *Client) endpoint(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// checkStatus turns non-200 responses into typed errors.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    "Rate limit exceeded",
			Headers:    extractRateLimitHeaders(resp.Header),
		}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 240))
		detail := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusUnprocessableEntity {
			detail = "validation error (check lat/lon/radius)"
		}
		return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
	}
	return nil
}

// resolveAircraftList finds the aircraft array in the known payload shapes:
// a bare array, or an object with "ac", "aircraft" or "data".
func resolveAircraftList(payload any) []map[string]any {
	var list []any
	switch v := payload.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"ac", "aircraft", "data"} {
			if arr, ok := v[key].([]any); ok {
				list = arr
				break
			}
		}
	}

	out := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if obj, ok := entry.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func normalizeAircraft(raw map[string]any) (Aircraft, bool) {
	lat := toNumber(firstPresent(raw, "lat", "latitude"))
	lon := toNumber(firstPresent(raw, "lon", "lng", "longitude"))
	if lat == nil || lon == nil {
		return Aircraft{}, false
	}

	hex := toString(firstPresent(raw, "hex", "icao", "icao24"))
	if hex == "" {
		return Aircraft{}, false
	}
	hex = strings.ToUpper(hex)

	id := toString(firstPresent(raw, "flight_id", "flightId", "id"))
	if id == "" {
		id = hex
	}

	ac := Aircraft{
		ID:                 strings.ToUpper(id),
		Hex:                hex,
		Callsign:           NormalizeCallsign(toString(firstPresent(raw, "flight", "callsign"))),
		Lat:                *lat,
		Lon:                *lon,
		AltitudeFt:         toNumber(firstPresent(raw, "alt_geom", "altitude", "alt_baro")),
		GroundspeedKts:     toNumber(firstPresent(raw, "gs", "ground_speed", "groundSpeed")),
		TrackDeg:           toNumber(firstPresent(raw, "track", "trk", "heading")),
		TrackRateDegPerSec: toNumber(firstPresent(raw, "track_rate", "trackRate")),
		OnGround:           parseOnGround(firstPresent(raw, "gnd", "on_ground", "onGround", "alt_baro")),
	}
	if t := toString(firstPresent(raw, "t", "type", "aircraft_type")); t != "" {
		upper := strings.ToUpper(t)
		ac.AircraftType = &upper
	}
	if sq := toString(raw["squawk"]); sq != "" {
		ac.Squawk = &sq
	}
	return ac, true
}

// parseOnGround accepts true, 1, "1" and "ground" (alt_baro reports the
// literal string "ground" for surface targets).
func parseOnGround(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x == 1
	case string:
		return x == "1" || strings.EqualFold(x, "ground")
	}
	return false
}

func destinationFromRouteRecord(record map[string]any) (callsign, destination string, ok bool) {
	cs := NormalizeCallsign(toString(record["callsign"]))
	if cs == nil {
		return "", "", false
	}

	if codes := toString(firstPresent(record, "_airport_codes_iata", "airport_codes_iata")); codes != "" {
		var parts []string
		for _, part := range strings.Split(codes, "-") {
			if iata := NormalizeIATA(part); iata != "" {
				parts = append(parts, iata)
			}
		}
		if len(parts) >= 2 {
			return *cs, parts[len(parts)-1], true
		}
	}

	if airports, isList := record["_airports"].([]any); isList && len(airports) >= 2 {
		if last, isObj := airports[len(airports)-1].(map[string]any); isObj {
			if iata := NormalizeIATA(toString(last["iata"])); iata != "" {
				return *cs, iata, true
			}
		}
	}

	return *cs, "", true
}

// firstPresent returns the first non-null value among keys.
func firstPresent(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// toNumber accepts finite JSON numbers and numeric strings.
func toNumber(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if !isFinite(f) {
		return nil
	}
	return &f
}

func toString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Detail)
}

func (e *StatusError) schemaMismatch() bool {
	switch e.StatusCode {
	case 400, 404, 405, 415, 422:
		return true
	}
	return false
}

// IsPermanent reports whether retrying err cannot succeed: a 4xx response
// other than 429.
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500
	}
	return false
}

// RateLimitError represents an HTTP 429 rate limit error with retry information.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Headers    RateLimitHeaders
}

// RateLimitHeaders contains rate limit information from response headers.
type RateLimitHeaders struct {
	Limit     int       // X-Rate-Limit-Limit: Maximum requests allowed
	Remaining int       // X-Rate-Limit-Remaining: Requests remaining in current window
	Reset     time.Time // X-Rate-Limit-Reset: When the rate limit resets
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is (or wraps) a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter extracts the Retry-After header value.
// Supports both delay-seconds (integer) and HTTP-date formats.
//
// Examples:
//
//	Retry-After: 30                            -> 30 seconds
//	Retry-After: Wed, 21 Oct 2015 07:28:00 GMT -> duration until that time
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}
	return 0
}

// extractRateLimitHeaders reads the X-Rate-Limit-* (or X-RateLimit-*) headers.
// Missing counters are reported as -1.
func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	header := func(name string) string {
		if v := headers.Get("X-Rate-Limit-" + name); v != "" {
			return v
		}
		return headers.Get("X-RateLimit-" + name)
	}

	rlh := RateLimitHeaders{Limit: -1, Remaining: -1}
	if val, err := strconv.Atoi(header("Limit")); err == nil {
		rlh.Limit = val
	}
	if val, err := strconv.Atoi(header("Remaining")); err == nil {
		rlh.Remaining = val
	}
	if ts, err := strconv.ParseInt(header("Reset"), 10, 64); err == nil {
		rlh.Reset = time.Unix(ts, 0)
	}
	return rlh
}
