// Package qnh looks up altimeter settings for airports from the
// aviationweather.gov METAR API and caches them for a short TTL.
package qnh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// HPaToInHg converts hectopascals to inches of mercury.
const HPaToInHg = 0.0295299830714

const (
	DefaultBaseURL   = "https://aviationweather.gov"
	DefaultMetarPath = "/api/data/metar"
	DefaultCacheTTL  = 60 * time.Second
	DefaultCacheSize = 1024
)

var (
	icaoPattern   = regexp.MustCompile(`^[A-Z]{4}$`)
	altimeterInHg = regexp.MustCompile(`\bA(\d{4})\b`)
	altimeterHPa  = regexp.MustCompile(`\bQ(\d{4})\b`)
)

// Item is the altimeter setting for one station. QnhInHg and ObservedAt
// are null when the station has no usable report.
type Item struct {
	ICAO       string   `json:"icao"`
	QnhInHg    *float64 `json:"qnhInHg"`
	ObservedAt *string  `json:"observedAt"`
}

// Response answers a lookup in request order.
type Response struct {
	RequestedIcaos []string `json:"requestedIcaos"`
	Results        []Item   `json:"results"`
}

// Config configures the METAR source.
type Config struct {
	BaseURL   string
	MetarPath string
	CacheTTL  time.Duration
	CacheSize int
	Timeout   time.Duration
}

// Service serves QNH lookups, hitting the upstream API only for stations
// not in the cache. Safe for concurrent use.
type Service struct {
	cfg        Config
	httpClient *http.Client
	cache      *expirable.LRU[string, Item]
}

// NewService creates a QNH service. Zero config fields take the defaults.
func NewService(cfg Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MetarPath == "" {
		cfg.MetarPath = DefaultMetarPath
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      expirable.NewLRU[string, Item](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// NormalizeICAOs trims and upper-cases codes, splits comma separated
// values, drops anything that is not four letters and removes duplicates
// keeping the first occurrence.
func NormalizeICAOs(codes []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range codes {
		for _, part := range strings.Split(c, ",") {
			icao := strings.ToUpper(strings.TrimSpace(part))
			if !icaoPattern.MatchString(icao) || seen[icao] {
				continue
			}
			seen[icao] = true
			out = append(out, icao)
		}
	}
	return out
}

// GetQnh returns the altimeter setting for every valid code. Stations the
// upstream does not report are cached as empty results so repeated
// lookups do not refetch them until the TTL expires.
func (s *Service) GetQnh(ctx context.Context, icaos []string) (*Response, error) {
	requested := NormalizeICAOs(icaos)

	results := make(map[string]Item, len(requested))
	var missing []string
	for _, icao := range requested {
		if item, ok := s.cache.Get(icao); ok {
			results[icao] = item
		} else {
			missing = append(missing, icao)
		}
	}

	if len(missing) > 0 {
		fetched, err := s.fetchBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, item := range fetched {
			s.cache.Add(item.ICAO, item)
			results[item.ICAO] = item
		}
		for _, icao := range missing {
			if _, ok := results[icao]; !ok {
				empty := Item{ICAO: icao}
				s.cache.Add(icao, empty)
				results[icao] = empty
			}
		}
	}

	resp := &Response{RequestedIcaos: requested, Results: make([]Item, 0, len(requested))}
	if resp.RequestedIcaos == nil {
		resp.RequestedIcaos = []string{}
	}
	for _, icao := range requested {
		resp.Results = append(resp.Results, results[icao])
	}
	return resp, nil
}

func (s *Service) fetchBatch(ctx context.Context, icaos []string) ([]Item, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.MetarPath)
	if err != nil {
		return nil, fmt.Errorf("invalid METAR URL: %w", err)
	}
	q := u.Query()
	q.Set("ids", strings.Join(icaos, ","))
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build METAR request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch METARs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aviationweather request failed with %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read METAR response: %w", err)
	}
	// The API answers an empty body when no station matched.
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse METAR response: %w", err)
	}

	var items []Item
	for _, rec := range metarRecords(payload) {
		item, ok := parseRecord(rec)
		if !ok {
			continue
		}
		if item.QnhInHg != nil {
			rounded := math.Round(*item.QnhInHg*100) / 100
			item.QnhInHg = &rounded
		}
		items = append(items, item)
	}
	return items, nil
}

// metarRecords accepts a bare array or an object holding "data" or "metar".
func metarRecords(payload any) []map[string]any {
	var list []any
	switch v := payload.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"data", "metar"} {
			if l, ok := v[key].([]any); ok {
				list = l
				break
			}
		}
	}

	records := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records
}

func parseRecord(rec map[string]any) (Item, bool) {
	station := firstString(rec, "icaoId", "stationId", "station", "id")
	if station == "" {
		return Item{}, false
	}

	item := Item{ICAO: strings.ToUpper(station)}
	if v, ok := parsePressure(rec); ok {
		item.QnhInHg = &v
	}
	if obs := observedAt(rec); obs != "" {
		item.ObservedAt = &obs
	}
	return item, true
}

// parsePressure tries the structured altimeter fields first, then the raw
// report text.
func parsePressure(rec map[string]any) (float64, bool) {
	for _, key := range []string{"altim", "altimeter", "altim_in_hg", "altimInHg", "qnh_in_hg", "qnhInHg"} {
		v, ok := toNumber(rec[key])
		if !ok {
			continue
		}
		if inHg, ok := NormalizePressure(v); ok {
			return inHg, true
		}
	}
	return ParseRawAltimeter(firstString(rec, "rawOb", "raw_text", "rawText", "raw"))
}

// NormalizePressure interprets a pressure value by magnitude: hPa,
// inHg, or inHg scaled by 100.
func NormalizePressure(v float64) (float64, bool) {
	switch {
	case v >= 850 && v <= 1200:
		return v * HPaToInHg, true
	case v >= 20 && v <= 40:
		return v, true
	case v >= 2500 && v <= 3500:
		return v / 100, true
	}
	return 0, false
}

// ParseRawAltimeter extracts A#### (hundredths of inHg) or Q#### (hPa)
// from a raw METAR.
func ParseRawAltimeter(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	if m := altimeterInHg.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		return float64(n) / 100, true
	}
	if m := altimeterHPa.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		return float64(n) * HPaToInHg, true
	}
	return 0, false
}

// observedAt prefers a textual time; a numeric obsTime is unix seconds.
func observedAt(rec map[string]any) string {
	if s := firstString(rec, "obsTime", "observed", "observedAt", "reportTime"); s != "" {
		return s
	}
	if v, ok := rec["obsTime"].(float64); ok && v > 0 {
		return time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
	}
	return ""
}

func firstString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
