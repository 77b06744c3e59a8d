// Package flightaware looks up destination airports in the FlightAware
// AeroAPI v4 for callsigns the adsb.lol routeset does not know.
//
// AeroAPI is billed per request, so lookups draw from an hourly budget and
// never block a poll: callsigns over budget are left for a later poll.
package flightaware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/tracon-scope/pkg/adsb"
)

const (
	// BaseURL is the FlightAware AeroAPI v4 base URL
	BaseURL = "https://aeroapi.flightaware.com/aeroapi"

	// DefaultTimeout for API requests
	DefaultTimeout = 10 * time.Second
)

// Config contains configuration for the FlightAware client.
type Config struct {
	APIKey          string
	BaseURL         string
	RequestsPerHour int
	Timeout         time.Duration
}

// Client is an AeroAPI client. It implements adsb.RouteSource.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ adsb.RouteSource = (*Client)(nil)

// NewClient creates a client. The budget refills at RequestsPerHour and
// allows a burst of one poll's worth of lookups.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerHour <= 0 {
		cfg.RequestsPerHour = 60
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}

	burst := max(1, cfg.RequestsPerHour/60)
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerHour)/3600.0), burst),
	}
}

// Airport is an AeroAPI origin or destination.
type Airport struct {
	ICAO string `json:"code_icao"`
	IATA string `json:"code_iata"`
	Name string `json:"name"`
}

// Flight is the subset of an AeroAPI flight the scope uses.
type Flight struct {
	Ident        string     `json:"ident"`
	FAFlightID   string     `json:"fa_flight_id"`
	AircraftType string     `json:"aircraft_type"`
	Origin       *Airport   `json:"origin"`
	Destination  *Airport   `json:"destination"`
	ActualOff    *time.Time `json:"actual_off"`
	ActualOn     *time.Time `json:"actual_on"`
	Cancelled    bool       `json:"cancelled"`
	Status       string     `json:"status"`
}

// Airborne reports whether the flight has taken off and not yet landed.
func (f Flight) Airborne() bool {
	return !f.Cancelled && f.ActualOff != nil && f.ActualOn == nil
}

// DestinationIATA returns the destination IATA code or "".
func (f Flight) DestinationIATA() string {
	if f.Destination == nil {
		return ""
	}
	return f.Destination.IATA
}

// AirborneFlight returns the airborne flight for ident, or nil when AeroAPI
// has none. It waits for the rate limiter.
func (c *Client) AirborneFlight(ctx context.Context, ident string) (*Flight, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return c.airborneFlight(ctx, ident)
}

func (c *Client) airborneFlight(ctx context.Context, ident string) (*Flight, error) {
	endpoint := fmt.Sprintf("%s/flights/%s", c.baseURL, url.PathEscape(ident))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flight %s: %w", ident, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &adsb.StatusError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	var payload struct {
		Flights []Flight `json:"flights"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode flights: %w", err)
	}

	// Flights are listed newest first.
	for i := range payload.Flights {
		if payload.Flights[i].Airborne() {
			return &payload.Flights[i], nil
		}
	}
	return nil, nil
}

// FetchDestinations implements adsb.RouteSource. Each callsign costs one
// request; once the budget is spent the remaining callsigns are left out
// of the map. A failed lookup is also left out and ends the batch.
func (c *Client) FetchDestinations(ctx context.Context, planes []adsb.RoutePlane) (map[string]string, error) {
	out := make(map[string]string, len(planes))
	for _, p := range planes {
		cs := adsb.NormalizeCallsign(p.Callsign)
		if cs == nil {
			continue
		}
		if _, done := out[*cs]; done {
			continue
		}
		if !c.limiter.Allow() {
			break
		}

		flight, err := c.airborneFlight(ctx, *cs)
		if err != nil {
			return out, err
		}
		if flight == nil {
			out[*cs] = ""
			continue
		}
		out[*cs] = flight.DestinationIATA()
	}
	return out, nil
}
