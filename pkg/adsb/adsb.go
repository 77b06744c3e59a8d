package adsb

import (
	"context"
	"errors"
	"strings"
)

// Aircraft is a normalized ADS-B record as returned by a DataSource.
// Optional fields are nil when the upstream feed did not report them.
type Aircraft struct {
	// ID is the stable track key: the upstream flight id when present,
	// otherwise the upper-cased ICAO hex.
	ID string

	// Hex is the 24-bit ICAO address in upper case (e.g., "A12345")
	Hex string

	// Callsign is trimmed and upper-cased
	Callsign *string

	// AircraftType is the ICAO type designator (e.g., "B738")
	AircraftType *string

	// Lat/Lon in decimal degrees
	Lat float64
	Lon float64

	// AltitudeFt is geometric altitude when available, else barometric (feet MSL)
	AltitudeFt *float64

	// GroundspeedKts in knots
	GroundspeedKts *float64

	// TrackDeg is the ground track in degrees (0 = North)
	TrackDeg *float64

	// TrackRateDegPerSec is the rate of change of track (positive = right turn)
	TrackRateDegPerSec *float64

	// Squawk is the 4-digit transponder code as a string
	Squawk *string

	OnGround bool
}

// CallsignOrEmpty returns the callsign or "" when unknown.
func (a Aircraft) CallsignOrEmpty() string {
	if a.Callsign == nil {
		return ""
	}
	return *a.Callsign
}

// RoutePlane identifies an airborne flight for a destination lookup.
type RoutePlane struct {
	Callsign string
	Lat      float64
	Lon      float64
}

// DataSource is the interface ADS-B providers implement.
type DataSource interface {
	// FetchAircraftInRadius returns all aircraft within radiusNm of the center.
	FetchAircraftInRadius(ctx context.Context, lat, lon, radiusNm float64) ([]Aircraft, error)

	// Close cleanly shuts down the data source connection.
	Close() error
}

// RouteSource resolves destination airports by callsign. Callsigns the
// source looked up without a result map to ""; callsigns it did not get to
// are left out of the map and asked for again on a later poll.
type RouteSource interface {
	FetchDestinations(ctx context.Context, planes []RoutePlane) (map[string]string, error)
}

// RouteChain asks each source in turn for the callsigns the sources before
// it could not resolve.
type RouteChain []RouteSource

// FetchDestinations implements RouteSource. A callsign maps to "" only when
// every source looked it up; errors from all sources are joined.
func (c RouteChain) FetchDestinations(ctx context.Context, planes []RoutePlane) (map[string]string, error) {
	out := make(map[string]string, len(planes))
	skipped := make(map[string]bool)
	pending := planes
	var errs []error

	for _, src := range c {
		if len(pending) == 0 {
			break
		}
		found, err := src.FetchDestinations(ctx, pending)
		if err != nil {
			errs = append(errs, err)
		}

		var next []RoutePlane
		for _, p := range pending {
			dest, ok := found[p.Callsign]
			switch {
			case dest != "":
				out[p.Callsign] = dest
			case !ok:
				skipped[p.Callsign] = true
				next = append(next, p)
			default:
				next = append(next, p)
			}
		}
		pending = next
	}

	for _, p := range pending {
		if !skipped[p.Callsign] {
			out[p.Callsign] = ""
		}
	}
	return out, errors.Join(errs...)
}

// NormalizeCallsign trims and upper-cases a callsign. Empty input yields nil.
func NormalizeCallsign(s string) *string {
	cleaned := strings.ToUpper(strings.TrimSpace(s))
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// NormalizeIATA returns the upper-cased code when it is exactly three letters.
func NormalizeIATA(s string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(s))
	if len(cleaned) != 3 {
		return ""
	}
	for _, r := range cleaned {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return cleaned
}
