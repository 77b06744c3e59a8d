package airspace

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

const (
	// DefaultAirportRadiusNm is the exemption radius around the primary
	// airport.
	DefaultAirportRadiusNm = 5.0

	// MaxAlerts caps the merged alert list and the conflict scan.
	MaxAlerts = 5

	ConflictLateralNm  = 3.0
	ConflictVerticalFt = 1000.0

	// VFRSquawk is the default US VFR transponder code.
	VFRSquawk = "1200"
)

// Target is the subset of an aircraft the alert rules need.
type Target struct {
	Callsign   string
	Squawk     string
	AltitudeFt *float64
	Position   coordinates.LatLon
}

func (t Target) isVFRSquawk() bool {
	return strings.TrimSpace(t.Squawk) == VFRSquawk
}

// Engine evaluates low-altitude and conflict alerts. Its fields are set at
// startup and not modified afterwards; Rules is updated concurrently
// through its own synchronization.
type Engine struct {
	Sectors         []Sector
	Airport         *coordinates.LatLon
	AirportRadiusNm float64
	Corridors       []Corridor
	Rules           *FlightRules
}

// FindMVA returns the most restrictive minimum altitude among the sectors
// containing p.
func (e *Engine) FindMVA(p coordinates.LatLon) (float64, bool) {
	best, found := 0.0, false
	for i := range e.Sectors {
		s := &e.Sectors[i]
		if !s.Contains(p) {
			continue
		}
		if !found || s.MinimumLimitFt > best {
			best, found = s.MinimumLimitFt, true
		}
	}
	return best, found
}

// ShouldCheckLowAltitude reports whether a target is subject to MVA
// checks. Squawk 1200 is exempt unless the flight rules side channel says
// the callsign is IFR.
func (e *Engine) ShouldCheckLowAltitude(t Target) bool {
	if !t.isVFRSquawk() {
		return true
	}
	return e.Rules.IsIFR(t.Callsign)
}

// IsLowAltitudeExempt reports whether p is near the primary airport or
// inside an approach corridor.
func (e *Engine) IsLowAltitudeExempt(p coordinates.LatLon) bool {
	if e.Airport != nil {
		radius := e.AirportRadiusNm
		if radius <= 0 {
			radius = DefaultAirportRadiusNm
		}
		if coordinates.DistanceNm(*e.Airport, p) <= radius {
			return true
		}
	}
	for _, c := range e.Corridors {
		if c.Contains(p) {
			return true
		}
	}
	return false
}

// LowAltitudeAlerts returns "{CALLSIGN} {ALT/100} LA" for every distinct
// callsign below the MVA of its position. The first target seen for a
// callsign is the only one evaluated.
func (e *Engine) LowAltitudeAlerts(targets []Target) []string {
	if len(e.Sectors) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var alerts []string
	for _, t := range targets {
		callsign := normalizeCallsign(t.Callsign)
		if callsign == "" || seen[callsign] {
			continue
		}
		seen[callsign] = true

		if t.AltitudeFt == nil || !isFinite(*t.AltitudeFt) {
			continue
		}
		if !e.ShouldCheckLowAltitude(t) || e.IsLowAltitudeExempt(t.Position) {
			continue
		}
		mva, ok := e.FindMVA(t.Position)
		if !ok || *t.AltitudeFt >= mva {
			continue
		}
		alerts = append(alerts, fmt.Sprintf("%s %03d LA", callsign, int(math.Round(*t.AltitudeFt/100))))
	}
	return alerts
}

// ConflictAlerts scans every pair of targets with a callsign and altitude
// and returns "{A}*{B} CA" for pairs within 1000 ft and 3 nm, unless both
// squawk 1200. The callsigns in a label are sorted. The scan stops after
// MaxAlerts pairs.
func (e *Engine) ConflictAlerts(targets []Target) []string {
	type candidate struct {
		callsign string
		alt      float64
		target   Target
	}

	var cands []candidate
	for _, t := range targets {
		callsign := normalizeCallsign(t.Callsign)
		if callsign == "" || t.AltitudeFt == nil || !isFinite(*t.AltitudeFt) || !t.Position.IsFinite() {
			continue
		}
		cands = append(cands, candidate{callsign: callsign, alt: *t.AltitudeFt, target: t})
	}

	var alerts []string
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			a, b := cands[i], cands[j]
			if a.target.isVFRSquawk() && b.target.isVFRSquawk() {
				continue
			}
			if math.Abs(a.alt-b.alt) > ConflictVerticalFt {
				continue
			}
			if coordinates.DistanceNm(a.target.Position, b.target.Position) >= ConflictLateralNm {
				continue
			}

			pair := []string{a.callsign, b.callsign}
			sort.Strings(pair)
			alerts = append(alerts, pair[0]+"*"+pair[1]+" CA")
			if len(alerts) >= MaxAlerts {
				return alerts
			}
		}
	}
	return alerts
}

// Alerts merges low-altitude alerts ahead of conflict alerts, drops
// duplicate labels and keeps the first MaxAlerts.
func (e *Engine) Alerts(targets []Target) []string {
	return MergeAlerts(e.LowAltitudeAlerts(targets), e.ConflictAlerts(targets))
}

// MergeAlerts concatenates alert lists in order, removing duplicates and
// truncating to MaxAlerts.
func MergeAlerts(lists ...[]string) []string {
	seen := make(map[string]bool)
	merged := make([]string, 0, MaxAlerts)
	for _, list := range lists {
		for _, label := range list {
			if seen[label] {
				continue
			}
			seen[label] = true
			merged = append(merged, label)
			if len(merged) == MaxAlerts {
				return merged
			}
		}
	}
	return merged
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
