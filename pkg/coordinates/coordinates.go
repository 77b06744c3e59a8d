// Package coordinates provides the spherical-earth geodesy shared by the
// track store, the scope projector and the airspace rules.
package coordinates

import (
	"math"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusNm is the spherical Earth radius used for every great-circle
	// computation in nautical miles.
	EarthRadiusNm = 3440.065

	// NmToMeters converts nautical miles to meters
	NmToMeters = 1852.0

	// NmPerDegreeLatitude is the length of one degree of latitude
	NmPerDegreeLatitude = 60.0

	// FeetToMeters converts feet to meters
	FeetToMeters = 0.3048
)

// LatLon is a geographic position in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsFinite reports whether both components are finite numbers.
func (p LatLon) IsFinite() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0)
}

// NormalizeHeading maps any degree value into [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360.0)
	if h < 0 {
		h += 360.0
	}
	// math.Mod(-1e-17, 360) + 360 rounds to exactly 360
	if h >= 360.0 {
		h = 0
	}
	return h
}

// NormalizeLongitude maps any longitude into (-180, 180].
func NormalizeLongitude(lon float64) float64 {
	l := math.Mod(lon, 360.0)
	if l <= -180.0 {
		l += 360.0
	} else if l > 180.0 {
		l -= 360.0
	}
	return l
}

// HeadingToUnitVector converts a compass heading (0 = north, clockwise) into
// a unit vector in the local tangent plane with x east-positive and y
// north-positive.
func HeadingToUnitVector(headingDeg float64) (x, y float64) {
	rad := headingDeg * DegreesToRadians
	return math.Sin(rad), math.Cos(rad)
}

// Bearing calculates the initial bearing (forward azimuth) from one point to another.
// Returns bearing in degrees [0, 360), where 0 = North, 90 = East.
func Bearing(from, to LatLon) float64 {
	lat1 := from.Lat * DegreesToRadians
	lat2 := to.Lat * DegreesToRadians
	dLon := (to.Lon - from.Lon) * DegreesToRadians

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeHeading(math.Atan2(y, x) * RadiansToDegrees)
}

// DistanceNm calculates the great-circle distance between two points using
// the haversine formula. Returns distance in nautical miles.
func DistanceNm(from, to LatLon) float64 {
	if from == to {
		return 0
	}

	lat1Rad := from.Lat * DegreesToRadians
	lat2Rad := to.Lat * DegreesToRadians
	dLat := lat2Rad - lat1Rad
	dLon := (to.Lon - from.Lon) * DegreesToRadians

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push a a hair past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusNm * c
}

// DestinationFromTrack solves the spherical direct problem: starting at
// start and travelling distanceNm along the great circle with initial true
// course courseDeg, it returns the arrival point. The longitude is
// normalized to (-180, 180].
func DestinationFromTrack(start LatLon, courseDeg, distanceNm float64) LatLon {
	angular := distanceNm / EarthRadiusNm
	bearing := courseDeg * DegreesToRadians
	lat1 := start.Lat * DegreesToRadians
	lon1 := start.Lon * DegreesToRadians

	sinLat2 := math.Sin(lat1)*math.Cos(angular) +
		math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing)
	lat2 := math.Asin(math.Min(1, math.Max(-1, sinLat2)))

	y := math.Sin(bearing) * math.Sin(angular) * math.Cos(lat1)
	x := math.Cos(angular) - math.Sin(lat1)*math.Sin(lat2)
	lon2 := lon1 + math.Atan2(y, x)

	return LatLon{
		Lat: lat2 * RadiansToDegrees,
		Lon: NormalizeLongitude(lon2 * RadiansToDegrees),
	}
}

// LocalOffsetNm returns the equirectangular east/north offset of p from
// center in nautical miles. Longitude is scaled by the cosine of the center
// latitude, so every overlay projected around the same center lines up.
func LocalOffsetNm(center, p LatLon) (dxNm, dyNm float64) {
	nmPerLon := NmPerDegreeLatitude * math.Cos(center.Lat*DegreesToRadians)
	return (p.Lon - center.Lon) * nmPerLon, (p.Lat - center.Lat) * NmPerDegreeLatitude
}

// RotateToFrame expresses the local offset (dxNm, dyNm) in a frame whose
// "along" axis points along courseDeg. The cross component is positive to
// the right of the course.
func RotateToFrame(dxNm, dyNm, courseDeg float64) (along, cross float64) {
	ux, uy := HeadingToUnitVector(courseDeg)
	along = dxNm*ux + dyNm*uy
	cross = dxNm*uy - dyNm*ux
	return along, cross
}
