package airspace

import (
	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

const (
	DefaultCorridorLengthNm    = 10.0
	DefaultCorridorHalfWidthNm = 1.0
)

// Corridor is a rectangular approach exemption extending outbound from a
// runway threshold along the reciprocal of the runway heading.
type Corridor struct {
	RunwayID          string
	Threshold         coordinates.LatLon
	OutboundCourseDeg float64
	LengthNm          float64
	HalfWidthNm       float64
}

// NewCorridor builds the corridor for a runway. Non-positive dimensions
// take the defaults.
func NewCorridor(runwayID string, threshold coordinates.LatLon, runwayHeadingDeg, lengthNm, halfWidthNm float64) Corridor {
	if lengthNm <= 0 {
		lengthNm = DefaultCorridorLengthNm
	}
	if halfWidthNm <= 0 {
		halfWidthNm = DefaultCorridorHalfWidthNm
	}
	return Corridor{
		RunwayID:          runwayID,
		Threshold:         threshold,
		OutboundCourseDeg: coordinates.NormalizeHeading(runwayHeadingDeg + 180),
		LengthNm:          lengthNm,
		HalfWidthNm:       halfWidthNm,
	}
}

// Contains reports whether p falls inside the corridor rectangle.
func (c Corridor) Contains(p coordinates.LatLon) bool {
	dx, dy := coordinates.LocalOffsetNm(c.Threshold, p)
	along, cross := coordinates.RotateToFrame(dx, dy, c.OutboundCourseDeg)
	if cross < 0 {
		cross = -cross
	}
	return along >= 0 && along <= c.LengthNm && cross <= c.HalfWidthNm
}
