// Package scope maps geographic positions onto a radar-scope viewport and
// back. Every overlay (targets, maps, range rings, weather) goes through the
// same Projector so they stay registered with each other.
package scope

import (
	"math"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

// minLonScale is the smallest cos(latitude) accepted by the inverse
// transform; anything smaller means the view is centered on a pole.
const minLonScale = 1e-9

// Viewport is the pixel rectangle the scope is drawn into.
type Viewport struct {
	X, Y          float64
	Width, Height float64
}

// Center returns the viewport's geometric center.
func (v Viewport) Center() (float64, float64) {
	return v.X + v.Width/2, v.Y + v.Height/2
}

// View describes what part of the world is shown: a center, a radius and
// a pixel pan offset applied after projection.
type View struct {
	Center   coordinates.LatLon
	RadiusNm float64
	PanX     float64
	PanY     float64
}

// Projector converts between geographic and screen coordinates for one
// (view, viewport) pair. North is up.
type Projector struct {
	view        View
	viewport    Viewport
	pixelsPerNm float64
	nmPerLon    float64
}

// NewProjector builds a projector. Invalid inputs (non-positive radius or
// viewport) are not rejected: Project returns non-finite values and
// Unproject reports failure.
func NewProjector(view View, viewport Viewport) *Projector {
	return &Projector{
		view:        view,
		viewport:    viewport,
		pixelsPerNm: math.Min(viewport.Width, viewport.Height) / (2 * view.RadiusNm),
		nmPerLon:    coordinates.NmPerDegreeLatitude * math.Cos(view.Center.Lat*coordinates.DegreesToRadians),
	}
}

// PixelsPerNm returns the scale factor.
func (p *Projector) PixelsPerNm() float64 { return p.pixelsPerNm }

// View returns the view the projector was built for.
func (p *Projector) View() View { return p.view }

// Viewport returns the viewport the projector was built for.
func (p *Projector) Viewport() Viewport { return p.viewport }

// Valid reports whether both directions of the transform are usable.
func (p *Projector) Valid() bool {
	return isFinite(p.pixelsPerNm) && p.pixelsPerNm > 0 &&
		isFinite(p.nmPerLon) && math.Abs(p.nmPerLon) >= minLonScale*coordinates.NmPerDegreeLatitude
}

// Origin returns the screen position of the view center, pan included.
func (p *Projector) Origin() (float64, float64) {
	cx, cy := p.viewport.Center()
	return cx + p.view.PanX, cy + p.view.PanY
}

// Project converts a geographic position to screen pixels.
func (p *Projector) Project(pos coordinates.LatLon) (x, y float64) {
	dxNm := (pos.Lon - p.view.Center.Lon) * p.nmPerLon
	dyNm := (pos.Lat - p.view.Center.Lat) * coordinates.NmPerDegreeLatitude
	return p.ProjectOffset(dxNm, dyNm)
}

// ProjectOffset converts an east/north offset from the view center in
// nautical miles to screen pixels.
func (p *Projector) ProjectOffset(dxNm, dyNm float64) (x, y float64) {
	ox, oy := p.Origin()
	return ox + dxNm*p.pixelsPerNm, oy - dyNm*p.pixelsPerNm
}

// Unproject converts screen pixels back to a geographic position. It
// returns false when the scale is unusable or the view is centered on a
// pole.
func (p *Projector) Unproject(x, y float64) (coordinates.LatLon, bool) {
	if !p.Valid() {
		return coordinates.LatLon{}, false
	}

	ox, oy := p.Origin()
	dxNm := (x - ox) / p.pixelsPerNm
	dyNm := (oy - y) / p.pixelsPerNm

	return coordinates.LatLon{
		Lat: p.view.Center.Lat + dyNm/coordinates.NmPerDegreeLatitude,
		Lon: p.view.Center.Lon + dxNm/p.nmPerLon,
	}, true
}

// Contains reports whether a screen point lies inside the viewport.
func (p *Projector) Contains(x, y float64) bool {
	return x >= p.viewport.X && x < p.viewport.X+p.viewport.Width &&
		y >= p.viewport.Y && y < p.viewport.Y+p.viewport.Height
}

// RangeRings returns the pixel radii of rings spaced spacingNm apart out to
// the view radius.
func (p *Projector) RangeRings(spacingNm float64) []float64 {
	if spacingNm <= 0 || !p.Valid() {
		return nil
	}
	var radii []float64
	for r := spacingNm; r <= p.view.RadiusNm+1e-9; r += spacingNm {
		radii = append(radii, r*p.pixelsPerNm)
	}
	return radii
}

// Leader returns the screen end point of a line of lengthPx pixels drawn
// from (x, y) along a compass heading. Screen y grows downward.
func Leader(x, y, headingDeg, lengthPx float64) (float64, float64) {
	ux, uy := coordinates.HeadingToUnitVector(headingDeg)
	return x + ux*lengthPx, y - uy*lengthPx
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
