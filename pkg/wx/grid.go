// Package wx holds precipitation reflectivity grids: the canonical Grid
// type, the ingest normalizer that accepts the many payload shapes radar
// processors send, the query-path sampler that synthesizes a grid from the
// NOAA MRMS image service, and a copy-on-write store for the latest grid.
package wx

import (
	"fmt"
	"math"
	"strings"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

const (
	// DefaultCellSizeNm is the cell size of query-path grids and the
	// fallback for ingested grids that carry no geometry.
	DefaultCellSizeNm = 0.5

	MinLevel = 0
	MaxLevel = 6

	LayoutRowMajor = "row-major"

	// MaxIngestCells bounds width*height of a normalized grid. Larger
	// declared sizes are ignored in favor of a size derived from the data.
	MaxIngestCells = 2048 * 2048
)

// Region is an MRMS coverage region.
type Region string

const (
	RegionCONUS  Region = "CONUS"
	RegionAlaska Region = "ALASKA"
	RegionCarib  Region = "CARIB"
	RegionGuam   Region = "GUAM"
	RegionHawaii Region = "HAWAII"
)

// ParseRegion normalizes a region name. Anything unrecognized is CONUS.
func ParseRegion(s string) Region {
	switch r := Region(strings.ToUpper(strings.TrimSpace(s))); r {
	case RegionCONUS, RegionAlaska, RegionCarib, RegionGuam, RegionHawaii:
		return r
	}
	return RegionCONUS
}

// SitePoint is a radar site's terminal reference point.
type SitePoint struct {
	LatDeg float64 `json:"latDeg" msgpack:"latDeg"`
	LonDeg float64 `json:"lonDeg" msgpack:"lonDeg"`
}

// GridGeometry places a site-relative grid: the offset of cell (0,0) from
// the reference point, the cell pitch, and a rotation from true north.
type GridGeometry struct {
	XOffsetM    float64 `json:"xOffsetM" msgpack:"xOffsetM"`
	YOffsetM    float64 `json:"yOffsetM" msgpack:"yOffsetM"`
	DxM         float64 `json:"dxM" msgpack:"dxM"`
	DyM         float64 `json:"dyM" msgpack:"dyM"`
	RotationDeg float64 `json:"rotationDeg" msgpack:"rotationDeg"`
}

// Grid is a row-major reflectivity grid with levels in [0,6].
//
// The first block of fields is always present. The site-relative block is
// filled by Normalize for ingested grids; query-path grids leave Trp and
// GridGeom nil and are drawn north-up around Center.
type Grid struct {
	UpdatedAtMs int64              `json:"updatedAtMs" msgpack:"updatedAtMs"`
	Region      Region             `json:"region" msgpack:"region"`
	Center      coordinates.LatLon `json:"center" msgpack:"center"`
	RadiusNm    float64            `json:"radiusNm" msgpack:"radiusNm"`
	CellSizeNm  float64            `json:"cellSizeNm" msgpack:"cellSizeNm"`
	Width       int                `json:"width" msgpack:"width"`
	Height      int                `json:"height" msgpack:"height"`
	Levels      []int              `json:"levels" msgpack:"levels"`

	ReceivedAt     string        `json:"receivedAt,omitempty" msgpack:"receivedAt,omitempty"`
	ProductID      *int          `json:"productId,omitempty" msgpack:"productId,omitempty"`
	ProductName    string        `json:"productName,omitempty" msgpack:"productName,omitempty"`
	Site           string        `json:"site,omitempty" msgpack:"site,omitempty"`
	Airport        string        `json:"airport,omitempty" msgpack:"airport,omitempty"`
	Rows           int           `json:"rows,omitempty" msgpack:"rows,omitempty"`
	Cols           int           `json:"cols,omitempty" msgpack:"cols,omitempty"`
	Compression    string        `json:"compression,omitempty" msgpack:"compression,omitempty"`
	MaxPrecipLevel *int          `json:"maxPrecipLevel,omitempty" msgpack:"maxPrecipLevel,omitempty"`
	FilledCells    *int          `json:"filledCells,omitempty" msgpack:"filledCells,omitempty"`
	Layout         string        `json:"layout,omitempty" msgpack:"layout,omitempty"`
	Cells          []int         `json:"cells,omitempty" msgpack:"cells,omitempty"`
	Trp            *SitePoint    `json:"trp,omitempty" msgpack:"trp,omitempty"`
	GridGeom       *GridGeometry `json:"gridGeom,omitempty" msgpack:"gridGeom,omitempty"`
	CellsTruncated bool          `json:"cellsTruncated,omitempty" msgpack:"cellsTruncated,omitempty"`
}

// Validate checks the shape invariants every grid handed to a renderer
// must satisfy.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid grid size %dx%d", g.Width, g.Height)
	}
	if n, ok := cellCount(g.Width, g.Height, math.MaxInt); !ok || len(g.Levels) != n {
		return fmt.Errorf("levels length %d does not match %dx%d", len(g.Levels), g.Width, g.Height)
	}
	for i, l := range g.Levels {
		if l < MinLevel || l > MaxLevel {
			return fmt.Errorf("level %d at index %d out of range", l, i)
		}
	}
	if g.Cells == nil {
		return nil
	}
	if n, ok := cellCount(g.Rows, g.Cols, math.MaxInt); !ok || len(g.Cells) != n {
		return fmt.Errorf("cells length %d does not match %dx%d", len(g.Cells), g.Rows, g.Cols)
	}
	return nil
}

// Level returns the level at (row, col), or 0 outside the grid.
func (g *Grid) Level(row, col int) int {
	if row < 0 || col < 0 || row >= g.Height || col >= g.Width {
		return 0
	}
	i := row*g.Width + col
	if i < 0 || i >= len(g.Levels) {
		return 0
	}
	return g.Levels[i]
}

// PeakLevel returns the highest level present.
func (g *Grid) PeakLevel() int {
	peak := 0
	for _, l := range g.Levels {
		peak = max(peak, l)
	}
	return peak
}

// SiteRelative reports whether the grid carries usable site-relative
// geometry (reference point, positive cell pitch and dimensions).
func (g *Grid) SiteRelative() bool {
	return g.Trp != nil && g.GridGeom != nil && len(g.Cells) > 0 &&
		g.Rows > 0 && g.Cols > 0 && g.GridGeom.DxM > 0 && g.GridGeom.DyM > 0
}

// cellCount returns rows*cols when both are positive and the product does
// not exceed limit.
func cellCount(rows, cols, limit int) (int, bool) {
	if rows <= 0 || cols <= 0 || rows > limit/cols {
		return 0, false
	}
	return rows * cols, true
}

// ClampLevel rounds a reflectivity level and clamps it into [0,6].
// Non-finite values are 0.
func ClampLevel(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	r := math.Floor(v + 0.5)
	switch {
	case r < MinLevel:
		return MinLevel
	case r > MaxLevel:
		return MaxLevel
	}
	return int(r)
}
