package scope

import (
	"math"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

// Point is a screen position in pixels.
type Point struct {
	X, Y float64
}

// Stipple is the fill pattern layered over a weather cell's base color.
type Stipple int

const (
	StippleNone Stipple = iota
	StippleLight
	StippleDense
)

// WxStipple returns the pattern for a precipitation level: 2 and 5 are
// light, 3 and 6 dense.
func WxStipple(level int) Stipple {
	switch level {
	case 2, 5:
		return StippleLight
	case 3, 6:
		return StippleDense
	}
	return StippleNone
}

// WxHeavy reports whether a level uses the heavy (4-6) base color.
func WxHeavy(level int) bool {
	return level > 3
}

// WxCell is one weather cell placed on screen. Corners run clockwise from
// the cell's north-west corner; for north-up grids they form a rectangle.
type WxCell struct {
	Row, Col int
	Level    int
	Corners  [4]Point
}

// Bounds returns the cell's axis-aligned pixel bounding box.
func (c WxCell) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range c.Corners {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}

// LevelFilter selects which precipitation levels are drawn. A nil filter
// accepts every level from 1 to 6.
type LevelFilter func(level int) bool

// WxCells places every visible non-zero cell of a grid. Grids carrying
// site-relative geometry are laid out from their reference point and
// rotation; all others are drawn north-up around their center. Cells
// entirely outside the viewport are skipped.
func (p *Projector) WxCells(g *wx.Grid, filter LevelFilter) []WxCell {
	if g == nil || !p.Valid() {
		return nil
	}
	if g.SiteRelative() {
		return p.siteRelativeCells(g, filter)
	}
	return p.northUpCells(g, filter)
}

func (p *Projector) northUpCells(g *wx.Grid, filter LevelFilter) []WxCell {
	if g.Width <= 0 || g.Height <= 0 || g.CellSizeNm <= 0 {
		return nil
	}

	centerDx, centerDy := coordinates.LocalOffsetNm(p.view.Center, g.Center)
	half := g.CellSizeNm / 2
	startX := centerDx - g.RadiusNm + half
	startY := centerDy + g.RadiusNm - half

	ppn := p.pixelsPerNm
	colVec := Point{g.CellSizeNm * ppn, 0}
	rowVec := Point{0, g.CellSizeNm * ppn}

	var cells []WxCell
	for row := range g.Height {
		for col := range g.Width {
			level := g.Level(row, col)
			if !accept(level, filter) {
				continue
			}
			cx, cy := p.ProjectOffset(startX+float64(col)*g.CellSizeNm, startY-float64(row)*g.CellSizeNm)
			nw := Point{cx - colVec.X/2, cy - rowVec.Y/2}
			if cell, ok := p.quad(row, col, level, nw, colVec, rowVec); ok {
				cells = append(cells, cell)
			}
		}
	}
	return cells
}

func (p *Projector) siteRelativeCells(g *wx.Grid, filter LevelFilter) []WxCell {
	geom := g.GridGeom
	rot := geom.RotationDeg * coordinates.DegreesToRadians
	sin, cos := math.Sincos(rot)

	trpDx, trpDy := coordinates.LocalOffsetNm(p.view.Center, coordinates.LatLon{Lat: g.Trp.LatDeg, Lon: g.Trp.LonDeg})
	east0 := geom.XOffsetM*cos - geom.YOffsetM*sin
	north0 := geom.XOffsetM*sin + geom.YOffsetM*cos
	ox, oy := p.ProjectOffset(trpDx+east0/coordinates.NmToMeters, trpDy+north0/coordinates.NmToMeters)

	scale := p.pixelsPerNm / coordinates.NmToMeters
	colVec := Point{geom.DxM * cos * scale, -geom.DxM * sin * scale}
	// Rows advance down the screen
	rowVec := Point{geom.DyM * sin * scale, geom.DyM * cos * scale}

	var cells []WxCell
	for row := range g.Rows {
		for col := range g.Cols {
			idx := row*g.Cols + col
			if idx >= len(g.Cells) {
				break
			}
			level := g.Cells[idx]
			if !accept(level, filter) {
				continue
			}
			nw := Point{
				ox + float64(row)*rowVec.X + float64(col)*colVec.X,
				oy + float64(row)*rowVec.Y + float64(col)*colVec.Y,
			}
			if cell, ok := p.quad(row, col, level, nw, colVec, rowVec); ok {
				cells = append(cells, cell)
			}
		}
	}
	return cells
}

func (p *Projector) quad(row, col, level int, nw, colVec, rowVec Point) (WxCell, bool) {
	ne := Point{nw.X + colVec.X, nw.Y + colVec.Y}
	se := Point{ne.X + rowVec.X, ne.Y + rowVec.Y}
	sw := Point{nw.X + rowVec.X, nw.Y + rowVec.Y}
	cell := WxCell{Row: row, Col: col, Level: level, Corners: [4]Point{nw, ne, se, sw}}

	minX, minY, maxX, maxY := cell.Bounds()
	vp := p.viewport
	if maxX < vp.X || minX > vp.X+vp.Width || maxY < vp.Y || minY > vp.Y+vp.Height {
		return WxCell{}, false
	}
	return cell, true
}

func accept(level int, filter LevelFilter) bool {
	if level < 1 || level > wx.MaxLevel {
		return false
	}
	return filter == nil || filter(level)
}
