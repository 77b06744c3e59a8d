package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/tracon-scope/pkg/feed"
	"github.com/unklstewy/tracon-scope/pkg/scope"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

// Terminal cells are roughly twice as tall as they are wide. The projector
// works in half-cell horizontal units so rings come out round.
const aspectRatio = 0.5

// Glyphs. The renderer picks a style per glyph class, so every class
// needs a distinct rune.
const (
	glyphEmpty    = ' '
	glyphRing     = '·'
	glyphCenter   = '+'
	glyphTarget   = '▪'
	glyphCoast    = '◇'
	glyphAlert    = '◆'
	glyphHistory  = '∙'
	glyphLeader   = '╌'
	glyphWxLight  = '░'
	glyphWxMedium = '▒'
	glyphWxHeavy  = '▓'
)

// leaderCells is the leader line length in terminal rows.
const leaderCells = 3

// canvas is a character grid the scope is drawn into.
type canvas struct {
	width, height int
	cells         [][]rune
	labels        [][]bool
}

func newCanvas(width, height int) *canvas {
	c := &canvas{width: width, height: height}
	c.cells = make([][]rune, height)
	c.labels = make([][]bool, height)
	for y := range c.cells {
		c.cells[y] = make([]rune, width)
		c.labels[y] = make([]bool, width)
		for x := range c.cells[y] {
			c.cells[y][x] = glyphEmpty
		}
	}
	return c
}

// projector returns the projector for a canvas. X is in half-cell units.
func (c *canvas) projector(view scope.View) *scope.Projector {
	return scope.NewProjector(view, scope.Viewport{
		Width:  float64(c.width) * aspectRatio,
		Height: float64(c.height),
	})
}

// cell converts projector coordinates to a canvas cell.
func (c *canvas) cell(x, y float64) (int, int, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, false
	}
	cx, cy := int(math.Floor(x/aspectRatio)), int(math.Floor(y))
	if cx < 0 || cx >= c.width || cy < 0 || cy >= c.height {
		return 0, 0, false
	}
	return cx, cy, true
}

// set writes a glyph when the cell's current glyph ranks below it.
func (c *canvas) set(x, y float64, g rune) {
	cx, cy, ok := c.cell(x, y)
	if !ok || rank(c.cells[cy][cx]) > rank(g) {
		return
	}
	c.cells[cy][cx] = g
	c.labels[cy][cx] = false
}

func (c *canvas) text(cx, cy int, s string) {
	if cy < 0 || cy >= c.height {
		return
	}
	for i, r := range []rune(s) {
		x := cx + i
		if x < 0 || x >= c.width {
			continue
		}
		if rank(c.cells[cy][x]) >= rank(glyphTarget) {
			continue
		}
		c.cells[cy][x] = r
		c.labels[cy][x] = true
	}
}

func rank(g rune) int {
	switch g {
	case glyphEmpty:
		return 0
	case glyphWxLight, glyphWxMedium, glyphWxHeavy:
		return 1
	case glyphRing:
		return 2
	case glyphHistory, glyphLeader:
		return 3
	case glyphCenter:
		return 4
	case glyphTarget, glyphCoast:
		return 5
	case glyphAlert:
		return 6
	}
	return 4
}

// drawRings draws range rings spacingNm apart around the view origin.
func (c *canvas) drawRings(p *scope.Projector, spacingNm float64) {
	ox, oy := p.Origin()
	for _, r := range p.RangeRings(spacingNm) {
		steps := int(math.Max(24, 2*math.Pi*r*2))
		for i := 0; i < steps; i++ {
			a := 2 * math.Pi * float64(i) / float64(steps)
			c.set(ox+r*math.Sin(a), oy-r*math.Cos(a), glyphRing)
		}
	}
	c.set(ox, oy, glyphCenter)
}

// wxGlyph maps a precipitation level to a shade.
func wxGlyph(level int) rune {
	switch {
	case scope.WxHeavy(level):
		return glyphWxHeavy
	case scope.WxStipple(level) == scope.StippleNone:
		return glyphWxLight
	default:
		return glyphWxMedium
	}
}

// drawWeather fills every canvas cell covered by a visible weather cell.
func (c *canvas) drawWeather(p *scope.Projector, g *wx.Grid, filter scope.LevelFilter) {
	for _, cell := range p.WxCells(g, filter) {
		minX, minY, maxX, maxY := cell.Bounds()
		glyph := wxGlyph(cell.Level)
		for y := math.Floor(minY); y <= maxY; y++ {
			for x := math.Floor(minX/aspectRatio) * aspectRatio; x <= maxX; x += aspectRatio {
				c.set(x, y, glyph)
			}
		}
	}
}

// drawTargets plots every aircraft with its history trail, leader line
// and a two-line data block.
func (c *canvas) drawTargets(p *scope.Projector, items []feed.Item, alerting map[string]bool) {
	for _, item := range items {
		for _, prev := range item.PreviousPositions {
			x, y := p.Project(prev.LatLon())
			c.set(x, y, glyphHistory)
		}
	}

	for _, item := range items {
		x, y := p.Project(item.Position.LatLon())
		cx, cy, ok := c.cell(x, y)
		if !ok {
			continue
		}

		if item.TrackDeg != nil {
			lx, ly := scope.Leader(x, y, *item.TrackDeg, leaderCells)
			for i := 1; i <= leaderCells*2; i++ {
				t := float64(i) / float64(leaderCells*2)
				c.set(x+(lx-x)*t, y+(ly-y)*t, glyphLeader)
			}
		}

		glyph := glyphTarget
		switch {
		case alerting[callsignOf(item)]:
			glyph = glyphAlert
		case item.Coast:
			glyph = glyphCoast
		}
		c.set(x, y, glyph)

		line1, line2 := dataBlock(item)
		c.text(cx+2, cy-1, line1)
		c.text(cx+2, cy, line2)
	}
}

func callsignOf(item feed.Item) string {
	if item.Callsign != nil && strings.TrimSpace(*item.Callsign) != "" {
		return strings.TrimSpace(*item.Callsign)
	}
	return item.ID
}

// dataBlock returns the callsign line and the altitude/speed line. Altitude
// is in hundreds of feet, speed in tens of knots.
func dataBlock(item feed.Item) (string, string) {
	alt := "XXX"
	if item.AltitudeAmslFt != nil {
		alt = fmt.Sprintf("%03d", int(math.Round(*item.AltitudeAmslFt/100)))
	}
	spd := "--"
	if item.GroundspeedKts != nil {
		spd = fmt.Sprintf("%02d", int(math.Round(*item.GroundspeedKts/10)))
	}
	wake := string(item.WakeCategory)
	if len(wake) != 1 {
		wake = ""
	}
	return callsignOf(item), alt + " " + spd + wake
}

// alertingCallsigns extracts the callsigns named by alert labels such as
// "N123 012 LA" and "AAL1*DAL2 CA".
func alertingCallsigns(alerts []string) map[string]bool {
	out := make(map[string]bool)
	for _, a := range alerts {
		fields := strings.Fields(a)
		if len(fields) == 0 {
			continue
		}
		for _, cs := range strings.Split(fields[0], "*") {
			out[cs] = true
		}
	}
	return out
}

var (
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	ringStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	centerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	targetStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	coastStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	historyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	leaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	wxLowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("24"))
	wxHighStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("94"))
)

func styleFor(g rune, label bool) lipgloss.Style {
	if label {
		return labelStyle
	}
	switch g {
	case glyphRing:
		return ringStyle
	case glyphCenter:
		return centerStyle
	case glyphTarget:
		return targetStyle
	case glyphCoast:
		return coastStyle
	case glyphAlert:
		return alertStyle
	case glyphHistory:
		return historyStyle
	case glyphLeader:
		return leaderStyle
	case glyphWxLight, glyphWxMedium:
		return wxLowStyle
	case glyphWxHeavy:
		return wxHighStyle
	}
	return lipgloss.NewStyle()
}

// render returns the canvas inside a border, one styled run per glyph class.
func (c *canvas) render() string {
	var b strings.Builder
	b.WriteString(borderStyle.Render("┌" + strings.Repeat("─", c.width) + "┐"))
	b.WriteString("\n")
	for y := 0; y < c.height; y++ {
		b.WriteString(borderStyle.Render("│"))
		var run strings.Builder
		var runStyle lipgloss.Style
		var runKey string
		for x := 0; x < c.width; x++ {
			g := c.cells[y][x]
			key := fmt.Sprintf("%t", c.labels[y][x])
			if !c.labels[y][x] {
				key = string(g)
			}
			if key != runKey && run.Len() > 0 {
				b.WriteString(runStyle.Render(run.String()))
				run.Reset()
			}
			runKey, runStyle = key, styleFor(g, c.labels[y][x])
			run.WriteRune(g)
		}
		if run.Len() > 0 {
			b.WriteString(runStyle.Render(run.String()))
		}
		b.WriteString(borderStyle.Render("│"))
		b.WriteString("\n")
	}
	b.WriteString(borderStyle.Render("└" + strings.Repeat("─", c.width) + "┘"))
	return b.String()
}

// String returns the unstyled canvas, one line per row.
func (c *canvas) String() string {
	lines := make([]string, c.height)
	for y, row := range c.cells {
		lines[y] = string(row)
	}
	return strings.Join(lines, "\n")
}
