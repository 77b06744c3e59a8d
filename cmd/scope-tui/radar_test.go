package main

import (
	"strings"
	"testing"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
	"github.com/unklstewy/tracon-scope/pkg/feed"
	"github.com/unklstewy/tracon-scope/pkg/scope"
	"github.com/unklstewy/tracon-scope/pkg/tracking"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

func ptr[T any](v T) *T { return &v }

var center = coordinates.LatLon{Lat: 40.0, Lon: -75.0}

func testView() scope.View {
	return scope.View{Center: center, RadiusNm: 10}
}

func TestCanvasCell(t *testing.T) {
	c := newCanvas(40, 20)
	p := c.projector(testView())

	x, y := p.Project(center)
	cx, cy, ok := c.cell(x, y)
	if !ok || cx != 20 || cy != 10 {
		t.Errorf("center cell = (%d, %d, %v), want (20, 10, true)", cx, cy, ok)
	}

	t.Run("Rings look round on terminal cells", func(t *testing.T) {
		// 5 nm north is half the radius: 5 rows up.
		_, yN := p.ProjectOffset(0, 5)
		_, ny, _ := c.cell(x, yN)
		// 5 nm east is 10 columns right.
		xE, _ := p.ProjectOffset(5, 0)
		ex, _, _ := c.cell(xE, y)
		if cy-ny != 5 || ex-cx != 10 {
			t.Errorf("north %d rows, east %d cols", cy-ny, ex-cx)
		}
	})

	t.Run("Off-canvas positions are rejected", func(t *testing.T) {
		if _, _, ok := c.cell(-1, 5); ok {
			t.Error("negative x accepted")
		}
		if _, _, ok := c.cell(5, 20); ok {
			t.Error("y past bottom accepted")
		}
	})
}

func TestDrawRings(t *testing.T) {
	c := newCanvas(40, 20)
	p := c.projector(testView())
	c.drawRings(p, 5)

	if got := c.cells[10][20]; got != glyphCenter {
		t.Errorf("center glyph = %q", got)
	}
	rings := strings.Count(c.String(), string(glyphRing))
	if rings == 0 {
		t.Fatal("no ring glyphs drawn")
	}
	// Inner ring crosses the vertical axis 5 rows above the center.
	if got := c.cells[5][20]; got != glyphRing {
		t.Errorf("cell above center = %q, want ring", got)
	}
}

func TestDrawTargets(t *testing.T) {
	c := newCanvas(40, 20)
	p := c.projector(testView())
	c.drawRings(p, 5)

	items := []feed.Item{
		{
			ID:             "a1",
			Callsign:       ptr("AAL1"),
			AltitudeAmslFt: ptr(5000.0),
			GroundspeedKts: ptr(250.0),
			TrackDeg:       ptr(90.0),
			Position:       tracking.PositionSample{Lat: center.Lat, Lon: center.Lon},
		},
		{
			ID:       "b2",
			Coast:    true,
			Position: tracking.PositionSample{Lat: center.Lat - 5.5/60, Lon: center.Lon},
		},
	}
	c.drawTargets(p, items, alertingCallsigns([]string{"AAL1*DAL2 CA"}))

	if got := c.cells[10][20]; got != glyphAlert {
		t.Errorf("alerting target glyph = %q", got)
	}
	if got := c.cells[10][21]; got != glyphLeader {
		t.Errorf("leader glyph = %q", got)
	}
	if got := c.cells[15][20]; got != glyphCoast {
		t.Errorf("coasting target glyph = %q", got)
	}

	out := c.String()
	for _, want := range []string{"AAL1", "050 25", "b2", "XXX --"} {
		if !strings.Contains(out, want) {
			t.Errorf("canvas missing %q:\n%s", want, out)
		}
	}
}

func TestDrawWeather(t *testing.T) {
	grid := &wx.Grid{
		Center:     center,
		RadiusNm:   1,
		CellSizeNm: 1,
		Width:      2,
		Height:     2,
		Levels:     []int{0, 4, 1, 0},
	}

	t.Run("Heavy and light levels use different shades", func(t *testing.T) {
		c := newCanvas(40, 20)
		p := c.projector(testView())
		c.drawWeather(p, grid, nil)
		out := c.String()
		if !strings.Contains(out, string(glyphWxHeavy)) || !strings.Contains(out, string(glyphWxLight)) {
			t.Errorf("expected heavy and light shades:\n%s", out)
		}
	})

	t.Run("Filtered levels are not drawn", func(t *testing.T) {
		c := newCanvas(40, 20)
		p := c.projector(testView())
		c.drawWeather(p, grid, func(level int) bool { return level < 4 })
		if strings.Contains(c.String(), string(glyphWxHeavy)) {
			t.Error("level 4 drawn despite filter")
		}
	})
}

func TestDataBlock(t *testing.T) {
	tests := []struct {
		name         string
		item         feed.Item
		line1, line2 string
	}{
		{
			name:  "Full data",
			item:  feed.Item{ID: "x", Callsign: ptr(" UAL9 "), AltitudeAmslFt: ptr(12340.0), GroundspeedKts: ptr(312.0), WakeCategory: "D"},
			line1: "UAL9", line2: "123 31D",
		},
		{
			name:  "Unknown wake category is omitted",
			item:  feed.Item{ID: "abc123", AltitudeAmslFt: ptr(900.0), WakeCategory: "UNKNOWN"},
			line1: "abc123", line2: "009 --",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l1, l2 := dataBlock(tt.item)
			if l1 != tt.line1 || l2 != tt.line2 {
				t.Errorf("dataBlock = %q / %q, want %q / %q", l1, l2, tt.line1, tt.line2)
			}
		})
	}
}

func TestRingSpacing(t *testing.T) {
	tests := []struct {
		radius, want float64
	}{
		{5, 2},
		{20, 5},
		{40, 10},
		{100, 20},
		{250, 50},
	}
	for _, tt := range tests {
		if got := ringSpacing(tt.radius); got != tt.want {
			t.Errorf("ringSpacing(%v) = %v, want %v", tt.radius, got, tt.want)
		}
	}
}
