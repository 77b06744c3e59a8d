package wx

import (
	"math"
	"testing"
	"time"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

var (
	testNow      = time.UnixMilli(1_700_000_000_000)
	testFallback = coordinates.LatLon{Lat: 35.2, Lon: -80.9}
)

func normalizeString(t *testing.T, payload string) Grid {
	t.Helper()
	g := Normalize([]byte(payload), testFallback, 60, testNow)
	if err := g.Validate(); err != nil {
		t.Fatalf("normalized grid is invalid: %v", err)
	}
	return g
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNormalizeDeducesSquareFromLevels(t *testing.T) {
	g := normalizeString(t, `{"levels":[1,2,3,4]}`)

	if g.Width != 2 || g.Height != 2 {
		t.Errorf("Expected 2x2, got %dx%d", g.Width, g.Height)
	}
	if !equalInts(g.Levels, []int{1, 2, 3, 4}) {
		t.Errorf("Expected levels unchanged, got %v", g.Levels)
	}
	if g.CellSizeNm != 0.5 {
		t.Errorf("Expected cell size 0.5, got %f", g.CellSizeNm)
	}
	if g.Center != testFallback {
		t.Errorf("Expected fallback center, got %+v", g.Center)
	}
	if g.Region != RegionCONUS {
		t.Errorf("Expected CONUS, got %s", g.Region)
	}
}

func TestNormalizeSize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		size    [2]int
		levels  []int
	}{
		{
			name:    "Non-square length becomes a single row",
			payload: `{"levels":[1,2,3]}`,
			size:    [2]int{3, 1},
			levels:  []int{1, 2, 3},
		},
		{
			name:    "Explicit cols and rows",
			payload: `{"cols":3,"rows":2,"levels":[1,1,1,2,2,2]}`,
			size:    [2]int{3, 2},
			levels:  []int{1, 1, 1, 2, 2, 2},
		},
		{
			name:    "Short levels are zero padded",
			payload: `{"width":2,"height":2,"levels":[5]}`,
			size:    [2]int{2, 2},
			levels:  []int{5, 0, 0, 0},
		},
		{
			name:    "Long levels are truncated",
			payload: `{"width":2,"height":1,"levels":[1,2,3,4,5]}`,
			size:    [2]int{2, 1},
			levels:  []int{1, 2},
		},
		{
			name:    "Flat numeric cells",
			payload: `{"cells":[0,"3",9,-2]}`,
			size:    [2]int{2, 2},
			levels:  []int{0, 3, 6, 0},
		},
		{
			name:    "Flat data alias",
			payload: `{"width":3,"height":1,"data":[2.4,2.5,"x"]}`,
			size:    [2]int{3, 1},
			levels:  []int{2, 3, 0},
		},
		{
			name:    "Sparse cells scatter into a zero grid",
			payload: `{"width":3,"height":2,"cells":[{"x":2,"y":1,"level":4},{"col":0,"row":0,"intensity":1},{"x":5,"y":0,"level":6}]}`,
			size:    [2]int{3, 2},
			levels:  []int{1, 0, 0, 0, 0, 4},
		},
		{
			name:    "Sparse cells without a size use their extent",
			payload: `{"cells":[{"x":1,"y":2,"value":3}]}`,
			size:    [2]int{2, 3},
			levels:  []int{0, 0, 0, 0, 0, 3},
		},
		{
			name:    "Unknown shape yields a zero grid",
			payload: `{"width":2,"height":2,"cells":"abc"}`,
			size:    [2]int{2, 2},
			levels:  []int{0, 0, 0, 0},
		},
		{
			name:    "Declared size whose product overflows falls back to the levels",
			payload: `{"width":3037000500,"height":3037000500,"levels":[1]}`,
			size:    [2]int{1, 1},
			levels:  []int{1},
		},
		{
			name:    "Declared size whose product wraps to zero falls back to the levels",
			payload: `{"width":4294967296,"height":4294967296,"levels":[3]}`,
			size:    [2]int{1, 1},
			levels:  []int{3},
		},
		{
			name:    "Oversized declaration with square levels uses the levels",
			payload: `{"cols":100000,"rows":100000,"levels":[1,2,3,4]}`,
			size:    [2]int{2, 2},
			levels:  []int{1, 2, 3, 4},
		},
		{
			name:    "Oversized declaration without data is a single cell",
			payload: `{"width":100000,"height":100000}`,
			size:    [2]int{1, 1},
			levels:  []int{0},
		},
		{
			name:    "Far sparse cell does not size the grid",
			payload: `{"cells":[{"x":1e15,"y":0,"level":2}]}`,
			size:    [2]int{1, 1},
			levels:  []int{0},
		},
		{
			name:    "Sizes below one are ignored",
			payload: `{"width":0.5,"height":0.5,"levels":[1,2,3,4]}`,
			size:    [2]int{2, 2},
			levels:  []int{1, 2, 3, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := normalizeString(t, tt.payload)
			if g.Width != tt.size[0] || g.Height != tt.size[1] {
				t.Errorf("Expected %dx%d, got %dx%d", tt.size[0], tt.size[1], g.Width, g.Height)
			}
			if !equalInts(g.Levels, tt.levels) {
				t.Errorf("Expected levels %v, got %v", tt.levels, g.Levels)
			}
			if !equalInts(g.Cells, g.Levels) || g.Rows != g.Height || g.Cols != g.Width {
				t.Error("Expected cells/rows/cols to mirror levels/height/width")
			}
		})
	}
}

func TestNormalizeNeverFails(t *testing.T) {
	inputs := []string{`not json`, `[1,2,3]`, `42`, `null`, `{}`}
	for _, in := range inputs {
		g := normalizeString(t, in)
		if g.Width != 1 || g.Height != 1 || g.Levels[0] != 0 {
			t.Errorf("%q: expected 1x1 zero grid, got %dx%d %v", in, g.Width, g.Height, g.Levels)
		}
		if g.Center != testFallback || g.RadiusNm != 60 {
			t.Errorf("%q: expected fallback center and radius, got %+v r=%f", in, g.Center, g.RadiusNm)
		}
		if g.UpdatedAtMs != testNow.UnixMilli() {
			t.Errorf("%q: expected updatedAtMs from now", in)
		}
	}
}

func TestNormalizeCenterAndGeometry(t *testing.T) {
	t.Run("Center prefers explicit center over trp", func(t *testing.T) {
		g := normalizeString(t, `{"center":{"lat":40,"lon":-75},"trp":{"latDeg":41,"lonDeg":-76},"levels":[0]}`)
		if g.Center.Lat != 40 || g.Center.Lon != -75 {
			t.Errorf("Unexpected center %+v", g.Center)
		}
		if g.Trp.LatDeg != 41 || g.Trp.LonDeg != -76 {
			t.Errorf("Expected trp kept, got %+v", g.Trp)
		}
	})

	t.Run("Center falls back to trp then flat fields", func(t *testing.T) {
		g := normalizeString(t, `{"trp":{"latDeg":41,"lonDeg":-76},"levels":[0]}`)
		if g.Center.Lat != 41 || g.Center.Lon != -76 {
			t.Errorf("Expected trp center, got %+v", g.Center)
		}
		g = normalizeString(t, `{"centerLat":"39.5","lon":-74,"levels":[0]}`)
		if g.Center.Lat != 39.5 || g.Center.Lon != -74 {
			t.Errorf("Expected flat center, got %+v", g.Center)
		}
	})

	t.Run("Cell size derives from grid geometry", func(t *testing.T) {
		g := normalizeString(t, `{"gridGeom":{"dxM":926,"dyM":926,"xOffsetM":-1000.6,"rotationDeg":12.5},"rows":4,"cols":4,"cells":[]}`)
		if math.Abs(g.CellSizeNm-0.5) > 1e-9 {
			t.Errorf("Expected 0.5 nm cells, got %f", g.CellSizeNm)
		}
		if g.RadiusNm != 1 {
			t.Errorf("Expected derived radius 1, got %f", g.RadiusNm)
		}
		if g.GridGeom.XOffsetM != -1001 || g.GridGeom.RotationDeg != 12.5 {
			t.Errorf("Unexpected geometry %+v", g.GridGeom)
		}
	})

	t.Run("Plain grid gets unrotated site geometry", func(t *testing.T) {
		g := normalizeString(t, `{"cellSizeNm":1,"levels":[1,0,0,1]}`)
		if g.Trp.LatDeg != g.Center.Lat || g.Trp.LonDeg != g.Center.Lon {
			t.Errorf("Expected trp at center, got %+v", g.Trp)
		}
		if g.GridGeom.DxM != 1852 || g.GridGeom.DyM != 1852 {
			t.Errorf("Expected 1852 m cells, got %+v", g.GridGeom)
		}
		if g.GridGeom.RotationDeg != 0 || g.GridGeom.XOffsetM != 0 {
			t.Errorf("Expected no rotation or offset, got %+v", g.GridGeom)
		}
		if !g.SiteRelative() {
			t.Error("Expected grid to be site relative")
		}
	})

	t.Run("Explicit radius wins", func(t *testing.T) {
		g := normalizeString(t, `{"radius":"25","levels":[0,0,0,0]}`)
		if g.RadiusNm != 25 {
			t.Errorf("Expected radius 25, got %f", g.RadiusNm)
		}
	})
}

func TestNormalizeMetadata(t *testing.T) {
	g := normalizeString(t, `{
		"region":" alaska ",
		"updatedAtMs":1700000001234.9,
		"product_id":9,
		"productName":"ITWS precip",
		"site":"CLT",
		"airport":"KCLT",
		"max_precip_level":"4",
		"cellsTruncated":true,
		"levels":[4]
	}`)

	if g.Region != RegionAlaska {
		t.Errorf("Expected ALASKA, got %s", g.Region)
	}
	if g.UpdatedAtMs != 1700000001234 {
		t.Errorf("Expected floored updatedAtMs, got %d", g.UpdatedAtMs)
	}
	if g.ReceivedAt != "2023-11-14T22:13:21.234Z" {
		t.Errorf("Unexpected receivedAt %q", g.ReceivedAt)
	}
	if *g.ProductID != 9 || g.ProductName != "ITWS precip" || g.Site != "CLT" || g.Airport != "KCLT" {
		t.Errorf("Unexpected product fields %+v", g)
	}
	if *g.MaxPrecipLevel != 4 || *g.FilledCells != 1 {
		t.Errorf("Unexpected counters %d/%d", *g.MaxPrecipLevel, *g.FilledCells)
	}
	if !g.CellsTruncated || g.Layout != LayoutRowMajor {
		t.Error("Expected truncated row-major grid")
	}

	d := normalizeString(t, `{"region":"MARS","levels":[0]}`)
	if d.Region != RegionCONUS || *d.ProductID != -1 {
		t.Errorf("Expected CONUS and product -1, got %s %d", d.Region, *d.ProductID)
	}
}

func TestClampLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-3, 0},
		{0.49, 0},
		{0.5, 1},
		{2.5, 3},
		{6.4, 6},
		{99, 6},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := ClampLevel(tt.in); got != tt.want {
			t.Errorf("ClampLevel(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGridValidate(t *testing.T) {
	t.Run("Size whose product wraps is rejected", func(t *testing.T) {
		g := Grid{Width: math.MaxInt/2 + 1, Height: 4}
		if err := g.Validate(); err == nil {
			t.Error("Expected an error")
		}
		if got := g.Level(0, 0); got != 0 {
			t.Errorf("Expected 0 from an empty grid, got %d", got)
		}
	})

	t.Run("Cells must match rows and cols", func(t *testing.T) {
		g := Grid{Width: 2, Height: 1, Levels: []int{1, 2}, Rows: 1, Cols: 3, Cells: []int{1, 2}}
		if err := g.Validate(); err == nil {
			t.Error("Expected an error")
		}
		g.Cols = 2
		if err := g.Validate(); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("Oversized ingest is bounded", func(t *testing.T) {
		g := Normalize([]byte(`{"width":2048,"height":2049,"levels":[]}`), testFallback, 60, testNow)
		if g.Width*g.Height > MaxIngestCells {
			t.Errorf("Expected at most %d cells, got %dx%d", MaxIngestCells, g.Width, g.Height)
		}
		if err := g.Validate(); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}
