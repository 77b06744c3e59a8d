package wx

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

// Normalize decodes an ingest payload and converts it to a Grid. It never
// fails: undecodable or non-object input produces a 1x1 zero grid at the
// fallback center.
func Normalize(raw []byte, fallbackCenter coordinates.LatLon, fallbackRadiusNm float64, now time.Time) Grid {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = nil
	}
	return NormalizePayload(payload, fallbackCenter, fallbackRadiusNm, now)
}

// NormalizePayload converts an already decoded JSON value to a Grid.
//
// Each field is resolved through a chain of aliases and derived values,
// ending in a fixed default, so every result satisfies Grid.Validate.
func NormalizePayload(payload any, fallbackCenter coordinates.LatLon, fallbackRadiusNm float64, now time.Time) Grid {
	root, _ := payload.(map[string]any)
	if root == nil {
		root = map[string]any{}
	}
	trp, _ := root["trp"].(map[string]any)
	geom, _ := root["gridGeom"].(map[string]any)
	center, _ := root["center"].(map[string]any)

	centerLat := firstNumber(fallbackCenter.Lat, center["lat"], trp["latDeg"], root["centerLat"], root["lat"])
	centerLon := firstNumber(fallbackCenter.Lon, center["lon"], trp["lonDeg"], root["centerLon"], root["lon"])

	dxM, hasDx := firstNumberOk(geom["dxM"], root["dxM"])
	dyM, hasDy := firstNumberOk(geom["dyM"], root["dyM"])

	cellSizeNm := DefaultCellSizeNm
	if v, ok := positiveNumber(root["cellSizeNm"]); ok {
		cellSizeNm = v
	} else if v, ok := positiveNumber(root["cellSize"]); ok {
		cellSizeNm = v
	} else if hasDx && dxM > 0 {
		cellSizeNm = dxM / coordinates.NmToMeters
	} else if hasDy && dyM > 0 {
		cellSizeNm = dyM / coordinates.NmToMeters
	}

	rawLevels, hasLevels := root["levels"].([]any)
	cellData := firstPresent(root["cells"], root["data"])

	width, height, sized := resolveSize(root, rawLevels, cellData)

	radiusNm := fallbackRadiusNm
	derived := float64(max(width, height)) * cellSizeNm * 0.5
	if v, ok := numberOf(root["radiusNm"]); ok {
		radiusNm = v
	} else if v, ok := numberOf(root["radius"]); ok {
		radiusNm = v
	} else if sized && isFinite(derived) && derived > 0 {
		radiusNm = derived
	}

	expected := width * height
	var levels []int
	switch {
	case hasLevels:
		levels = make([]int, 0, len(rawLevels))
		for _, v := range rawLevels {
			levels = append(levels, levelOf(v))
		}
	default:
		levels = levelsFromCells(cellData, width, height)
	}
	levels = fitLength(levels, expected)

	updatedAtMs := now.UnixMilli()
	if v, ok := numberOf(root["updatedAtMs"]); ok {
		updatedAtMs = int64(math.Floor(v))
	}

	receivedAt := firstString(root["receivedAt"], root["timestamp"])
	if receivedAt == "" {
		receivedAt = time.UnixMilli(updatedAtMs).UTC().Format("2006-01-02T15:04:05.000Z")
	}

	if !hasDx {
		dxM = cellSizeNm * coordinates.NmToMeters
	}
	if !hasDy {
		dyM = cellSizeNm * coordinates.NmToMeters
	}

	productID := firstNonNegativeInt(-1, root["productId"], root["product_id"])
	maxPrecip := firstNonNegativeInt(0, root["maxPrecipLevel"], root["max_precip_level"])
	filled := firstNonNegativeInt(len(levels), root["filledCells"])

	cells := make([]int, len(levels))
	copy(cells, levels)

	truncated, _ := root["cellsTruncated"].(bool)

	return Grid{
		UpdatedAtMs: updatedAtMs,
		Region:      ParseRegion(firstString(root["region"])),
		Center:      coordinates.LatLon{Lat: centerLat, Lon: centerLon},
		RadiusNm:    radiusNm,
		CellSizeNm:  cellSizeNm,
		Width:       width,
		Height:      height,
		Levels:      levels,

		ReceivedAt:     receivedAt,
		ProductID:      &productID,
		ProductName:    firstString(root["productName"], root["product_name"]),
		Site:           firstString(root["site"]),
		Airport:        firstString(root["airport"]),
		Rows:           height,
		Cols:           width,
		Compression:    firstString(root["compression"]),
		MaxPrecipLevel: &maxPrecip,
		FilledCells:    &filled,
		Layout:         LayoutRowMajor,
		Cells:          cells,
		Trp: &SitePoint{
			LatDeg: firstNumber(centerLat, trp["latDeg"]),
			LonDeg: firstNumber(centerLon, trp["lonDeg"]),
		},
		GridGeom: &GridGeometry{
			XOffsetM:    roundHalfUp(firstNumber(0, geom["xOffsetM"], root["xOffsetM"])),
			YOffsetM:    roundHalfUp(firstNumber(0, geom["yOffsetM"], root["yOffsetM"])),
			DxM:         roundHalfUp(dxM),
			DyM:         roundHalfUp(dyM),
			RotationDeg: firstNumber(0, geom["rotationDeg"], root["rotationDeg"]),
		},
		CellsTruncated: truncated,
	}
}

// resolveSize picks the grid dimensions: explicit fields first, then a
// deduction from the flat levels (or flat cells) length, then the extent
// of sparse cell entries. Anything still unknown is 1; sized is false when
// neither dimension came from the payload. The result never exceeds
// MaxIngestCells; an oversized declaration is treated as absent.
func resolveSize(root map[string]any, rawLevels []any, cellData any) (width, height int, sized bool) {
	width, hasWidth := firstPositiveInt(root["width"], root["cols"], root["columns"])
	height, hasHeight := firstPositiveInt(root["height"], root["rows"])
	if hasWidth && hasHeight {
		if _, ok := cellCount(width, height, MaxIngestCells); ok {
			return width, height, true
		}
		hasWidth, hasHeight = false, false
	}

	flat := rawLevels
	if len(flat) == 0 {
		if cells, ok := cellData.([]any); ok && isFlatNumeric(cells) {
			flat = cells
		}
	}
	if n := min(len(flat), MaxIngestCells); n > 0 {
		side := int(math.Sqrt(float64(n)))
		if side*side == n {
			return side, side, true
		}
		return n, 1, true
	}

	if cells, ok := cellData.([]any); ok {
		maxX, maxY := -1, -1
		for _, entry := range cells {
			x, y, ok := sparseIndex(entry)
			if !ok {
				continue
			}
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
		if !hasWidth && maxX >= 0 {
			width, hasWidth = maxX+1, true
		}
		if !hasHeight && maxY >= 0 {
			height, hasHeight = maxY+1, true
		}
	}

	sized = hasWidth || hasHeight
	if !hasWidth {
		width = 1
	}
	if !hasHeight {
		height = 1
	}
	if _, ok := cellCount(width, height, MaxIngestCells); !ok {
		return 1, 1, false
	}
	return width, height, sized
}

// levelsFromCells reads either a flat row-major numeric array or a sparse
// list of {x, y, level} entries. Sparse entries outside the grid are
// dropped. Unknown shapes produce a zero grid.
func levelsFromCells(cellData any, width, height int) []int {
	out := make([]int, width*height)
	cells, ok := cellData.([]any)
	if !ok {
		return out
	}

	if isFlatNumeric(cells) {
		for i := 0; i < len(out) && i < len(cells); i++ {
			out[i] = levelOf(cells[i])
		}
		return out
	}

	for _, entry := range cells {
		x, y, ok := sparseIndex(entry)
		if !ok || x >= width || y >= height {
			continue
		}
		obj := entry.(map[string]any)
		out[y*width+x] = levelOf(firstPresent(obj["level"], obj["intensity"], obj["value"]))
	}
	return out
}

func sparseIndex(entry any) (x, y int, ok bool) {
	obj, isObj := entry.(map[string]any)
	if !isObj {
		return 0, 0, false
	}
	x, okX := nonNegativeInt(firstPresent(obj["x"], obj["col"], obj["column"]))
	y, okY := nonNegativeInt(firstPresent(obj["y"], obj["row"]))
	return x, y, okX && okY
}

func isFlatNumeric(cells []any) bool {
	if len(cells) == 0 {
		return false
	}
	switch cells[0].(type) {
	case float64, string:
		return true
	}
	return false
}

func fitLength(levels []int, n int) []int {
	if len(levels) >= n {
		return levels[:n:n]
	}
	return append(levels, make([]int, n-len(levels))...)
}

func levelOf(v any) int {
	f, ok := numberOf(v)
	if !ok {
		return 0
	}
	return ClampLevel(f)
}

// numberOf accepts finite JSON numbers and numeric strings.
func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, isFinite(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && isFinite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && isFinite(f)
	}
	return 0, false
}

func positiveNumber(v any) (float64, bool) {
	f, ok := numberOf(v)
	return f, ok && f > 0
}

// positiveInt floors v. Values beyond int32 saturate so later size
// arithmetic cannot wrap.
func positiveInt(v any) (int, bool) {
	f, ok := numberOf(v)
	if !ok || f < 1 {
		return 0, false
	}
	return int(math.Floor(math.Min(f, math.MaxInt32))), true
}

func nonNegativeInt(v any) (int, bool) {
	f, ok := numberOf(v)
	if !ok || f < 0 {
		return 0, false
	}
	return int(math.Floor(math.Min(f, math.MaxInt32))), true
}

func firstPositiveInt(candidates ...any) (int, bool) {
	for _, c := range candidates {
		if n, ok := positiveInt(c); ok {
			return n, true
		}
	}
	return 0, false
}

func firstNonNegativeInt(fallback int, candidates ...any) int {
	for _, c := range candidates {
		if n, ok := nonNegativeInt(c); ok {
			return n
		}
	}
	return fallback
}

func firstNumber(fallback float64, candidates ...any) float64 {
	if f, ok := firstNumberOk(candidates...); ok {
		return f
	}
	return fallback
}

func firstNumberOk(candidates ...any) (float64, bool) {
	for _, c := range candidates {
		if f, ok := numberOf(c); ok {
			return f, true
		}
	}
	return 0, false
}

func firstString(candidates ...any) string {
	for _, c := range candidates {
		if s, ok := c.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstPresent(candidates ...any) any {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func roundHalfUp(f float64) float64 {
	return math.Floor(f + 0.5)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
