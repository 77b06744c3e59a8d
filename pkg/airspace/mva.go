// Package airspace evaluates aircraft against minimum vectoring altitude
// sectors and against each other, producing the low-altitude (LA) and
// conflict (CA) alert labels shown in the scope's alert list.
package airspace

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

// Ring is a closed polygon ring. The closing vertex may or may not repeat
// the first one.
type Ring []coordinates.LatLon

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// BoundsOf returns the bounding box of a ring.
func BoundsOf(r Ring) Bounds {
	if len(r) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLat: r[0].Lat, MaxLat: r[0].Lat, MinLon: r[0].Lon, MaxLon: r[0].Lon}
	for _, p := range r[1:] {
		b.MinLat, b.MaxLat = min(b.MinLat, p.Lat), max(b.MaxLat, p.Lat)
		b.MinLon, b.MaxLon = min(b.MinLon, p.Lon), max(b.MaxLon, p.Lon)
	}
	return b
}

// Inside reports whether p lies within the box, edges included.
func (b Bounds) Inside(p coordinates.LatLon) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Contains is an even-odd ray cast with longitude as x and latitude as y.
func (r Ring) Contains(p coordinates.LatLon) bool {
	inside := false
	for i := range r {
		p0, p1 := r[i], r[(i+1)%len(r)]
		if (p0.Lat <= p.Lat && p.Lat < p1.Lat) || (p1.Lat <= p.Lat && p.Lat < p0.Lat) {
			x := p0.Lon + (p.Lat-p0.Lat)*(p1.Lon-p0.Lon)/(p1.Lat-p0.Lat)
			if x > p.Lon {
				inside = !inside
			}
		}
	}
	return inside
}

// Sector is one minimum vectoring altitude polygon.
type Sector struct {
	Name           string
	MinimumLimitFt float64
	Exterior       Ring
	Holes          []Ring
	Bounds         Bounds
}

// NewSector builds a sector and computes its bounding box.
func NewSector(name string, minimumLimitFt float64, exterior Ring, holes ...Ring) Sector {
	return Sector{
		Name:           name,
		MinimumLimitFt: minimumLimitFt,
		Exterior:       exterior,
		Holes:          holes,
		Bounds:         BoundsOf(exterior),
	}
}

// Contains reports whether p is inside the exterior ring and outside
// every hole.
func (s *Sector) Contains(p coordinates.LatLon) bool {
	if !s.Bounds.Inside(p) || !s.Exterior.Contains(p) {
		return false
	}
	for _, h := range s.Holes {
		if h.Contains(p) {
			return false
		}
	}
	return true
}

// GML shapes decoded from each AirspaceVolume element.
type gmlLinearRing struct {
	PosList string `xml:"posList"`
}

type gmlRingHolder struct {
	LinearRing gmlLinearRing `xml:"LinearRing"`
}

type gmlPolygonPatch struct {
	Exterior  gmlRingHolder   `xml:"exterior"`
	Interiors []gmlRingHolder `xml:"interior"`
}

type gmlAirspaceVolume struct {
	Name         string `xml:"name"`
	MinimumLimit string `xml:"minimumLimit"`
	Projection   struct {
		Surface struct {
			Patches struct {
				PolygonPatch gmlPolygonPatch `xml:"PolygonPatch"`
			} `xml:"patches"`
		} `xml:"Surface"`
	} `xml:"horizontalProjection"`
}

// ParseMVA reads an AIXM/GML minimum vectoring altitude document. Rather
// than modelling the full schema it walks tokens until it finds
// AirspaceVolume elements and decodes each one. posList coordinates are
// "lon lat" pairs. Any malformed volume fails the whole document.
func ParseMVA(r io.Reader) ([]Sector, error) {
	decoder := xml.NewDecoder(r)

	var sectors []Sector
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read MVA document: %w", err)
		}

		se, ok := token.(xml.StartElement)
		if !ok || se.Name.Local != "AirspaceVolume" {
			continue
		}

		var vol gmlAirspaceVolume
		if err := decoder.DecodeElement(&vol, &se); err != nil {
			return nil, fmt.Errorf("failed to decode airspace volume: %w", err)
		}

		limit, err := strconv.ParseFloat(strings.TrimSpace(vol.MinimumLimit), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid minimumLimit %q: %w", vol.MinimumLimit, err)
		}
		if math.IsNaN(limit) || math.IsInf(limit, 0) {
			return nil, fmt.Errorf("invalid minimumLimit %q", vol.MinimumLimit)
		}

		patch := vol.Projection.Surface.Patches.PolygonPatch
		exterior, err := parsePosList(patch.Exterior.LinearRing.PosList)
		if err != nil {
			return nil, fmt.Errorf("sector %d exterior: %w", len(sectors), err)
		}
		if len(exterior) < 3 {
			return nil, fmt.Errorf("sector %d exterior has %d vertices", len(sectors), len(exterior))
		}

		var holes []Ring
		for _, in := range patch.Interiors {
			hole, err := parsePosList(in.LinearRing.PosList)
			if err != nil {
				return nil, fmt.Errorf("sector %d interior: %w", len(sectors), err)
			}
			holes = append(holes, hole)
		}

		sectors = append(sectors, NewSector(strings.TrimSpace(vol.Name), limit, exterior, holes...))
	}

	return sectors, nil
}

func parsePosList(s string) (Ring, error) {
	f := strings.Fields(s)
	if len(f)%2 != 0 {
		return nil, fmt.Errorf("odd number of coordinates (%d)", len(f))
	}

	ring := make(Ring, 0, len(f)/2)
	for i := 0; i < len(f); i += 2 {
		lon, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return nil, err
		}
		lat, err := strconv.ParseFloat(f[i+1], 64)
		if err != nil {
			return nil, err
		}
		ring = append(ring, coordinates.LatLon{Lat: lat, Lon: lon})
	}
	return ring, nil
}

// LoadMVAFile loads sectors from path, decompressing .zst files. Any
// failure is logged and yields no sectors, which disables low-altitude
// alerting without stopping the caller.
func LoadMVAFile(path string, logger *slog.Logger) []Sector {
	if logger == nil {
		logger = slog.Default()
	}

	sectors, err := loadMVAFile(path)
	if err != nil {
		logger.Warn("MVA sectors unavailable, low altitude alerts disabled", "path", path, "error", err)
		return nil
	}
	logger.Info("Loaded MVA sectors", "path", path, "sectors", len(sectors))
	return sectors
}

func loadMVAFile(path string) ([]Sector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MVA file: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	return ParseMVA(r)
}
