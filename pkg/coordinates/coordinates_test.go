package coordinates

import (
	"math"
	"testing"
)

func TestDistanceNm(t *testing.T) {
	tests := []struct {
		name      string
		from      LatLon
		to        LatLon
		want      float64
		tolerance float64
	}{
		{
			name:      "One degree of latitude is sixty nautical miles",
			from:      LatLon{Lat: 40.0, Lon: -74.0},
			to:        LatLon{Lat: 41.0, Lon: -74.0},
			want:      60.04,
			tolerance: 0.05,
		},
		{
			name:      "One degree of longitude at the equator",
			from:      LatLon{Lat: 0, Lon: 10},
			to:        LatLon{Lat: 0, Lon: 11},
			want:      60.04,
			tolerance: 0.05,
		},
		{
			name:      "Same point is zero",
			from:      LatLon{Lat: 35.2, Lon: -80.9},
			to:        LatLon{Lat: 35.2, Lon: -80.9},
			want:      0,
			tolerance: 0,
		},
		{
			name:      "Across the antimeridian",
			from:      LatLon{Lat: 0, Lon: 179.5},
			to:        LatLon{Lat: 0, Lon: -179.5},
			want:      60.04,
			tolerance: 0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceNm(tt.from, tt.to)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceNm() = %.4f, want %.4f ± %.4f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceNmSymmetry(t *testing.T) {
	points := []LatLon{
		{Lat: 40.6413, Lon: -73.7781},
		{Lat: 33.9416, Lon: -118.4085},
		{Lat: -33.9399, Lon: 151.1753},
		{Lat: 64.1, Lon: -21.9},
		{Lat: 0, Lon: 0},
	}

	for _, a := range points {
		if d := DistanceNm(a, a); d != 0 {
			t.Errorf("DistanceNm(%v, %v) = %v, want 0", a, a, d)
		}
		for _, b := range points {
			ab := DistanceNm(a, b)
			ba := DistanceNm(b, a)
			if math.Abs(ab-ba) > 1e-9 {
				t.Errorf("asymmetric distance %v -> %v: %v vs %v", a, b, ab, ba)
			}
			if ab < 0 {
				t.Errorf("negative distance %v -> %v: %v", a, b, ab)
			}
		}
	}
}

func TestDestinationFromTrack(t *testing.T) {
	start := LatLon{Lat: 40.0, Lon: -74.0}

	t.Run("Due north moves latitude only", func(t *testing.T) {
		got := DestinationFromTrack(start, 0, 60)
		if math.Abs(got.Lat-40.9993) > 0.01 || math.Abs(got.Lon-(-74.0)) > 1e-9 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("Arrival point is at the requested distance", func(t *testing.T) {
		for _, course := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
			got := DestinationFromTrack(start, course, 12.5)
			if d := DistanceNm(start, got); math.Abs(d-12.5) > 1e-6 {
				t.Errorf("course %v: distance %v, want 12.5", course, d)
			}
		}
	})

	t.Run("Arrival point lies on the requested course", func(t *testing.T) {
		got := DestinationFromTrack(start, 70, 5)
		if b := Bearing(start, got); math.Abs(b-70) > 0.01 {
			t.Errorf("bearing = %v, want 70", b)
		}
	})

	t.Run("Longitude wraps across the antimeridian", func(t *testing.T) {
		got := DestinationFromTrack(LatLon{Lat: 0, Lon: 179.9}, 90, 30)
		if got.Lon > 0 || got.Lon <= -180 {
			t.Errorf("lon = %v, want in (-180, 0]", got.Lon)
		}
		if math.Abs(got.Lon-(-179.6)) > 0.01 {
			t.Errorf("lon = %v, want about -179.6", got.Lon)
		}
	})

	t.Run("Zero distance returns the start", func(t *testing.T) {
		got := DestinationFromTrack(start, 123, 0)
		if math.Abs(got.Lat-start.Lat) > 1e-12 || math.Abs(got.Lon-start.Lon) > 1e-12 {
			t.Errorf("got %+v, want %+v", got, start)
		}
	})
}

func TestNormalizeHeading(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{359.5, 359.5},
		{360, 0},
		{725, 5},
		{-10, 350},
		{-370, 350},
		{-720, 0},
	}

	for _, tt := range tests {
		got := NormalizeHeading(tt.in)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeHeading(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("NormalizeHeading(%v) = %v out of range", tt.in, got)
		}
	}
}

func TestNormalizeLongitude(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{180, 180},
		{-180, 180},
		{181, -179},
		{-181, 179},
		{540, 180},
		{-74, -74},
	}

	for _, tt := range tests {
		if got := NormalizeLongitude(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeLongitude(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHeadingToUnitVector(t *testing.T) {
	tests := []struct {
		heading float64
		wantX   float64
		wantY   float64
	}{
		{0, 0, 1},
		{90, 1, 0},
		{180, 0, -1},
		{270, -1, 0},
	}

	for _, tt := range tests {
		x, y := HeadingToUnitVector(tt.heading)
		if math.Abs(x-tt.wantX) > 1e-9 || math.Abs(y-tt.wantY) > 1e-9 {
			t.Errorf("HeadingToUnitVector(%v) = (%v, %v), want (%v, %v)", tt.heading, x, y, tt.wantX, tt.wantY)
		}
	}
}

func TestRotateToFrame(t *testing.T) {
	t.Run("North course keeps axes", func(t *testing.T) {
		along, cross := RotateToFrame(1, 2, 0)
		if math.Abs(along-2) > 1e-9 || math.Abs(cross-1) > 1e-9 {
			t.Errorf("got along=%v cross=%v", along, cross)
		}
	})

	t.Run("Point ahead on an east course", func(t *testing.T) {
		along, cross := RotateToFrame(3, 0, 90)
		if math.Abs(along-3) > 1e-9 || math.Abs(cross) > 1e-9 {
			t.Errorf("got along=%v cross=%v", along, cross)
		}
	})

	t.Run("Point behind a southwest course", func(t *testing.T) {
		along, _ := RotateToFrame(1, 1, 225)
		if along >= 0 {
			t.Errorf("along = %v, want negative", along)
		}
	})
}

func TestLocalOffsetNm(t *testing.T) {
	center := LatLon{Lat: 60, Lon: 10}
	dx, dy := LocalOffsetNm(center, LatLon{Lat: 61, Lon: 11})
	if math.Abs(dx-30) > 1e-9 {
		t.Errorf("dx = %v, want 30 at 60°N", dx)
	}
	if math.Abs(dy-60) > 1e-9 {
		t.Errorf("dy = %v, want 60", dy)
	}
}
