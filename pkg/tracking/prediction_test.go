package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/unklstewy/tracon-scope/pkg/adsb"
	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

func floatPtr(f float64) *float64 { return &f }

func strPtr(s string) *string { return &s }

func historyOf(t *testing.T, samples ...PositionSample) *RingBuffer[PositionSample] {
	t.Helper()
	rb, err := NewRingBuffer[PositionSample](HistorySize)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range samples {
		rb.Push(s)
	}
	return rb
}

// TestPredictNext tests the dead-reckoning fallback order.
func TestPredictNext(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	current := PositionSample{Lat: 35.0, Lon: -80.0, TimestampMs: 1, Source: SourceObserved}

	t.Run("Repeats the last displacement when history moved", func(t *testing.T) {
		history := historyOf(t, PositionSample{Lat: 34.99, Lon: -80.02})
		ac := adsb.Aircraft{GroundspeedKts: floatPtr(400), TrackDeg: floatPtr(180)}

		got := PredictNext(current, history, ac, 5*time.Second, now)

		if math.Abs(got.Lat-35.01) > 1e-9 || math.Abs(got.Lon-(-79.98)) > 1e-9 {
			t.Errorf("Expected (35.01, -79.98), got (%f, %f)", got.Lat, got.Lon)
		}
		if got.Source != SourceInterpolated {
			t.Errorf("Expected interpolated source, got %s", got.Source)
		}
		if got.TimestampMs != now.UnixMilli() {
			t.Errorf("Expected timestamp %d, got %d", now.UnixMilli(), got.TimestampMs)
		}
	})

	t.Run("Projects along track when history has no displacement", func(t *testing.T) {
		history := historyOf(t, PositionSample{Lat: 35.0, Lon: -80.0})
		ac := adsb.Aircraft{GroundspeedKts: floatPtr(360), TrackDeg: floatPtr(90)}

		got := PredictNext(current, history, ac, 5*time.Second, now)

		// 360 kts for 5 s = 0.5 nm
		d := coordinates.DistanceNm(current.LatLon(), got.LatLon())
		if math.Abs(d-0.5) > 1e-6 {
			t.Errorf("Expected 0.5 nm, got %f", d)
		}
		if b := coordinates.Bearing(current.LatLon(), got.LatLon()); math.Abs(b-90) > 0.01 {
			t.Errorf("Expected bearing 90, got %f", b)
		}
	})

	t.Run("Applies the turn rate over the interval", func(t *testing.T) {
		ac := adsb.Aircraft{
			GroundspeedKts:     floatPtr(360),
			TrackDeg:           floatPtr(350),
			TrackRateDegPerSec: floatPtr(3),
		}

		got := PredictNext(current, historyOf(t), ac, 5*time.Second, now)

		// 350 + 3*5 = 365 -> 5
		if b := coordinates.Bearing(current.LatLon(), got.LatLon()); math.Abs(b-5) > 0.01 {
			t.Errorf("Expected bearing 5, got %f", b)
		}
	})

	t.Run("Holds position without kinematics", func(t *testing.T) {
		ac := adsb.Aircraft{TrackDeg: floatPtr(90)}

		got := PredictNext(current, historyOf(t), ac, 5*time.Second, now)

		if got.Lat != current.Lat || got.Lon != current.Lon {
			t.Errorf("Expected unchanged position, got (%f, %f)", got.Lat, got.Lon)
		}
		if got.Source != SourceInterpolated {
			t.Errorf("Expected interpolated source, got %s", got.Source)
		}
	})

	t.Run("Zero groundspeed holds position", func(t *testing.T) {
		ac := adsb.Aircraft{GroundspeedKts: floatPtr(0), TrackDeg: floatPtr(90)}

		got := PredictNext(current, historyOf(t), ac, 5*time.Second, now)

		if !got.SamePosition(current) {
			t.Errorf("Expected unchanged position, got (%f, %f)", got.Lat, got.Lon)
		}
	})
}
