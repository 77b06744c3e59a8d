package tracking

import (
	"time"

	"github.com/unklstewy/tracon-scope/pkg/adsb"
	"github.com/unklstewy/tracon-scope/pkg/coordinates"
)

// Source tells whether a sample was reported by the feed or computed.
type Source string

const (
	SourceObserved     Source = "observed"
	SourceInterpolated Source = "interpolated"
)

// PositionSample is one position of a track. Samples are values and are
// never modified after creation.
type PositionSample struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	TimestampMs int64   `json:"timestampMs"`
	Source      Source  `json:"source"`
}

// LatLon returns the sample position.
func (p PositionSample) LatLon() coordinates.LatLon {
	return coordinates.LatLon{Lat: p.Lat, Lon: p.Lon}
}

// SamePosition reports exact lat/lon equality. Timestamps and source are
// ignored.
func (p PositionSample) SamePosition(o PositionSample) bool {
	return p.Lat == o.Lat && p.Lon == o.Lon
}

// PredictNext dead-reckons a track whose feed repeated the last reported
// position. It tries, in order:
//
//  1. repeat the last true displacement (current minus newest history entry)
//  2. project along the great circle from groundspeed and track, turning by
//     trackRate over the interval when a turn rate is known
//  3. hold the position
//
// The result is always marked interpolated and stamped with now.
func PredictNext(current PositionSample, history *RingBuffer[PositionSample], ac adsb.Aircraft, interval time.Duration, now time.Time) PositionSample {
	out := PositionSample{
		Lat:         current.Lat,
		Lon:         current.Lon,
		TimestampMs: now.UnixMilli(),
		Source:      SourceInterpolated,
	}

	if previous, ok := history.Last(); ok {
		dLat := current.Lat - previous.Lat
		dLon := current.Lon - previous.Lon
		if dLat != 0 || dLon != 0 {
			out.Lat = current.Lat + dLat
			out.Lon = current.Lon + dLon
			return out
		}
	}

	if ac.GroundspeedKts != nil && *ac.GroundspeedKts != 0 && ac.TrackDeg != nil {
		intervalMs := float64(interval.Milliseconds())
		distanceNm := *ac.GroundspeedKts * intervalMs / 3_600_000

		turnRate := 0.0
		if ac.TrackRateDegPerSec != nil {
			turnRate = *ac.TrackRateDegPerSec
		}
		course := coordinates.NormalizeHeading(*ac.TrackDeg + turnRate*intervalMs/1000)

		dest := coordinates.DestinationFromTrack(current.LatLon(), course, distanceNm)
		out.Lat = dest.Lat
		out.Lon = dest.Lon
	}

	return out
}
