package airspace

import (
	"github.com/unklstewy/tracon-scope/pkg/feed"
)

// TargetsFromFeed adapts a feed snapshot for alert evaluation. Targets
// are positioned at the displayed (possibly coasted) position.
func TargetsFromFeed(resp *feed.Response) []Target {
	if resp == nil {
		return nil
	}
	targets := make([]Target, 0, len(resp.Aircraft))
	for _, item := range resp.Aircraft {
		t := Target{
			AltitudeFt: item.AltitudeAmslFt,
			Position:   item.Position.LatLon(),
		}
		if item.Callsign != nil {
			t.Callsign = *item.Callsign
		}
		if item.Squawk != nil {
			t.Squawk = *item.Squawk
		}
		targets = append(targets, t)
	}
	return targets
}
