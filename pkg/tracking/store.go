// Package tracking keeps per-aircraft position state between poll cycles
// and dead-reckons tracks whose upstream feed has gone stale.
package tracking

import (
	"time"

	"github.com/unklstewy/tracon-scope/pkg/adsb"
)

// HistorySize is the number of prior positions kept per track.
const HistorySize = 5

// TrackState is the stored state of one aircraft.
type TrackState struct {
	Current *PositionSample
	History *RingBuffer[PositionSample]
}

// Track is the result of applying one observation: the aircraft as
// reported plus its resolved position and history.
type Track struct {
	Aircraft adsb.Aircraft
	Position PositionSample

	// History is ordered oldest to newest
	History []PositionSample
}

// Coasting reports whether the shown position was computed rather than
// observed.
func (t Track) Coasting() bool {
	return t.Position.Source == SourceInterpolated
}

// Store holds TrackState by aircraft id. It is owned by a single poll loop
// and is not safe for concurrent use.
type Store struct {
	tracks       map[string]*TrackState
	pollInterval time.Duration
}

// NewStore creates an empty store. pollInterval is the nominal time between
// Apply calls and sizes the dead-reckoning step.
func NewStore(pollInterval time.Duration) *Store {
	return &Store{
		tracks:       make(map[string]*TrackState),
		pollInterval: pollInterval,
	}
}

// Apply runs one poll cycle. Aircraft on the ground are ignored. Tracks whose
// id is absent from the airborne set are dropped before any surviving track
// is updated. Results are returned in input order.
func (s *Store) Apply(aircraft []adsb.Aircraft, now time.Time) []Track {
	airborne := make([]adsb.Aircraft, 0, len(aircraft))
	active := make(map[string]struct{}, len(aircraft))
	for _, ac := range aircraft {
		if ac.OnGround {
			continue
		}
		airborne = append(airborne, ac)
		active[ac.ID] = struct{}{}
	}

	for id := range s.tracks {
		if _, ok := active[id]; !ok {
			delete(s.tracks, id)
		}
	}

	out := make([]Track, 0, len(airborne))
	for _, ac := range airborne {
		out = append(out, s.update(ac, now))
	}
	return out
}

func (s *Store) update(ac adsb.Aircraft, now time.Time) Track {
	state, ok := s.tracks[ac.ID]
	if !ok {
		history, _ := NewRingBuffer[PositionSample](HistorySize)
		state = &TrackState{History: history}
		s.tracks[ac.ID] = state
	}

	observed := PositionSample{
		Lat:         ac.Lat,
		Lon:         ac.Lon,
		TimestampMs: now.UnixMilli(),
		Source:      SourceObserved,
	}

	next := observed
	if state.Current != nil && state.Current.SamePosition(observed) {
		next = PredictNext(*state.Current, state.History, ac, s.pollInterval, now)
	}

	if state.Current != nil && !state.Current.SamePosition(next) {
		state.History.Push(*state.Current)
	}
	state.Current = &next

	return Track{
		Aircraft: ac,
		Position: next,
		History:  state.History.Slice(),
	}
}

// Len returns the number of live tracks.
func (s *Store) Len() int { return len(s.tracks) }

// State returns the stored state for id.
func (s *Store) State(id string) (*TrackState, bool) {
	st, ok := s.tracks[id]
	return st, ok
}
