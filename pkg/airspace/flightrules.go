package airspace

import (
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Rules is a normalized flight rules label.
type Rules string

const (
	RulesIFR      Rules = "IFR"
	RulesVFR      Rules = "VFR"
	RulesDVFR     Rules = "DVFR"
	RulesVFROnTop Rules = "VFR-ON-TOP"
	RulesUnknown  Rules = "UNKNOWN"
)

// DefaultFlightRulesSize bounds the side channel when no size is given.
const DefaultFlightRulesSize = 4096

// NormalizeRules maps the flight plan rules field, or failing that the raw
// TAIS rules code, to a label.
func NormalizeRules(flightRules, rawFlightRules string) Rules {
	switch strings.ToUpper(strings.TrimSpace(flightRules)) {
	case "I", "IFR":
		return RulesIFR
	case "V", "VFR":
		return RulesVFR
	case "D", "DVFR":
		return RulesDVFR
	}
	switch strings.ToUpper(strings.TrimSpace(rawFlightRules)) {
	case "E":
		return RulesIFR
	case "V":
		return RulesVFR
	case "P":
		return RulesVFROnTop
	}
	return RulesUnknown
}

// FlightRulesMessage is one flight plan update published by a TAIS
// consumer. Acid and Rules are accepted as aliases.
type FlightRulesMessage struct {
	ReceivedAt     string `json:"receivedAt,omitempty"`
	Callsign       string `json:"callsign,omitempty"`
	Acid           string `json:"acid,omitempty"`
	Icao24         string `json:"icao24,omitempty"`
	TrackNum       string `json:"trackNum,omitempty"`
	BeaconCode     string `json:"beaconCode,omitempty"`
	FlightRules    string `json:"flightRules,omitempty"`
	Rules          string `json:"rules,omitempty"`
	RawFlightRules string `json:"rawFlightRules,omitempty"`
	RulesLabel     string `json:"rulesLabel,omitempty"`
}

// Key returns the normalized callsign the message applies to.
func (m FlightRulesMessage) Key() string {
	cs := m.Callsign
	if strings.TrimSpace(cs) == "" {
		cs = m.Acid
	}
	return normalizeCallsign(cs)
}

// Label resolves the message's rules. An explicit rulesLabel wins.
func (m FlightRulesMessage) Label() Rules {
	if l := Rules(strings.ToUpper(strings.TrimSpace(m.RulesLabel))); l != "" && l != RulesUnknown {
		return l
	}
	fr := m.FlightRules
	if strings.TrimSpace(fr) == "" {
		fr = m.Rules
	}
	return NormalizeRules(fr, m.RawFlightRules)
}

// FlightRules is the bounded callsign to flight rules side channel. It is
// filled asynchronously from ingest and read by the alert engine; an
// update that arrives after an aircraft is first evaluated only affects
// later evaluations. Safe for concurrent use.
type FlightRules struct {
	cache *lru.Cache[string, Rules]
}

// NewFlightRules creates a side channel remembering at most size callsigns.
func NewFlightRules(size int) (*FlightRules, error) {
	if size <= 0 {
		size = DefaultFlightRulesSize
	}
	cache, err := lru.New[string, Rules](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create flight rules cache: %w", err)
	}
	return &FlightRules{cache: cache}, nil
}

// Set records the rules for a callsign. Unknown labels are stored too, so
// a later VFR or UNKNOWN message clears an earlier IFR.
func (f *FlightRules) Set(callsign string, rules Rules) {
	if key := normalizeCallsign(callsign); key != "" {
		f.cache.Add(key, rules)
	}
}

// Lookup returns the recorded rules for a callsign.
func (f *FlightRules) Lookup(callsign string) (Rules, bool) {
	if f == nil {
		return "", false
	}
	return f.cache.Get(normalizeCallsign(callsign))
}

// IsIFR reports whether the callsign is known to be flying IFR.
func (f *FlightRules) IsIFR(callsign string) bool {
	r, ok := f.Lookup(callsign)
	return ok && r == RulesIFR
}

// Len returns the number of remembered callsigns.
func (f *FlightRules) Len() int {
	return f.cache.Len()
}

// Apply records every message that names a callsign and returns how many
// were recorded.
func (f *FlightRules) Apply(msgs ...FlightRulesMessage) int {
	n := 0
	for _, m := range msgs {
		key := m.Key()
		if key == "" {
			continue
		}
		f.cache.Add(key, m.Label())
		n++
	}
	return n
}

// ParseFlightRulesMessages decodes an ingest body: a single message, an
// array of messages, or an object with a "flights" array.
func ParseFlightRulesMessages(raw []byte) ([]FlightRulesMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var msgs []FlightRulesMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("failed to decode flight rules list: %w", err)
		}
		return msgs, nil
	}

	var envelope struct {
		FlightRulesMessage
		Flights []FlightRulesMessage `json:"flights"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode flight rules message: %w", err)
	}
	if envelope.Flights != nil {
		return envelope.Flights, nil
	}
	return []FlightRulesMessage{envelope.FlightRulesMessage}, nil
}

func normalizeCallsign(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
