// Package recat maps ICAO aircraft type designators to FAA consolidated
// wake turbulence (CWT) categories.
package recat

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Category is a consolidated wake turbulence category.
type Category string

const (
	CategoryA        Category = "A" // Super
	CategoryB        Category = "B" // Upper Heavy
	CategoryC        Category = "C" // Lower Heavy
	CategoryD        Category = "D" // Non-Pairwise Heavy
	CategoryE        Category = "E" // B757
	CategoryF        Category = "F" // Upper Large
	CategoryG        Category = "G" // Lower Large
	CategoryH        Category = "H" // Upper Small
	CategoryI        Category = "I" // Lower Small
	CategoryNoWeight Category = "NOWGT"
	CategoryUnknown  Category = "UNKNOWN"
)

var validCategories = map[Category]bool{
	CategoryA: true, CategoryB: true, CategoryC: true, CategoryD: true,
	CategoryE: true, CategoryF: true, CategoryG: true, CategoryH: true,
	CategoryI: true, CategoryNoWeight: true, CategoryUnknown: true,
}

//go:embed recat_cwt.json
var defaultTable []byte

type cwtEntry struct {
	CWT           string `json:"cwt"`
	DesignatorRaw string `json:"designator_raw"`
}

type cwtData struct {
	Aircraft map[string]cwtEntry `json:"aircraft"`
}

// Table is an immutable type designator lookup.
type Table struct {
	byType map[string]Category
}

// Default returns the table built from the embedded CWT data.
func Default() (*Table, error) {
	return Load(bytes.NewReader(defaultTable))
}

// Load parses a CWT document of the form
// {"aircraft": {"B738": {"cwt": "F", "designator_raw": "B738"}}}.
// Entries with an unrecognized category are skipped.
func Load(r io.Reader) (*Table, error) {
	var data cwtData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse CWT data: %w", err)
	}

	t := &Table{byType: make(map[string]Category, len(data.Aircraft))}
	for designator, entry := range data.Aircraft {
		cat := Category(normalize(entry.CWT))
		if !validCategories[cat] {
			continue
		}
		t.register(designator, cat)

		// Raw designators sometimes carry trailing asterisks for variants
		if entry.DesignatorRaw != "" {
			raw := normalize(strings.TrimRight(entry.DesignatorRaw, "*"))
			if len(raw) == 4 && raw == normalize(designator) {
				t.register(raw, cat)
			}
		}
	}
	return t, nil
}

func (t *Table) register(designator string, cat Category) {
	if d := normalize(designator); d != "" {
		t.byType[d] = cat
	}
}

// Lookup returns the category for an aircraft type, or CategoryUnknown.
// A nil table always answers CategoryUnknown.
func (t *Table) Lookup(aircraftType string) Category {
	if t == nil {
		return CategoryUnknown
	}
	if cat, ok := t.byType[normalize(aircraftType)]; ok {
		return cat
	}
	return CategoryUnknown
}

// Len returns the number of known designators.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byType)
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
