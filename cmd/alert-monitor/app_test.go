package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rivo/tview"

	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/feed"
)

func ptr[T any](v T) *T { return &v }

func testFrame() Frame {
	return Frame{
		Feed: &feed.Response{
			UpdatedAtMs: 1700000000000,
			Aircraft: []feed.Item{
				{ID: "c3", Callsign: ptr("UAL3"), AltitudeAmslFt: ptr(9000.0), GroundspeedKts: ptr(280.0)},
				{ID: "a1", Callsign: ptr("aal1"), AltitudeAmslFt: ptr(3000.0), GroundspeedKts: ptr(180.0), TrackDeg: ptr(5.0), WakeCategory: "D"},
				{ID: "d4", AltitudeAmslFt: ptr(12000.0), Coast: true},
				{ID: "b2", Callsign: ptr("DAL2"), AltitudeAmslFt: ptr(3400.0), GroundspeedKts: ptr(320.0), Squawk: ptr("4521")},
			},
		},
		Alerts: []string{"AAL1*DAL2 CA"},
	}
}

func callsigns(rows []TrafficRow) string {
	var out []string
	for _, r := range rows {
		out = append(out, r.Callsign)
	}
	return strings.Join(out, ",")
}

func TestTrafficRows(t *testing.T) {
	rules, err := airspace.NewFlightRules(16)
	if err != nil {
		t.Fatal(err)
	}
	rules.Set("UAL3", airspace.RulesIFR)

	tests := []struct {
		name       string
		key        SortKey
		alertsOnly bool
		want       string
	}{
		{name: "Alerting traffic sorts first then by callsign", key: SortCallsign, want: "AAL1,DAL2,UAL3,d4"},
		{name: "Altitude sort puts the highest first", key: SortAltitude, want: "DAL2,AAL1,d4,UAL3"},
		{name: "Speed sort puts missing speeds last", key: SortSpeed, want: "DAL2,AAL1,UAL3,d4"},
		{name: "Alerting only", key: SortCallsign, alertsOnly: true, want: "AAL1,DAL2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := trafficRows(testFrame(), rules, tt.key, tt.alertsOnly)
			if got := callsigns(rows); got != tt.want {
				t.Errorf("order = %s, want %s", got, tt.want)
			}
		})
	}

	t.Run("Cells carry formatted values", func(t *testing.T) {
		rows := trafficRows(testFrame(), rules, SortCallsign, false)
		aal := fmt.Sprint(rows[0].Cells)
		if aal != "[AAL1 - D 3000 180 005 - -  ]" {
			t.Errorf("AAL1 cells = %s", aal)
		}
		if rows[2].Cells[8] != "IFR" {
			t.Errorf("UAL3 rules = %q", rows[2].Cells[8])
		}
		if !rows[3].Coast || rows[3].Cells[9] != "CST" {
			t.Errorf("d4 row = %+v", rows[3])
		}
	})

	t.Run("No feed yields no rows", func(t *testing.T) {
		if rows := trafficRows(Frame{}, rules, SortCallsign, false); rows != nil {
			t.Errorf("rows = %v", rows)
		}
	})
}

func TestFillTable(t *testing.T) {
	table := tview.NewTable()
	fillTable(table, trafficRows(testFrame(), nil, SortCallsign, false))
	if table.GetRowCount() != 5 {
		t.Fatalf("rows = %d, want header plus 4", table.GetRowCount())
	}
	if got := table.GetCell(0, 0).Text; got != "CALLSIGN" {
		t.Errorf("header = %q", got)
	}
	if got := table.GetCell(1, 0).Text; got != "AAL1" {
		t.Errorf("first row = %q", got)
	}
}

func TestDiffAlerts(t *testing.T) {
	active := map[string]bool{"N1 012 LA": true, "AAL1*DAL2 CA": true}
	added, cleared := diffAlerts(active, []string{"AAL1*DAL2 CA", "N9 008 LA"})
	if fmt.Sprint(added) != "[N9 008 LA]" || fmt.Sprint(cleared) != "[N1 012 LA]" {
		t.Errorf("added %v, cleared %v", added, cleared)
	}
}

func TestLogManager(t *testing.T) {
	lm := NewLogManager(2, logging.Discard())
	lm.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }

	lm.AddLog(LogLevelInfo, "one")
	lm.AddLog(LogLevelWarn, "two")
	lm.AddLog(LogLevelError, "three [red]")

	msgs := lm.Messages()
	if len(msgs) != 2 || msgs[0].Message != "two" || msgs[1].Level != LogLevelError {
		t.Fatalf("messages = %+v", msgs)
	}
	text := lm.render()
	if !strings.Contains(text, "12:30:00") || !strings.Contains(text, "[yellow]WARN [-] two") {
		t.Errorf("render = %q", text)
	}
}
