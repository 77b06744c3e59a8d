package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/feed"
)

// SortKey orders the traffic table.
type SortKey int

const (
	SortCallsign SortKey = iota
	SortAltitude
	SortSpeed
)

func (k SortKey) String() string {
	switch k {
	case SortAltitude:
		return "altitude"
	case SortSpeed:
		return "speed"
	}
	return "callsign"
}

var trafficHeader = []string{"CALLSIGN", "TYPE", "WK", "ALT", "GS", "TRK", "SQK", "DEST", "RULES", ""}

// TrafficRow is one line of the traffic table.
type TrafficRow struct {
	Callsign string
	Cells    []string
	Alerting bool
	Coast    bool
	alt      float64
	gs       float64
}

// App is the alert monitor UI.
type App struct {
	tviewApp *tview.Application
	traffic  *tview.Table
	alerts   *tview.TextView
	status   *tview.TextView
	logs     *LogManager
	server   string

	mu         sync.Mutex
	frame      Frame
	receivedAt time.Time
	frames     int
	lastAlerts map[string]bool
	rules      *airspace.FlightRules
	sortKey    SortKey
	alertsOnly bool
}

// NewApp builds the UI. rules holds the flight rules learned from the
// server's stream.
func NewApp(server string, rules *airspace.FlightRules, logs *LogManager) *App {
	a := &App{
		tviewApp:   tview.NewApplication(),
		logs:       logs,
		server:     server,
		rules:      rules,
		lastAlerts: make(map[string]bool),
	}

	a.traffic = tview.NewTable().SetFixed(1, 0).SetSelectable(true, false)
	a.traffic.SetBorder(true).SetTitle(" Traffic ")

	a.alerts = tview.NewTextView().SetDynamicColors(true)
	a.alerts.SetBorder(true).SetTitle(" Alerts ")

	a.status = tview.NewTextView().SetDynamicColors(true)
	a.status.SetBorder(true).SetTitle(" Status ")

	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.alerts, 9, 0, false).
		AddItem(a.status, 9, 0, false).
		AddItem(logs.View(), 0, 1, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.traffic, 0, 3, true).
		AddItem(sidebar, 0, 2, false)

	a.tviewApp.SetRoot(root, true)
	a.tviewApp.SetInputCapture(a.handleKeyboard)
	a.render()
	return a
}

// Run blocks until the user quits.
func (a *App) Run() error {
	go a.refreshLoop()
	return a.tviewApp.Run()
}

// Stop ends Run.
func (a *App) Stop() {
	a.tviewApp.Stop()
}

// refreshLoop redraws once a second so "updated N ago" stays current.
func (a *App) refreshLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for range t.C {
		a.tviewApp.QueueUpdateDraw(a.renderStatus)
	}
}

func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEscape || event.Rune() == 'q':
		a.Stop()
		return nil
	case event.Rune() == 's':
		a.mu.Lock()
		a.sortKey = (a.sortKey + 1) % 3
		key := a.sortKey
		a.mu.Unlock()
		a.logs.AddLog(LogLevelDebug, "Sorting by "+key.String())
		a.render()
		return nil
	case event.Rune() == 'a':
		a.mu.Lock()
		a.alertsOnly = !a.alertsOnly
		only := a.alertsOnly
		a.mu.Unlock()
		a.logs.AddLog(LogLevelDebug, fmt.Sprintf("Alerting traffic only: %v", only))
		a.render()
		return nil
	}
	return event
}

// HandleFrame stores a pushed frame and logs alerts that appeared or
// cleared since the previous one.
func (a *App) HandleFrame(f Frame) {
	a.mu.Lock()
	a.frame = f
	a.receivedAt = time.Now()
	a.frames++
	added, cleared := diffAlerts(a.lastAlerts, f.Alerts)
	a.lastAlerts = make(map[string]bool, len(f.Alerts))
	for _, alert := range f.Alerts {
		a.lastAlerts[alert] = true
	}
	a.mu.Unlock()

	for _, alert := range added {
		a.logs.AddLog(LogLevelWarn, "Alert: "+alert)
	}
	for _, alert := range cleared {
		a.logs.AddLog(LogLevelInfo, "Cleared: "+alert)
	}
	a.tviewApp.QueueUpdateDraw(a.render)
}

// HandleFlightRules records flight rules from the event stream.
func (a *App) HandleFlightRules(msgs []airspace.FlightRulesMessage) {
	n := a.rules.Apply(msgs...)
	if n > 0 {
		a.logs.AddLog(LogLevelDebug, fmt.Sprintf("Flight rules: %d updated (%d known)", n, a.rules.Len()))
	}
	a.tviewApp.QueueUpdateDraw(a.render)
}

// HandleStatus logs a connection event.
func (a *App) HandleStatus(level LogLevel, msg string) {
	a.logs.AddLog(level, msg)
	a.tviewApp.QueueUpdateDraw(a.renderStatus)
}

func (a *App) render() {
	a.mu.Lock()
	rows := trafficRows(a.frame, a.rules, a.sortKey, a.alertsOnly)
	alerts := append([]string(nil), a.frame.Alerts...)
	a.mu.Unlock()

	fillTable(a.traffic, rows)

	var b strings.Builder
	if len(alerts) == 0 {
		b.WriteString("[green]No alerts[-]\n")
	}
	for _, alert := range alerts {
		color := "yellow"
		if strings.HasSuffix(alert, " CA") {
			color = "red"
		}
		fmt.Fprintf(&b, "[%s::b]%s[-::-]\n", color, tview.Escape(alert))
	}
	a.alerts.SetText(b.String())

	a.renderStatus()
}

func (a *App) renderStatus() {
	a.mu.Lock()
	defer a.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]SERVER:[-] [white]%s[-]\n", tview.Escape(a.server))
	if resp := a.frame.Feed; resp != nil {
		fmt.Fprintf(&b, "[gray]Center:[-] [white]%.4f°, %.4f°[-]\n", resp.Center.Lat, resp.Center.Lon)
		fmt.Fprintf(&b, "[gray]Radius:[-] [white]%.0f nm[-]\n", resp.RadiusNm)
		fmt.Fprintf(&b, "[gray]Tracks:[-] [white]%d[-]\n", len(resp.Aircraft))
		if resp.UpdatedAtMs > 0 {
			fmt.Fprintf(&b, "[gray]Feed:[-]   [white]%s[-]\n", humanize.Time(time.UnixMilli(resp.UpdatedAtMs)))
		}
	} else {
		b.WriteString("[gray]Waiting for first frame[-]\n")
	}
	if !a.receivedAt.IsZero() {
		fmt.Fprintf(&b, "[gray]Frames:[-] [white]%s[-] [gray]last %s[-]\n", humanize.Comma(int64(a.frames)), humanize.Time(a.receivedAt))
	}
	fmt.Fprintf(&b, "[gray]Sort:[-] [white]%s[-]  [gray]s/a/q[-]\n", a.sortKey)
	a.status.SetText(b.String())
}

// trafficRows builds the table rows for a frame.
func trafficRows(f Frame, rules *airspace.FlightRules, key SortKey, alertsOnly bool) []TrafficRow {
	if f.Feed == nil {
		return nil
	}
	alerting := alertingCallsigns(f.Alerts)

	rows := make([]TrafficRow, 0, len(f.Feed.Aircraft))
	for _, item := range f.Feed.Aircraft {
		cs := callsignOf(item)
		if alertsOnly && !alerting[cs] {
			continue
		}

		rulesLabel := ""
		if rules != nil {
			if r, ok := rules.Lookup(cs); ok {
				rulesLabel = string(r)
			}
		}

		row := TrafficRow{
			Callsign: cs,
			Alerting: alerting[cs],
			Coast:    item.Coast,
			alt:      valueOr(item.AltitudeAmslFt, math.Inf(-1)),
			gs:       valueOr(item.GroundspeedKts, math.Inf(-1)),
		}
		flag := ""
		if item.Coast {
			flag = "CST"
		}
		row.Cells = []string{
			cs,
			stringOr(item.AircraftTypeIcao, "-"),
			string(item.WakeCategory),
			formatFloat(item.AltitudeAmslFt, "%.0f"),
			formatFloat(item.GroundspeedKts, "%.0f"),
			formatFloat(item.TrackDeg, "%03.0f"),
			stringOr(item.Squawk, "-"),
			stringOr(item.DestinationIata, "-"),
			rulesLabel,
			flag,
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Alerting != rows[j].Alerting {
			return rows[i].Alerting
		}
		switch key {
		case SortAltitude:
			if rows[i].alt != rows[j].alt {
				return rows[i].alt > rows[j].alt
			}
		case SortSpeed:
			if rows[i].gs != rows[j].gs {
				return rows[i].gs > rows[j].gs
			}
		}
		return rows[i].Callsign < rows[j].Callsign
	})
	return rows
}

func fillTable(table *tview.Table, rows []TrafficRow) {
	table.Clear()
	for col, h := range trafficHeader {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	for i, row := range rows {
		color := tcell.ColorWhite
		switch {
		case row.Alerting:
			color = tcell.ColorRed
		case row.Coast:
			color = tcell.ColorGray
		}
		for col, text := range row.Cells {
			table.SetCell(i+1, col, tview.NewTableCell(text).SetTextColor(color))
		}
	}
}

// diffAlerts returns the alerts in next that were not active and the
// active alerts missing from next.
func diffAlerts(active map[string]bool, next []string) (added, cleared []string) {
	present := make(map[string]bool, len(next))
	for _, alert := range next {
		present[alert] = true
		if !active[alert] {
			added = append(added, alert)
		}
	}
	for alert := range active {
		if !present[alert] {
			cleared = append(cleared, alert)
		}
	}
	sort.Strings(cleared)
	return added, cleared
}

// alertingCallsigns extracts callsigns from labels such as "N123 012 LA"
// and "AAL1*DAL2 CA".
func alertingCallsigns(alerts []string) map[string]bool {
	out := make(map[string]bool)
	for _, alert := range alerts {
		fields := strings.Fields(alert)
		if len(fields) == 0 {
			continue
		}
		for _, cs := range strings.Split(fields[0], "*") {
			out[cs] = true
		}
	}
	return out
}

func callsignOf(item feed.Item) string {
	if item.Callsign != nil && strings.TrimSpace(*item.Callsign) != "" {
		return strings.ToUpper(strings.TrimSpace(*item.Callsign))
	}
	return item.ID
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func formatFloat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
