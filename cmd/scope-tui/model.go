package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/unklstewy/tracon-scope/pkg/coordinates"
	"github.com/unklstewy/tracon-scope/pkg/scope"
)

const (
	minRadiusNm = 5.0
	maxRadiusNm = 250.0

	// infoWidth is reserved to the right of the scope for the info panel.
	infoWidth = 34
)

type model struct {
	src      source
	interval time.Duration

	radiusNm  float64
	panX      float64
	panY      float64
	ringNm    float64
	showWx    bool
	wxLevels  [7]bool
	showHelp  bool
	width     int
	height    int
	cursor    *coordinates.LatLon
	lastFrame frame
	fetchedAt time.Time
	err       error
}

func newModel(src source, radiusNm float64, interval time.Duration) model {
	m := model{
		src:      src,
		interval: interval,
		radiusNm: clampRadius(radiusNm),
		ringNm:   ringSpacing(radiusNm),
		showWx:   true,
		width:    120,
		height:   40,
	}
	for i := range m.wxLevels {
		m.wxLevels[i] = true
	}
	return m
}

func clampRadius(r float64) float64 {
	if math.IsNaN(r) || r < minRadiusNm {
		return minRadiusNm
	}
	return math.Min(r, maxRadiusNm)
}

// ringSpacing keeps roughly five rings on screen at any range.
func ringSpacing(radiusNm float64) float64 {
	for _, s := range []float64{2, 5, 10, 20, 50} {
		if radiusNm/s <= 6 {
			return s
		}
	}
	return 50
}

type frameMsg struct {
	frame frame
	err   error
	at    time.Time
}

type tickMsg time.Time

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) fetch() tea.Cmd {
	src, radius := m.src, m.radiusNm
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		f, err := src.Frame(ctx, radius)
		return frameMsg{frame: f, err: err, at: time.Now()}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick(m.interval))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case frameMsg:
		m.fetchedAt = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.lastFrame = msg.frame
		}

	case tickMsg:
		return m, tea.Batch(m.fetch(), tick(m.interval))

	case tea.MouseMsg:
		c := newCanvas(m.scopeSize())
		// Canvas cells start one row and one column in, past the border.
		x := (float64(msg.X-1) + 0.5) * aspectRatio
		y := float64(msg.Y-2) + 0.5
		if pos, ok := c.projector(m.view()).Unproject(x, y); ok {
			m.cursor = &pos
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.err != nil {
		m.err = nil
	}

	switch key := msg.String(); key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "+", "=":
		m.radiusNm = clampRadius(m.radiusNm / 1.5)
		m.ringNm = ringSpacing(m.radiusNm)
		return m, m.fetch()
	case "-", "_":
		m.radiusNm = clampRadius(m.radiusNm * 1.5)
		m.ringNm = ringSpacing(m.radiusNm)
		return m, m.fetch()
	case "up", "k":
		m.panY += 2
	case "down", "j":
		m.panY -= 2
	case "left", "h":
		m.panX += 4
	case "right", "l":
		m.panX -= 4
	case "0":
		m.panX, m.panY = 0, 0
	case "w":
		m.showWx = !m.showWx
	case "?":
		m.showHelp = !m.showHelp
	case "1", "2", "3", "4", "5", "6":
		level := int(key[0] - '0')
		m.wxLevels[level] = !m.wxLevels[level]
	}
	return m, nil
}

// scopeSize returns the canvas size that fits the terminal.
func (m model) scopeSize() (int, int) {
	w := m.width - infoWidth - 2
	if w < 40 {
		w = 40
	}
	h := m.height - 4
	if h < 15 {
		h = 15
	}
	return w, h
}

func (m model) view() scope.View {
	v := scope.View{RadiusNm: m.radiusNm, PanX: m.panX, PanY: m.panY}
	if f := m.lastFrame.feed; f != nil {
		v.Center = coordinates.LatLon{Lat: f.Center.Lat, Lon: f.Center.Lon}
	}
	return v
}

func (m model) levelFilter() scope.LevelFilter {
	levels := m.wxLevels
	return func(level int) bool {
		return level >= 1 && level <= 6 && levels[level]
	}
}

// drawScope renders the radar canvas for the current frame.
func (m model) drawScope() *canvas {
	c := newCanvas(m.scopeSize())
	p := c.projector(m.view())

	if m.showWx && m.lastFrame.grid != nil {
		c.drawWeather(p, m.lastFrame.grid, m.levelFilter())
	}
	c.drawRings(p, m.ringNm)
	if f := m.lastFrame.feed; f != nil {
		c.drawTargets(p, f.Aircraft, alertingCallsigns(m.lastFrame.alerts))
	}
	return c
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m model) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("TRACON SCOPE"))
	s.WriteString("\n")

	panel := m.renderInfo()
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.drawScope().render(), "  ", panel))
	s.WriteString("\n")

	if m.err != nil {
		s.WriteString(errStyle.Render("Error: " + m.err.Error()))
	} else {
		s.WriteString(helpStyle.Render("+/-: range  arrows: pan  0: recenter  w: weather  1-6: levels  ?: help  q: quit"))
	}
	return s.String()
}

func (m model) renderInfo() string {
	var info strings.Builder

	info.WriteString(headerStyle.Render("STATUS"))
	info.WriteString("\n")
	v := m.view()
	info.WriteString(fmt.Sprintf("Center: %.4f°, %.4f°\n", v.Center.Lat, v.Center.Lon))
	info.WriteString(fmt.Sprintf("Range:  %.0f NM (rings %.0f)\n", m.radiusNm, m.ringNm))

	if f := m.lastFrame.feed; f != nil {
		info.WriteString(fmt.Sprintf("Tracks: %d\n", len(f.Aircraft)))
		if f.UpdatedAtMs > 0 {
			info.WriteString(fmt.Sprintf("Feed:   %s\n", humanize.Time(time.UnixMilli(f.UpdatedAtMs))))
		} else {
			info.WriteString("Feed:   waiting\n")
		}
	} else {
		info.WriteString("Tracks: -\n")
	}

	switch {
	case !m.showWx:
		info.WriteString("WX:     off\n")
	case m.lastFrame.grid != nil:
		g := m.lastFrame.grid
		info.WriteString(fmt.Sprintf("WX:     %s peak %d %s\n", g.Region, g.PeakLevel(), m.levelString()))
	case m.lastFrame.wxErr != nil:
		info.WriteString("WX:     unavailable\n")
	default:
		info.WriteString("WX:     none\n")
	}

	if m.cursor != nil {
		info.WriteString(fmt.Sprintf("Cursor: %.4f°, %.4f°\n", m.cursor.Lat, m.cursor.Lon))
	}
	info.WriteString("\n")

	info.WriteString(headerStyle.Render("ALERTS"))
	info.WriteString("\n")
	if len(m.lastFrame.alerts) == 0 {
		info.WriteString(helpStyle.Render("none"))
		info.WriteString("\n")
	}
	for _, a := range m.lastFrame.alerts {
		info.WriteString(alertStyle.Render(a))
		info.WriteString("\n")
	}

	if m.showHelp {
		info.WriteString("\n")
		info.WriteString(headerStyle.Render("LEGEND"))
		info.WriteString("\n")
		info.WriteString(fmt.Sprintf("%c track  %c coast  %c alert\n", glyphTarget, glyphCoast, glyphAlert))
		info.WriteString(fmt.Sprintf("%c%c%c wx 1-3/4-6\n", glyphWxLight, glyphWxMedium, glyphWxHeavy))
		info.WriteString("Data block: CALLSIGN / ALT SPD WAKE\n")
	}
	if !m.fetchedAt.IsZero() {
		info.WriteString("\n")
		info.WriteString(helpStyle.Render("refreshed " + humanize.Time(m.fetchedAt)))
	}

	return lipgloss.NewStyle().Width(infoWidth).Render(info.String())
}

func (m model) levelString() string {
	var b strings.Builder
	for level := 1; level <= 6; level++ {
		if m.wxLevels[level] {
			b.WriteByte(byte('0' + level))
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
