package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/feed"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Frame is one push from the aircraft socket.
type Frame struct {
	Feed   *feed.Response `json:"feed"`
	Alerts []string       `json:"alerts"`
}

// Handlers receive stream events. Any of them may be nil.
type Handlers struct {
	OnFrame       func(Frame)
	OnFlightRules func([]airspace.FlightRulesMessage)
	OnStatus      func(level LogLevel, msg string)
}

func (h Handlers) status(level LogLevel, format string, args ...any) {
	if h.OnStatus != nil {
		h.OnStatus(level, fmt.Sprintf(format, args...))
	}
}

// socketURL turns a server base URL into the aircraft socket URL.
func socketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/aircraft"
	return u.String(), nil
}

// nextBackoff doubles d within [minBackoff, maxBackoff].
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d < minBackoff {
		return minBackoff
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// runSocket reads frames until ctx is done, reconnecting with backoff.
func runSocket(ctx context.Context, wsURL string, h Handlers) {
	backoff := minBackoff
	for {
		start := time.Now()
		err := readSocket(ctx, wsURL, h)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > maxBackoff {
			backoff = minBackoff
		}
		h.status(LogLevelWarn, "Aircraft socket closed: %v (retry in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func readSocket(ctx context.Context, wsURL string, h Handlers) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	h.status(LogLevelInfo, "Connected to %s", wsURL)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if h.OnFrame != nil {
			h.OnFrame(f)
		}
	}
}

// runFlightRules follows the flight-rules event stream until ctx is done.
func runFlightRules(ctx context.Context, baseURL string, h Handlers) {
	backoff := minBackoff
	for {
		err := readFlightRules(ctx, strings.TrimRight(baseURL, "/")+"/api/flightRules", h)
		if ctx.Err() != nil {
			return
		}
		h.status(LogLevelWarn, "Flight rules stream closed: %v (retry in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func readFlightRules(ctx context.Context, streamURL string, h Handlers) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	return scanEvents(resp.Body, func(event, data string) {
		if event != "flightRules" {
			return
		}
		msgs, err := airspace.ParseFlightRulesMessages([]byte(data))
		if err != nil {
			h.status(LogLevelWarn, "Bad flight rules event: %v", err)
			return
		}
		if h.OnFlightRules != nil {
			h.OnFlightRules(msgs)
		}
	})
}

// scanEvents splits an event stream into (event, data) pairs. Comment
// lines and retry hints are ignored; multi-line data is joined with "\n".
func scanEvents(r io.Reader, fn func(event, data string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 2<<20)

	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				fn(event, strings.Join(data, "\n"))
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended")
}
