package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unklstewy/tracon-scope/pkg/airspace"
	"github.com/unklstewy/tracon-scope/pkg/feed"
)

func TestSocketURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/ws/aircraft"},
		{base: "https://scope.example.com/", want: "wss://scope.example.com/ws/aircraft"},
		{base: "http://host/prefix", want: "ws://host/prefix/ws/aircraft"},
		{base: "ftp://host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := socketURL(tt.base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("socketURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	d := time.Duration(0)
	var got []time.Duration
	for i := 0; i < 7; i++ {
		d = nextBackoff(d)
		got = append(got, d)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff sequence = %v", got)
		}
	}
}

func TestReadSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(Frame{
			Feed:   &feed.Response{UpdatedAtMs: 42, Aircraft: []feed.Item{{ID: "a1"}}},
			Alerts: []string{"AAL1*DAL2 CA"},
		})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	wsURL, err := socketURL(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	var frames []Frame
	var statuses []string
	err = readSocket(context.Background(), wsURL, Handlers{
		OnFrame:  func(f Frame) { frames = append(frames, f) },
		OnStatus: func(level LogLevel, msg string) { statuses = append(statuses, msg) },
	})
	if err == nil {
		t.Error("expected the close to end the read loop")
	}
	if len(frames) != 1 || frames[0].Feed.UpdatedAtMs != 42 || frames[0].Alerts[0] != "AAL1*DAL2 CA" {
		t.Errorf("frames = %+v", frames)
	}
	if len(statuses) != 1 || !strings.HasPrefix(statuses[0], "Connected to ws://") {
		t.Errorf("statuses = %v", statuses)
	}

	t.Run("Cancelled context stops the reconnect loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		done := make(chan struct{})
		go func() {
			runSocket(ctx, wsURL, Handlers{})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("runSocket did not return")
		}
	})
}

func TestScanEvents(t *testing.T) {
	stream := "retry: 1000\n" +
		": connected\n\n" +
		"event: flightRules\ndata: {\"callsign\":\"N123\",\"flightRules\":\"V\"}\n\n" +
		":\n\n" +
		"data: line one\ndata: line two\n\n" +
		"event: flightRules\ndata: [{\"acid\":\"DAL9\",\"rules\":\"IFR\"}]\n\n"

	type event struct{ name, data string }
	var events []event
	err := scanEvents(strings.NewReader(stream), func(name, data string) {
		events = append(events, event{name, data})
	})
	if err == nil || err.Error() != "stream ended" {
		t.Errorf("err = %v, want stream ended", err)
	}

	want := []event{
		{"flightRules", `{"callsign":"N123","flightRules":"V"}`},
		{"message", "line one\nline two"},
		{"flightRules", `[{"acid":"DAL9","rules":"IFR"}]`},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestReadFlightRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Write([]byte("retry: 1000\n: connected\n\n"))
		w.Write([]byte("event: flightRules\ndata: {\"callsign\":\"n123\",\"flightRules\":\"I\"}\n\n"))
		w.Write([]byte("event: flightRules\ndata: not json\n\n"))
	}))
	defer srv.Close()

	var callsigns []string
	var warnings int
	readFlightRules(context.Background(), srv.URL, Handlers{
		OnFlightRules: func(msgs []airspace.FlightRulesMessage) {
			for _, m := range msgs {
				callsigns = append(callsigns, m.Key())
			}
		},
		OnStatus: func(level LogLevel, msg string) {
			if level == LogLevelWarn {
				warnings++
			}
		},
	})

	if len(callsigns) != 1 || callsigns[0] != "N123" {
		t.Errorf("callsigns = %v", callsigns)
	}
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}
