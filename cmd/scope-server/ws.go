package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unklstewy/tracon-scope/pkg/feed"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Frames queued per socket before the socket is dropped.
	socketBuffer = 4
)

// AircraftFrame is one websocket push: a feed snapshot and its alerts.
type AircraftFrame struct {
	Feed   *feed.Response `json:"feed"`
	Alerts []string       `json:"alerts"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsHub evaluates each snapshot once and fans the encoded frame out to
// every connected socket.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

func newWsHub(logger *slog.Logger) *wsHub {
	return &wsHub{clients: make(map[*wsClient]struct{}), logger: logger}
}

// run pushes a frame for every snapshot until ctx is done.
func (h *wsHub) run(ctx context.Context, src FeedSource, frame func(*feed.Response) AircraftFrame) {
	updates, cancel := src.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-updates:
			if !ok {
				return
			}
			b, err := json.Marshal(frame(resp))
			if err != nil {
				h.logger.Error("Failed to encode aircraft frame", "error", err)
				continue
			}
			h.broadcast(b)
		}
	}
}

func (h *wsHub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// Too slow; the write pump closes the socket.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// add registers a client and queues the first frame.
func (h *wsHub) add(c *wsClient, first []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.send <- first
	h.clients[c] = struct{}{}
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *wsHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS configuration.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) aircraftFrame(resp *feed.Response) AircraftFrame {
	return AircraftFrame{Feed: resp, Alerts: s.evaluate(resp).Alerts}
}

func (s *Server) handleAircraftSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Unable to upgrade aircraft websocket", "error", err)
		return
	}

	first, err := json.Marshal(s.aircraftFrame(s.feed.Latest()))
	if err != nil {
		s.logger.Error("Failed to encode aircraft frame", "error", err)
		conn.Close()
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, socketBuffer)}
	s.hub.add(c, first)
	s.metrics.StreamClientAdded()

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards client messages and notices when the socket closes.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.hub.remove(c)
		s.metrics.StreamClientRemoved()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
