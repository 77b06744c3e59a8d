package main

import (
	"sync"

	"github.com/unklstewy/tracon-scope/pkg/tracking"
)

// clientBuffer is how many frames a stream client may lag before frames
// are dropped for it.
const clientBuffer = 64

// Broadcaster fans flight rules messages out to stream clients and keeps
// the most recent ones for replay to clients that connect later.
type Broadcaster struct {
	mu      sync.Mutex
	ring    *tracking.RingBuffer[string]
	clients map[chan string]struct{}
}

// NewBroadcaster creates a broadcaster replaying up to size messages.
func NewBroadcaster(size int) (*Broadcaster, error) {
	ring, err := tracking.NewRingBuffer[string](size)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		ring:    ring,
		clients: make(map[chan string]struct{}),
	}, nil
}

// Publish records a message and sends it to every connected client. A
// client whose buffer is full misses the message.
func (b *Broadcaster) Publish(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring.Push(msg)
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe registers a client. It returns the replay backlog, oldest
// first, and the channel of live messages. Nothing published between the
// two is lost or duplicated.
func (b *Broadcaster) Subscribe() (backlog []string, live <-chan string, cancel func()) {
	ch := make(chan string, clientBuffer)

	b.mu.Lock()
	backlog = b.ring.Slice()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
		})
	}
	return backlog, ch, cancel
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
