package pool

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tkasuga/apppool/internal/protocol"
)

// AdminEventFeed broadcasts lifecycle events (process attach/detach, group
// restart, OOBW) to connected admin websocket clients, per spec.md §4.6's
// inspect() surface extended with a live feed for operators who don't want
// to poll Inspect().
type AdminEventFeed struct {
	codec    protocol.Codec
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan protocol.Event
}

// NewAdminEventFeed builds a feed using the given body codec.
func NewAdminEventFeed(codec protocol.Codec) *AdminEventFeed {
	return &AdminEventFeed{
		codec:   codec,
		clients: make(map[*websocket.Conn]chan protocol.Event),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (f *AdminEventFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan protocol.Event, 32)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		_ = conn.Close()
	}()

	for ev := range ch {
		data, err := ev.Marshal(f.codec)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Publish fans ev out to every connected client without blocking the
// caller on a slow reader; a client whose buffer is full drops the event
// rather than stalling the pool's deferred-action runner.
func (f *AdminEventFeed) Publish(ev protocol.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close disconnects every client.
func (f *AdminEventFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		close(ch)
		_ = conn.Close()
	}
	f.clients = make(map[*websocket.Conn]chan protocol.Event)
}
