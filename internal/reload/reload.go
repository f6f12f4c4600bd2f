// Package reload implements the live-reload websocket broadcaster of spec
// §4.7: a register/unregister/broadcast hub adapted from the teacher's
// internal/websocket/dag_streamer.go, but carrying a single fixed text
// message instead of a typed event stream, with the configured subprotocol
// negotiated when a client offers it (handshakes offering no subprotocol are
// accepted too) and broadcasts gated by trigger-path matching the way
// original_source/src/reloader.rs's "ends_with(main.js)" check does.
package reload

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ocx/devserver/internal/invalidation"
	"github.com/ocx/devserver/internal/logging"
	"github.com/ocx/devserver/internal/metrics"
)

// Broadcaster manages client connections and fans out reload notices.
type Broadcaster struct {
	subprotocol string
	message     []byte
	triggers    []string

	upgrader websocket.Upgrader

	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan struct{}

	mu      sync.RWMutex
	metrics *metrics.Metrics
	logger  *log.Logger
}

// New constructs a Broadcaster. subprotocol is negotiated during the
// websocket handshake; message is the fixed payload sent on every trigger
// match; triggers are path suffixes (e.g. "main.js") that cause a published
// invalidation to fire a reload.
func New(subprotocol, message string, triggers []string, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		subprotocol: subprotocol,
		message:     []byte(message),
		triggers:    triggers,
		upgrader: websocket.Upgrader{
			CheckOrigin:  func(r *http.Request) bool { return true },
			Subprotocols: []string{subprotocol},
		},
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan struct{}, 256),
		metrics:    m,
		logger:     logging.New("reload"),
	}
}

// Run owns the client set for its lifetime: registrations, unregistrations,
// and broadcast fan-out all happen on this goroutine, so no lock is needed
// around client reads/writes to the map itself.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return ctx.Err()
		case conn := <-b.register:
			b.clients[conn] = true
			b.updateClientGauge()
		case conn := <-b.unregister:
			if _, ok := b.clients[conn]; ok {
				delete(b.clients, conn)
				_ = conn.Close()
				b.updateClientGauge()
			}
		case <-b.broadcast:
			b.sendToAll()
		}
	}
}

func (b *Broadcaster) closeAll() {
	for conn := range b.clients {
		_ = conn.Close()
		delete(b.clients, conn)
	}
	b.updateClientGauge()
}

func (b *Broadcaster) sendToAll() {
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, b.message); err != nil {
			b.logger.Printf("write failed, dropping client: %v", err)
			_ = conn.Close()
			delete(b.clients, conn)
		}
	}
	if b.metrics != nil {
		b.metrics.ReloadBroadcasts.Inc()
	}
	b.updateClientGauge()
}

func (b *Broadcaster) updateClientGauge() {
	if b.metrics != nil {
		b.metrics.ReloadClients.Set(float64(len(b.clients)))
	}
}

// HandleWebSocket upgrades the connection and registers it. Incoming client
// frames are read and discarded purely to detect disconnection; the reload
// protocol is server-to-client only.
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("upgrade failed: %v", err)
		return
	}
	b.register <- conn

	go func() {
		defer func() { b.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ConsumeInvalidations drains sub and triggers a broadcast for every event
// whose path matches one of the configured trigger patterns. It blocks until
// ctx is done or the subscription's bus closes. sub must already be
// subscribed before the watcher's first publish (see SPEC_FULL.md §4.8) —
// callers subscribe synchronously and pass the *Subscription in, rather than
// having this method subscribe on its own goroutine's schedule.
func (b *Broadcaster) ConsumeInvalidations(ctx context.Context, sub *invalidation.Subscription) error {
	for {
		ob, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		ev := ob.Event()
		if b.matchesTrigger(ev.Path) {
			select {
			case b.broadcast <- struct{}{}:
			default: // the broadcast queue is full; the notices already queued reload every client
			}
		}
		if err := ob.Release(ctx); err != nil {
			b.logger.Printf("failed to release obligation for %s: %v", ev.Path, err)
		}
		if b.metrics != nil {
			b.metrics.BusLinkDepth.WithLabelValues("reload").Set(float64(sub.Depth()))
		}
	}
}

func (b *Broadcaster) matchesTrigger(path string) bool {
	for _, t := range b.triggers {
		if strings.HasSuffix(path, t) {
			return true
		}
	}
	return false
}
