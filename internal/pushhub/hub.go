// Package pushhub implements the /ws push protocol: an initial full
// snapshot on attach, delta frames computed against each subscriber's own
// last-sent state, a heartbeat/liveness timer, and a hard connection cap.
// Shaped after the register/unregister/broadcast hub idiom, generalized
// from broadcasting one shared event to every client into per-subscriber
// delta computation, since every subscriber here tracks its own view of
// the store rather than replaying the same ephemeral event to everyone.
package pushhub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/procscope/procscope/internal/procmodel"
	"github.com/procscope/procscope/internal/procstore"
)

const (
	// MaxConnections rejects the 101st concurrent subscriber with close
	// code 1008, per §4.5 and the "exactly 100" boundary test in §8.
	MaxConnections = 100

	heartbeatInterval  = 30 * time.Second
	inboundTimeout     = 35 * time.Second
	inboundCheckPeriod = 5 * time.Second
	writeWait          = 5 * time.Second
)

// Hub upgrades HTTP connections to the push protocol and drives every
// subscriber's delta computation off the shared process store.
type Hub struct {
	store *procstore.Store

	upgrader websocket.Upgrader

	mu    sync.Mutex
	count int
	conns map[string]*subscriber
}

// New constructs a Hub reading from store.
func New(store *procstore.Store) *Hub {
	return &Hub{
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*subscriber),
	}
}

// ActiveConnections reports the current subscriber count.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// HandleWebSocket upgrades the request and, capacity permitting, starts a
// subscriber loop that runs until the connection closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("pushhub: upgrade failed", "err", err)
		return
	}

	h.mu.Lock()
	if h.count >= MaxConnections {
		h.mu.Unlock()
		closeWithCode(conn, websocket.ClosePolicyViolation, "connection cap reached")
		return
	}
	h.count++
	h.mu.Unlock()

	sub := &subscriber{
		id:          uuid.NewString(),
		conn:        conn,
		store:       h.store,
		lastSent:    make(map[int]procmodel.ProcessWireFormat),
		lastInbound: time.Now(),
	}

	h.mu.Lock()
	h.conns[sub.id] = sub
	h.mu.Unlock()

	go sub.run(h)
}

func (h *Hub) release(id string) {
	h.mu.Lock()
	h.count--
	delete(h.conns, id)
	h.mu.Unlock()
}

// Stop closes every currently-attached subscriber with close code 1001
// (going away), per the engine's graceful-shutdown budget. It does not
// wait for the subscriber goroutines to observe the close — callers
// bound their own wait with the shutdown context's deadline.
func (h *Hub) Stop() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.conns))
	for _, sub := range h.conns {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		closeWithCode(sub.conn, websocket.CloseGoingAway, "server shutting down")
	}
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// subscriber owns one connection's outbound frame sequence and its view
// of the store (lastSent), so delta computation never races with other
// subscribers.
type subscriber struct {
	id    string
	conn  *websocket.Conn
	store *procstore.Store

	writeMu  sync.Mutex
	lastSent map[int]procmodel.ProcessWireFormat

	inboundMu   sync.Mutex
	lastInbound time.Time
}

func (s *subscriber) run(h *Hub) {
	defer h.release(s.id)
	defer s.conn.Close()

	if err := s.sendInitial(); err != nil {
		slog.Debug("pushhub: failed to send initial frame", "id", s.id, "err", err)
		return
	}

	changed, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	readerDone := make(chan struct{})
	go s.readLoop(readerDone)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	livenessCheck := time.NewTicker(inboundCheckPeriod)
	defer livenessCheck.Stop()

	for {
		select {
		case <-readerDone:
			return
		case <-changed:
			if err := s.sendDelta(); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := s.writeFrame(newHeartbeatFrame()); err != nil {
				return
			}
		case <-livenessCheck.C:
			if time.Since(s.lastInboundAt()) > inboundTimeout {
				slog.Debug("pushhub: closing idle subscriber", "id", s.id)
				return
			}
		}
	}
}

func (s *subscriber) lastInboundAt() time.Time {
	s.inboundMu.Lock()
	defer s.inboundMu.Unlock()
	return s.lastInbound
}

func (s *subscriber) markInbound() {
	s.inboundMu.Lock()
	s.lastInbound = time.Now()
	s.inboundMu.Unlock()
}

func (s *subscriber) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.markInbound()

		var f inboundFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue // unknown/malformed messages are ignored, not fatal
		}
		// ping/pong and any other recognized inbound type only need to
		// refresh liveness; nothing else in the protocol expects a
		// server-side reply to a client frame.
	}
}

func (s *subscriber) sendInitial() error {
	rows := s.store.Snapshot()
	wire := make([]procmodel.ProcessWireFormat, len(rows))
	for i := range rows {
		wire[i] = rows[i].ToWire()
		s.lastSent[wire[i].PID] = wire[i]
	}
	return s.writeFrame(newInitialFrame(wire))
}

func (s *subscriber) sendDelta() error {
	rows := s.store.Snapshot()

	current := make(map[int]procmodel.ProcessWireFormat, len(rows))
	for i := range rows {
		current[rows[i].PID] = rows[i].ToWire()
	}

	var delta Delta
	for pid, wire := range current {
		prev, existed := s.lastSent[pid]
		if !existed {
			delta.Added = append(delta.Added, wire)
			continue
		}
		if !reflect.DeepEqual(prev, wire) {
			delta.Updated = append(delta.Updated, wire)
		}
	}
	for pid := range s.lastSent {
		if _, stillPresent := current[pid]; !stillPresent {
			delta.Removed = append(delta.Removed, pid)
		}
	}

	if delta.isEmpty() {
		return nil
	}

	s.lastSent = current
	return s.writeFrame(newDeltaFrame(delta))
}

func (s *subscriber) writeFrame(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}
