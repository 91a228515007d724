package hub

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/loungenpark/PosProject-sub001/pkg/logger"
	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

// Hub tracks every connected terminal session and fans authoritative
// snapshots out to them. A session that cannot keep up is dropped rather
// than allowed to slow the venue down; it reconnects and rehydrates.
type Hub struct {
	log *logger.Logger

	snapshot func() models.SnapshotFrame
	apply    func(frame models.IntentFrame) error

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

func New(log *logger.Logger) *Hub {
	return &Hub{
		log:      log,
		sessions: make(map[*Session]struct{}),
	}
}

// Bind wires the hub to the authoritative state it serves: snapshot feeds
// connect-time hydration and corrective frames, apply receives terminal
// intents. Must be called before the first connection is served.
func (h *Hub) Bind(snapshot func() models.SnapshotFrame, apply func(frame models.IntentFrame) error) {
	h.snapshot = snapshot
	h.apply = apply
}

// Serve owns conn for the rest of its life: it registers a session, queues
// the hydration snapshot and runs the pumps until the terminal hangs up or
// the hub closes. Blocks until the session ends.
func (h *Hub) Serve(conn *websocket.Conn) {
	sess := newSession(h, conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.sessions[sess] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()

	h.log.Info("", "terminal_connected", fmt.Sprintf("Terminal %s connected (%d online)", sess.remote, count))

	sess.queue(h.snapshot())
	go sess.writePump()
	sess.readPump()
}

// Broadcast queues the frame on every session without ever blocking.
// Callers emit under their own state lock, so frames arrive here already
// ordered by sequence.
func (h *Hub) Broadcast(frame models.SnapshotFrame) {
	h.mu.Lock()
	var slow []*Session
	for sess := range h.sessions {
		select {
		case sess.send <- frame:
		default:
			slow = append(slow, sess)
		}
	}
	h.mu.Unlock()

	for _, sess := range slow {
		h.drop(sess, "send queue full")
	}
}

// Count reports the number of connected terminals.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll disconnects every session and refuses new ones. Used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		h.drop(sess, "server shutting down")
	}
}

// drop unregisters the session and closes its connection. Safe to call more
// than once; only the first call does anything.
func (h *Hub) drop(sess *Session, reason string) {
	h.mu.Lock()
	_, ok := h.sessions[sess]
	if ok {
		delete(h.sessions, sess)
		close(sess.send)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if ok {
		sess.conn.Close()
		h.log.Info("", "terminal_disconnected", fmt.Sprintf("Terminal %s disconnected: %s (%d online)", sess.remote, reason, count))
	}
}
