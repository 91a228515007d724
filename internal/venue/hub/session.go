package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loungenpark/PosProject-sub001/pkg/models"
)

const (
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
	readWait      = 75 * time.Second // two missed pings
	sendQueueSize = 32
	maxFrameBytes = 64 * 1024
)

// Session is one connected terminal. The write pump is the only goroutine
// writing data frames; everything else goes through the send queue.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan models.SnapshotFrame
}

func newSession(h *Hub, conn *websocket.Conn) *Session {
	return &Session{
		hub:    h,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan models.SnapshotFrame, sendQueueSize),
	}
}

// queue hands a frame to the write pump without blocking. Pushes and the
// hub's close of the channel serialize on the hub lock, so a session that was
// already dropped is skipped.
func (s *Session) queue(frame models.SnapshotFrame) {
	h := s.hub
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	select {
	case s.send <- frame:
		h.mu.Unlock()
	default:
		h.mu.Unlock()
		h.drop(s, "send queue full")
	}
}

func (s *Session) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.hub.drop(s, fmt.Sprintf("write failed: %v", err))
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.hub.drop(s, fmt.Sprintf("ping failed: %v", err))
				return
			}
		}
	}
}

func (s *Session) readPump() {
	defer s.hub.drop(s, "connection closed")

	s.conn.SetReadLimit(maxFrameBytes)
	s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readWait))

		var frame models.IntentFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.hub.log.Warn("", "intent_malformed", fmt.Sprintf("Terminal %s sent a malformed frame: %v", s.remote, err))
			continue
		}
		if frame.Type != models.FrameIntent {
			s.hub.log.Debug("", "frame_ignored", fmt.Sprintf("Terminal %s sent unexpected frame type %q", s.remote, frame.Type))
			continue
		}
		if err := s.hub.apply(frame); err != nil {
			// The sender's optimistic view is now wrong; push the current
			// authoritative state back at it.
			s.hub.log.Warn("", "intent_rejected", fmt.Sprintf("Intent for table %d rejected: %v", frame.TableID, err))
			s.queue(s.hub.snapshot())
		}
	}
}
