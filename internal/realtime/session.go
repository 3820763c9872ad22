// Per-connection read and write pumps of the realtime layer in Deewan.

package realtime

import (
	"Deewan/pkg/log"
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum frame size allowed from peer.
	maxFrameSize = 8192
	// Capacity of the per-session outbound buffer.
	sendBufferSize = 64
)

// Session wraps one websocket connection of one browser tab.
// Identity (if any) is tracked by the hub, not here.
type Session struct {
	// Opaque connection ID assigned on upgrade.
	ID string

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger log.Logger
}

// NewSession wraps an upgraded websocket connection.
func NewSession(id string, conn *websocket.Conn, hub *Hub, logger log.Logger) *Session {
	return &Session{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		hub:    hub,
		logger: logger,
	}
}

// ReadPump reads frames off the wire and hands them to the dispatch service.
// Blocks until the connection drops; the caller's handler goroutine is the
// natural place to run it. Unregisters the session on the way out, which the
// hub treats as the implicit session end.
func (s *Session) ReadPump(ctx context.Context, service Service) {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.WithCtx(ctx).Warn().Err(err).Msgf("Unexpected close of session %s", s.ID)
			}
			return
		}
		service.HandleFrame(ctx, s, raw)
	}
}

// WritePump drains the session's send buffer onto the wire and keeps the
// connection alive with periodic pings. Launched in its own goroutine.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
