package admin

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	WriteWait      = 10 * time.Second    // max time to write a message to the peer
	PongWait       = 60 * time.Second    // no pong within this window = connection gone
	PingPeriod     = (PongWait * 9) / 10 // must be shorter than PongWait
	MaxMessageSize = 512                 // spectators only send control frames
	sendBuffer     = 64
)

// Spectator is one read-only websocket viewer.
type Spectator struct {
	ID   int
	Conn *websocket.Conn
	send chan []byte
	once sync.Once
	hub  *Hub
}

func newSpectator(id int, conn *websocket.Conn, hub *Hub) *Spectator {
	return &Spectator{
		ID:   id,
		Conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  hub,
	}
}

// Enqueue never blocks; a spectator that cannot keep up loses frames.
func (s *Spectator) Enqueue(b []byte) bool {
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

// ReadPump only services control frames. It returns when the peer goes away.
func (s *Spectator) ReadPump() {
	defer s.hub.unregister(s)
	s.Conn.SetReadLimit(MaxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(PongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})
	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (s *Spectator) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Spectator) close() {
	s.once.Do(func() { close(s.send) })
}
