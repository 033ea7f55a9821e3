package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one peer's live connection as seen by the broadcaster.
type Session interface {
	// ID is a log tag only; peers have no identity beyond their connection.
	ID() string
	Send(frame []byte) error
	Close() error
}

type wsSession struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func newWSSession(conn *websocket.Conn, writeTimeout time.Duration) *wsSession {
	return &wsSession{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (s *wsSession) ID() string {
	return s.id
}

func (s *wsSession) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
