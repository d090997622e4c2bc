package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/peer-relay/internal/relay"
)

// socket implements relay.Socket on top of a gorilla/websocket connection.
// Send, Ping and Close never touch the connection; writeLoop is its only writer.
type socket struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	send chan []byte
	ping chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn, cfg Config, logger *slog.Logger) *socket {
	return &socket{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, cfg.SendBuffer),
		ping:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send queues a text frame without blocking.
func (s *socket) Send(data []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Ping requests a ping control frame. A request already pending absorbs this one.
func (s *socket) Ping() error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.ping <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the socket closed. writeLoop sends the close frame and
// releases the connection. It is idempotent.
func (s *socket) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *socket) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *socket) deadline() time.Time {
	return time.Now().Add(s.cfg.WriteTimeout)
}

// writeLoop drains pings and the send queue until the socket closes, then
// tears the connection down.
func (s *socket) writeLoop() {
	defer s.teardown()

	for {
		select {
		case <-s.done:
			return
		case <-s.ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, s.deadline()); err != nil {
				s.logger.Debug("ping failed", "error", err)
				return
			}
		case data := <-s.send:
			if err := s.conn.SetWriteDeadline(s.deadline()); err != nil {
				s.logger.Debug("set write deadline failed", "error", err)
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}
		}
	}
}

func (s *socket) teardown() {
	s.Close()

	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("close frame failed", "error", err)
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("connection close failed", "error", err)
	}
}

// readLoop feeds inbound frames and pongs to c, and closes c when the peer goes away.
func (s *socket) readLoop(c *relay.Conn) {
	defer c.Close()

	if s.cfg.ReadLimit > 0 {
		s.conn.SetReadLimit(s.cfg.ReadLimit)
	}
	s.conn.SetPongHandler(func(string) error {
		c.HandlePong()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() && !expectedClose(err) {
				c.HandleError(err)
			}
			return
		}
		c.HandleMessage(data)
	}
}

func expectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		)
	}
	return false
}

var _ relay.Socket = (*socket)(nil)
