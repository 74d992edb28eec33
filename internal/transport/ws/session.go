package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

var (
	// ErrBacklogFull is returned when the outbound queue is full.
	ErrBacklogFull = errors.New("send backlog full")

	// ErrSessionClosed is returned for packets emitted after the session ended.
	ErrSessionClosed = errors.New("session closed")

	// ErrKicked is the session error after the server kicked the bot.
	ErrKicked = errors.New("kicked by server")
)

const closeGrace = time.Second

// Session is one bot's connection. It implements bot.Link.
type Session struct {
	client   *Client
	botID    string
	nickname string

	ctx    context.Context
	cancel context.CancelFunc

	out  chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	teleport *bot.Pose
	err      error
}

// EmitPose queues a movement packet.
func (s *Session) EmitPose(p bot.Pose) error {
	return s.enqueue(newPoseMsg(s.botID, p))
}

// EmitChat queues a chat packet.
func (s *Session) EmitChat(message string) error {
	return s.enqueue(ChatMsg{Type: TypeChat, BotID: s.botID, Message: message})
}

func (s *Session) enqueue(v any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	b, err := s.client.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	select {
	case s.out <- b:
		return nil
	default:
		return ErrBacklogFull
	}
}

// TakeTeleport returns the latest unapplied server position, if any.
func (s *Session) TakeTeleport() (bot.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.teleport == nil {
		return bot.Pose{}, false
	}
	p := *s.teleport
	s.teleport = nil
	return p, true
}

// Done is closed when the session ends for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended; nil while it is open or after a
// local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session without waiting for the network. Done is closed
// on return; the writer goroutine sends the close frame afterwards.
func (s *Session) Close() error {
	s.finish(nil)
	return nil
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.closed = true
		conn := s.conn
		s.mu.Unlock()

		s.cancel()
		close(s.done)

		// Local closes are completed by the writer in shutdown.
		if conn != nil && err != nil {
			_ = conn.Close()
		}
	})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// shutdown runs on the writer goroutine once the session context is done.
func (s *Session) shutdown(conn *websocket.Conn) {
	if s.Err() == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(closeGrace))
	}
	_ = conn.Close()
}

func (s *Session) run() {
	logger := s.client.logger.With("bot", s.nickname)

	dialCtx, cancel := context.WithTimeout(s.ctx, s.client.cfg.HandshakeTimeout)
	conn, _, err := s.client.dialer.DialContext(dialCtx, s.client.cfg.URL, nil)
	cancel()
	if err != nil {
		logger.Warn("dial failed", "error", err)
		s.finish(fmt.Errorf("dial: %w", err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.write(conn, HelloMsg{Type: TypeHello, BotID: s.botID, Name: s.nickname}); err != nil {
		if !s.isClosed() {
			logger.Warn("hello failed", "error", err)
		}
		s.finish(fmt.Errorf("hello: %w", err))
		_ = conn.Close()
		return
	}

	s.client.wg.Add(1)
	go func() {
		defer s.client.wg.Done()
		s.readLoop(conn)
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown(conn)
			return
		case b := <-s.out:
			_ = conn.SetWriteDeadline(time.Now().Add(s.client.cfg.WriteTimeout))
			if err := conn.WriteMessage(s.client.codec.FrameType(), b); err != nil {
				logger.Debug("write failed", "error", err)
				s.finish(fmt.Errorf("write: %w", err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Session) write(conn *websocket.Conn, v any) error {
	b, err := s.client.codec.Encode(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.client.cfg.WriteTimeout))
	return conn.WriteMessage(s.client.codec.FrameType(), b)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	logger := s.client.logger.With("bot", s.nickname)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				logger.Info("connection lost", "error", err)
			}
			s.finish(fmt.Errorf("read: %w", err))
			return
		}

		msg, err := s.client.codec.Decode(data)
		if err != nil {
			logger.Debug("ignoring server message", "error", err)
			continue
		}

		switch msg.Type {
		case TypeWelcome:
			if msg.MaxPlayers > 0 {
				s.client.maxPlayers.Store(int64(msg.MaxPlayers))
			}
			if msg.HasPose {
				s.setTeleport(msg.Pose)
			}
		case TypeTeleport:
			if msg.HasPose {
				s.setTeleport(msg.Pose)
			}
		case TypeKick:
			logger.Info("kicked", "reason", msg.Reason)
			s.finish(fmt.Errorf("%w: %s", ErrKicked, msg.Reason))
			return
		}
	}
}

func (s *Session) setTeleport(p bot.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teleport = &p
}
