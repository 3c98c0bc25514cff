package gateway

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/protocol"
)

var (
	// ErrSessionClosed is returned by Send after the session closed.
	ErrSessionClosed = errors.New("gateway: session closed")
	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("gateway: send buffer full")
)

// State is a session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session owns one websocket connection. It implements registry.Connection.
type Session struct {
	id     string
	userID string
	addr   string
	conn   *websocket.Conn
	gw     *Gateway
	log    *zap.Logger

	state   atomic.Int32
	limiter *rateLimiter

	mu          sync.Mutex
	send        chan []byte
	closed      bool
	closeCode   int
	closeReason string

	finishOnce sync.Once
}

// ID implements registry.Connection.
func (s *Session) ID() string { return s.id }

// UserID is the authenticated user.
func (s *Session) UserID() string { return s.userID }

// State reports the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) authenticate(userID string) {
	s.userID = userID
	s.log = s.log.With(zap.String("user_id", userID))
	s.setState(StateAuthenticated)
}

// Send queues frame for the write pump without blocking.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close asks the write pump to send a going-away close frame and drop the
// connection. The read pump then unregisters the session.
func (s *Session) Close() error {
	s.closeWith(websocket.CloseGoingAway, "server shutting down")
	return nil
}

func (s *Session) closeWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	close(s.send)
}

func (s *Session) closeFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return websocket.FormatCloseMessage(s.closeCode, s.closeReason)
}

// setupReadConnection configures read deadlines and the pong handler.
func (s *Session) setupReadConnection() {
	cfg := s.gw.cfg
	s.conn.SetReadLimit(cfg.MaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		s.log.Debug("set initial read deadline", zap.Error(err))
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
}

func (s *Session) readPump() {
	defer s.finish()
	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.handleFrame(raw)
	}
}

// handleFrame decodes one inbound frame and dispatches it. Nothing that
// happens here ends the session.
func (s *Session) handleFrame(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		s.gw.metrics.Event("invalid", "bad_payload")
		s.log.Info("discarding malformed frame", zap.Error(err))
		return
	}

	if env.Event == protocol.EventPing {
		s.pong()
		return
	}

	if ok, streak := s.limiter.allow(); !ok {
		s.gw.metrics.Event(env.Event, "rate_limited")
		if streak == 1 {
			s.log.Info("rate limit exceeded; discarding events",
				zap.String("event", env.Event),
				zap.Int("burst", s.gw.rate.Burst), zap.Duration("interval", s.gw.rate.RefillInterval))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gw.cfg.HandlerTimeout)
	defer cancel()
	s.gw.router.Dispatch(ctx, s.userID, env)
}

func (s *Session) pong() {
	frame, err := protocol.Encode(protocol.EventPong, protocol.Pong{Time: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	if err := s.Send(frame); err != nil {
		s.log.Debug("pong dropped", zap.Error(err))
	}
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Info("message exceeded maximum size", zap.Int64("limit", s.gw.cfg.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		s.log.Info("connection closed", zap.Error(err))
	default:
		s.log.Warn("websocket read error", zap.Error(err))
	}
}

// finish runs once when the read loop ends: unregister, and on the last
// connection of the user, the offline transition.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.setState(StateClosed)
		s.closeWith(websocket.CloseNormalClosure, "")

		remaining, removed := s.gw.registry.Unregister(s.userID, s)
		s.log.Info("session closed", zap.Int("user_connections", remaining))
		if removed && remaining == 0 {
			ctx, cancel := context.WithTimeout(context.Background(), s.gw.cfg.HandlerTimeout)
			defer cancel()
			if _, err := s.gw.presence.Offline(ctx, s.userID); err != nil {
				s.log.Warn("offline transition failed", zap.Error(err))
			}
		}
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.gw.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when
// the pump should stop.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-s.send:
		if !ok {
			s.writeClose()
			return false
		}
		return s.writeFrame(frame) && s.writeQueued()
	case <-ticker.C:
		return s.writeControl(websocket.PingMessage, nil)
	}
}

func (s *Session) writeFrame(frame []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.gw.cfg.WriteWait)); err != nil {
		s.log.Debug("set write deadline", zap.Error(err))
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("write failed", zap.Error(err))
		}
		return false
	}
	return true
}

// writeQueued flushes frames that queued up while the last one was written.
// Each envelope stays in its own websocket frame.
func (s *Session) writeQueued() bool {
	n := len(s.send)
	for i := 0; i < n; i++ {
		frame, ok := <-s.send
		if !ok {
			s.writeClose()
			return false
		}
		if !s.writeFrame(frame) {
			return false
		}
	}
	return true
}

func (s *Session) writeControl(messageType int, data []byte) bool {
	err := s.conn.WriteControl(messageType, data, time.Now().Add(s.gw.cfg.WriteWait))
	if err != nil && !isExpectedCloseError(err) {
		s.log.Debug("write control frame", zap.Int("type", messageType), zap.Error(err))
	}
	return err == nil
}

func (s *Session) writeClose() {
	s.writeControl(websocket.CloseMessage, s.closeFrame())
}

func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("close connection", zap.Error(err))
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
