// Package gateway accepts websocket sessions: it authenticates the handshake
// credential, registers the connection, runs the receive loop and tears the
// session down when the transport closes.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/auth"
	"github.com/alochat/realtime/internal/config"
	"github.com/alochat/realtime/internal/dispatch"
	"github.com/alochat/realtime/internal/metrics"
	"github.com/alochat/realtime/internal/presence"
	"github.com/alochat/realtime/internal/registry"
)

// CloseUnauthorized is the close code sent when the handshake credential is
// missing or invalid.
const CloseUnauthorized = 4001

// Gateway is the http.Handler behind /ws.
type Gateway struct {
	cfg      config.WebSocketConfig
	rate     config.RateLimitConfig
	verifier auth.Verifier
	registry *registry.Registry
	presence *presence.Service
	router   *dispatch.Router
	metrics  *metrics.Metrics
	log      *zap.Logger

	upgrader websocket.Upgrader
	// mu orders activation against Shutdown: a session either registers and
	// joins wg before draining is set, or sees draining and is refused.
	mu       sync.Mutex
	wg       sync.WaitGroup
	draining atomic.Bool
}

// Deps are the collaborators a Gateway needs.
type Deps struct {
	Verifier auth.Verifier
	Registry *registry.Registry
	Presence *presence.Service
	Router   *dispatch.Router
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// New builds a Gateway. cfg should already be sanitized.
func New(cfg config.WebSocketConfig, rate config.RateLimitConfig, deps Deps) *Gateway {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "gateway"))

	g := &Gateway{
		cfg:      cfg,
		rate:     rate,
		verifier: deps.Verifier,
		registry: deps.Registry,
		presence: deps.Presence,
		router:   deps.Router,
		metrics:  deps.Metrics,
		log:      log,
	}
	origins := newOriginPolicy(cfg, log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return g
}

// ServeHTTP upgrades the request and starts the session pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if g.draining.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Info("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	s := g.newSession(conn, r.RemoteAddr)
	userID, err := g.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		g.log.Info("rejecting unauthenticated connection", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		g.refuse(s, CloseUnauthorized, "unauthorized")
		return
	}
	s.authenticate(userID)
	g.activate(s)
}

func (g *Gateway) newSession(conn *websocket.Conn, addr string) *Session {
	s := &Session{
		id:      uuid.NewString(),
		addr:    addr,
		conn:    conn,
		gw:      g,
		limiter: newRateLimiter(g.rate),
		send:    make(chan []byte, g.cfg.SendBuffer),
	}
	s.log = g.log.With(zap.String("conn_id", s.id), zap.String("remote_addr", addr))
	s.setState(StateConnecting)
	return s
}

// refuse closes a session that never became active, before any event is read.
func (g *Gateway) refuse(s *Session, code int, reason string) {
	s.setState(StateClosed)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.cfg.WriteWait)); err != nil {
		s.log.Debug("write close frame", zap.Error(err))
	}
	_ = s.conn.Close()
}

// activate registers the session, announces the user if this is its first
// connection and starts the pumps. A session arriving after Shutdown began
// is refused with a going-away close.
func (g *Gateway) activate(s *Session) bool {
	g.mu.Lock()
	if g.draining.Load() {
		g.mu.Unlock()
		s.log.Info("refusing session during shutdown")
		g.refuse(s, websocket.CloseGoingAway, "server shutting down")
		return false
	}
	s.setState(StateActive)
	n := g.registry.Register(s.userID, s)
	g.wg.Add(2)
	g.mu.Unlock()

	s.log.Info("session active", zap.Int("user_connections", n))

	if n == 1 {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.HandlerTimeout)
		if err := g.presence.Online(ctx, s.userID); err != nil {
			s.log.Warn("online notification failed", zap.Error(err))
		}
		cancel()
	}

	go func() {
		defer g.wg.Done()
		s.writePump()
	}()
	go func() {
		defer g.wg.Done()
		s.readPump()
	}()
	return true
}

// Shutdown stops accepting sessions, closes every registered connection
// with a going-away frame and waits for the pumps to exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining.Store(true)
	g.mu.Unlock()
	g.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.log.Info("gateway shutdown completed")
		return nil
	case <-ctx.Done():
		g.log.Warn("gateway shutdown timed out; some sessions may still be running")
		return ctx.Err()
	}
}
