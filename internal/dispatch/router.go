package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/metrics"
	"github.com/alochat/realtime/internal/protocol"
)

// HandlerFunc handles one envelope on behalf of the authenticated userID.
type HandlerFunc func(ctx context.Context, userID string, env protocol.Envelope) Result

// Router maps event tags to handlers.
type Router struct {
	handlers map[string]HandlerFunc
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewRouter returns an empty Router.
func NewRouter(log *zap.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		log:      log.With(zap.String("component", "dispatch")),
		metrics:  m,
	}
}

// Handle registers h for event. Registering a tag twice replaces the handler.
func (r *Router) Handle(event string, h HandlerFunc) {
	r.handlers[event] = h
}

// Events lists the registered tags.
func (r *Router) Events() []string {
	out := make([]string, 0, len(r.handlers))
	for e := range r.handlers {
		out = append(out, e)
	}
	return out
}

// Dispatch runs the handler for env.Event. Unknown tags and handler panics
// become Results; nothing escapes to the caller's receive loop. Every Result
// is already logged and counted when Dispatch returns, so a receive loop may
// drop it; tests inspect it.
func (r *Router) Dispatch(ctx context.Context, userID string, env protocol.Envelope) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Fail(CodeInternal, fmt.Errorf("handler panic: %v", p))
			r.log.Error("handler panic",
				zap.String("event", env.Event), zap.String("user_id", userID),
				zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
		r.record(userID, env.Event, res)
	}()

	h, ok := r.handlers[env.Event]
	if !ok {
		return Fail(CodeUnknownEvent, fmt.Errorf("no handler for %q", env.Event))
	}
	return h(ctx, userID, env)
}

func (r *Router) record(userID, event string, res Result) {
	label := event
	if res.Code == CodeUnknownEvent {
		label = "unknown"
	}
	r.metrics.Event(label, string(res.Code))
	if res.Ok() {
		return
	}
	r.log.Info("event not applied",
		zap.String("event", event), zap.String("user_id", userID),
		zap.String("code", string(res.Code)), zap.Error(res.Err))
}
