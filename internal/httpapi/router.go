// Package httpapi exposes the HTTP surface of the realtime engine: the
// websocket endpoint, health and metrics, the presence and unread queries
// and the internal push API used by the CRUD layer.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/auth"
	"github.com/alochat/realtime/internal/friends"
	"github.com/alochat/realtime/internal/presence"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/store"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Invalidator drops cached conversation membership.
type Invalidator interface {
	Invalidate(ctx context.Context, conversationID string) error
}

// Deps wires the router.
type Deps struct {
	Gateway       http.Handler
	Registry      *registry.Registry
	Presence      *presence.Service
	Pusher        *friends.Pusher
	Conversations store.ConversationStore
	Messages      store.MessageStore
	// Invalidator may be nil when no membership cache is configured.
	Invalidator   Invalidator
	Verifier      auth.Verifier
	Gatherer      prometheus.Gatherer
	InternalToken string
	Logger        *zap.Logger
}

type api struct {
	Deps
	log *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "http"))
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	a := &api{Deps: d, log: log}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recovery(log), accessLog(log))

	r.GET("/", a.root)
	r.GET("/health", a.health)
	r.GET("/stats", a.stats)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	r.Any("/ws", gin.WrapH(d.Gateway))

	authed := r.Group("/api", bearerAuth(d.Verifier))
	authed.GET("/presence", a.presence)
	authed.GET("/unread", a.unread)

	internal := r.Group("/internal", internalAuth(d.InternalToken))
	internal.POST("/push", a.push)
	internal.POST("/friends/requests", a.friendRequest)
	internal.POST("/friends/accepted", a.friendAccepted)
	internal.POST("/users/:id/updated", a.userUpdated)
	internal.POST("/conversations/:id/invalidate", a.invalidate)

	return r
}
