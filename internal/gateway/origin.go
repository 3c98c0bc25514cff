package gateway

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/config"
)

type originPolicy struct {
	allowed      map[string]struct{}
	allowAll     bool
	allowMissing bool
	log          *zap.Logger
}

func newOriginPolicy(cfg config.WebSocketConfig, log *zap.Logger) *originPolicy {
	origins, allowAll := config.NormalizeOrigins(cfg.AllowedOrigins)
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return &originPolicy{allowed: allowed, allowAll: allowAll, allowMissing: cfg.AllowMissingOrigin, log: log}
}

func (p *originPolicy) isAllowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		// Native desktop and mobile clients send no Origin.
		return p.allowMissing
	}
	if p.allowAll {
		return true
	}

	normalized, ok := config.NormalizeOrigin(header)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

func (p *originPolicy) check(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}
	p.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
