// Package registry tracks which users are reachable and through how many
// live connections, and delivers outbound frames to them.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/metrics"
)

// Connection is a live duplex channel owned by one session. Send must not
// block; implementations queue the frame or fail fast.
type Connection interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

// Registry maps a user id to its set of live connections.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]map[string]Connection
	conns   int
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates an empty Registry.
func New(log *zap.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		users:   make(map[string]map[string]Connection),
		log:     log.With(zap.String("component", "registry")),
		metrics: m,
	}
}

// Register adds conn to userID's set and returns the number of connections
// the user now holds. A result of 1 marks the offline to online edge.
func (r *Registry) Register(userID string, conn Connection) int {
	r.mu.Lock()
	bucket, ok := r.users[userID]
	if !ok {
		bucket = make(map[string]Connection)
		r.users[userID] = bucket
	}
	if _, dup := bucket[conn.ID()]; !dup {
		bucket[conn.ID()] = conn
		r.conns++
	}
	n := len(bucket)
	conns, users := r.conns, len(r.users)
	r.mu.Unlock()

	r.metrics.SetOccupancy(conns, users)
	r.log.Debug("connection registered",
		zap.String("user_id", userID), zap.String("conn_id", conn.ID()), zap.Int("user_connections", n))
	return n
}

// Unregister removes conn from userID's set. It is a no-op for a connection
// that is not registered. remaining is the user's connection count after the
// call and removed reports whether this call removed anything.
func (r *Registry) Unregister(userID string, conn Connection) (remaining int, removed bool) {
	r.mu.Lock()
	bucket, ok := r.users[userID]
	if ok {
		if _, removed = bucket[conn.ID()]; removed {
			delete(bucket, conn.ID())
			r.conns--
		}
		remaining = len(bucket)
		if remaining == 0 {
			delete(r.users, userID)
		}
	}
	conns, users := r.conns, len(r.users)
	r.mu.Unlock()

	if removed {
		r.metrics.SetOccupancy(conns, users)
		r.log.Debug("connection unregistered",
			zap.String("user_id", userID), zap.String("conn_id", conn.ID()), zap.Int("user_connections", remaining))
	}
	return remaining, removed
}

// IsReachable reports whether userID holds at least one connection.
func (r *Registry) IsReachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Count returns the number of connections userID holds.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Reachable filters userIDs down to the reachable ones.
func (r *Registry) Reachable(userIDs []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if len(r.users[id]) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// DeliverToUser sends frame to every connection of userID. Failures are
// logged and counted; they never reach the caller and never close the
// connection. It returns the number of successful sends.
func (r *Registry) DeliverToUser(userID string, frame []byte) int {
	return r.deliver(r.snapshot(userID), userID, frame)
}

// DeliverToUsers calls DeliverToUser for each id. Unreachable ids are skipped.
func (r *Registry) DeliverToUsers(userIDs []string, frame []byte) int {
	sent := 0
	for _, id := range userIDs {
		sent += r.DeliverToUser(id, frame)
	}
	return sent
}

func (r *Registry) snapshot(userID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.users[userID]
	if len(bucket) == 0 {
		return nil
	}
	conns := make([]Connection, 0, len(bucket))
	for _, c := range bucket {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) deliver(conns []Connection, userID string, frame []byte) int {
	sent := 0
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			r.metrics.Delivery(false)
			r.log.Warn("delivery failed",
				zap.String("user_id", userID), zap.String("conn_id", c.ID()), zap.Error(err))
			continue
		}
		r.metrics.Delivery(true)
		sent++
	}
	return sent
}

// Stats reports current occupancy.
func (r *Registry) Stats() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns, len(r.users)
}

// Connections returns a snapshot of every registered connection.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, r.conns)
	for _, bucket := range r.users {
		for _, c := range bucket {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll closes every registered connection and returns how many were
// closed. Sessions unregister themselves as their read loops end.
func (r *Registry) CloseAll() int {
	conns := r.Connections()
	for _, c := range conns {
		if err := c.Close(); err != nil {
			r.log.Debug("close connection", zap.String("conn_id", c.ID()), zap.Error(err))
		}
	}
	r.log.Info("closed client connections", zap.Int("count", len(conns)))
	return len(conns)
}
