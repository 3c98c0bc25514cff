// Package presence derives online/offline transitions from registry
// occupancy and pushes them to the user's accepted friends.
package presence

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/store"
)

// Store is the slice of the record store presence needs.
type Store interface {
	store.UserStore
	store.FriendshipStore
}

// lockStripes bounds the per-user transition locks.
const lockStripes = 64

// Service emits presence notifications and persists the user's status on
// each edge. Transitions of one user are serialized, so a reconnect racing a
// disconnect always ends with the state the registry holds.
type Service struct {
	store    Store
	registry *registry.Registry
	now      func() time.Time
	log      *zap.Logger
	locks    [lockStripes]sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(st Store, reg *registry.Registry, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:    st,
		registry: reg,
		now:      time.Now,
		log:      log.With(zap.String("component", "presence")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Online marks userID online and announces it to its friends. Call it when
// the first connection of the user registers. It is a no-op when the user
// is already gone again by the time the lock is taken.
func (s *Service) Online(ctx context.Context, userID string) error {
	unlock := s.lock(userID)
	defer unlock()

	if !s.registry.IsReachable(userID) {
		return nil
	}
	if err := s.store.SetPresence(ctx, userID, model.Online, s.now().UTC()); err != nil {
		s.log.Warn("persist online status failed", zap.String("user_id", userID), zap.Error(err))
	}
	return s.notifyFriends(ctx, userID, protocol.UserStatus{UserID: userID, Status: model.Online})
}

// Offline persists the offline status with last_online and announces the
// transition to friends. Reachability is checked before persisting and again
// before broadcasting; a user who reconnected in between produces no offline
// notification, and the pending Online call restores the status. It reports
// whether the offline notification was sent.
func (s *Service) Offline(ctx context.Context, userID string) (bool, error) {
	unlock := s.lock(userID)
	defer unlock()

	if s.registry.IsReachable(userID) {
		return false, nil
	}

	at := s.now().UTC()
	if err := s.store.SetPresence(ctx, userID, model.Offline, at); err != nil {
		// Friends still learn the user is gone even if the record is stale.
		s.log.Warn("persist offline status failed", zap.String("user_id", userID), zap.Error(err))
	}
	if s.registry.IsReachable(userID) {
		s.log.Debug("user reconnected during offline transition", zap.String("user_id", userID))
		return false, nil
	}
	return true, s.notifyFriends(ctx, userID, protocol.UserStatus{UserID: userID, Status: model.Offline, LastOnline: &at})
}

func (s *Service) notifyFriends(ctx context.Context, userID string, status protocol.UserStatus) error {
	friends, err := s.store.FriendIDs(ctx, userID)
	if err != nil {
		return err
	}
	if len(friends) == 0 {
		return nil
	}
	frame, err := protocol.Encode(protocol.EventUserStatus, status)
	if err != nil {
		return err
	}
	n := s.registry.DeliverToUsers(friends, frame)
	s.log.Debug("presence broadcast",
		zap.String("user_id", userID), zap.String("status", string(status.Status)),
		zap.Int("friends", len(friends)), zap.Int("deliveries", n))
	return nil
}

// Entry is the derived presence of one user.
type Entry struct {
	UserID     string         `json:"userId"`
	Status     model.Presence `json:"status"`
	LastOnline *time.Time     `json:"lastOnline,omitempty"`
}

// Lookup derives presence for userIDs. Unknown users are reported offline
// without a timestamp.
func (s *Service) Lookup(ctx context.Context, userIDs []string) ([]Entry, error) {
	out := make([]Entry, 0, len(userIDs))
	for _, id := range userIDs {
		if s.registry.IsReachable(id) {
			out = append(out, Entry{UserID: id, Status: model.Online})
			continue
		}
		e := Entry{UserID: id, Status: model.Offline}
		u, err := s.store.GetUser(ctx, id)
		switch {
		case err == nil:
			e.LastOnline = u.LastOnline
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CanObserve reports whether viewer may see target's presence: only the user
// and accepted friends can.
func (s *Service) CanObserve(ctx context.Context, viewerID, targetID string) (bool, error) {
	if viewerID == targetID {
		return true, nil
	}
	return s.store.AreFriends(ctx, viewerID, targetID)
}
