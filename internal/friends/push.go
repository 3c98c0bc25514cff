// Package friends pushes the notifications produced by the friend-request
// and profile flows, which live outside the realtime engine.
package friends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/store"
)

// ErrNotPushable is returned for tags that cannot be pushed from outside.
var ErrNotPushable = errors.New("friends: event cannot be pushed")

var pushable = map[string]bool{
	protocol.EventFriendRequestReceived: true,
	protocol.EventFriendRequestAccepted: true,
	protocol.EventUserUpdate:            true,
}

// Store is the slice of the record store the pusher reads.
type Store interface {
	store.UserStore
	store.FriendshipStore
}

// Pusher delivers friend and profile events through the registry.
type Pusher struct {
	store    Store
	registry *registry.Registry
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Pusher.
func New(st Store, reg *registry.Registry, log *zap.Logger) *Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pusher{store: st, registry: reg, now: time.Now, log: log.With(zap.String("component", "friends"))}
}

// RequestReceived tells toUserID about a new pending request from fromUserID.
func (p *Pusher) RequestReceived(ctx context.Context, requestID, fromUserID, toUserID string) (int, error) {
	from, err := p.store.GetUser(ctx, fromUserID)
	if err != nil {
		return 0, err
	}
	return p.deliver(protocol.EventFriendRequestReceived, []string{toUserID}, protocol.FriendRequest{
		ID:             requestID,
		FromUserID:     from.ID,
		FromUserName:   from.Name(),
		FromUserAvatar: from.AvatarURL,
		Status:         model.FriendshipPending,
		CreatedAt:      p.now().UTC(),
	})
}

// RequestAccepted tells the requester that accepterID accepted requestID.
func (p *Pusher) RequestAccepted(ctx context.Context, requestID, requesterID, accepterID string) (int, error) {
	accepter, err := p.store.GetUser(ctx, accepterID)
	if err != nil {
		return 0, err
	}
	return p.deliver(protocol.EventFriendRequestAccepted, []string{requesterID}, protocol.FriendAccepted{
		RequestID: requestID,
		NewFriend: *accepter,
	})
}

// UserUpdated sends the current profile of userID to its friends and to the
// user's own other devices.
func (p *Pusher) UserUpdated(ctx context.Context, userID string) (int, error) {
	u, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	friends, err := p.store.FriendIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.deliver(protocol.EventUserUpdate, append(friends, userID), u)
}

// Push delivers a raw payload for one of the pushable tags to userIDs.
func (p *Pusher) Push(event string, userIDs []string, data json.RawMessage) (int, error) {
	if !pushable[event] {
		return 0, fmt.Errorf("%w: %q", ErrNotPushable, event)
	}
	if len(data) == 0 {
		return p.deliver(event, userIDs, nil)
	}
	if !json.Valid(data) {
		return 0, fmt.Errorf("%w: data is not JSON", protocol.ErrMalformed)
	}
	return p.deliver(event, userIDs, data)
}

func (p *Pusher) deliver(event string, userIDs []string, data any) (int, error) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return 0, err
	}
	n := p.registry.DeliverToUsers(userIDs, frame)
	p.log.Debug("pushed", zap.String("event", event), zap.Int("targets", len(userIDs)), zap.Int("deliveries", n))
	return n, nil
}
