// Package typing relays ephemeral typing signals to the other members of a
// conversation. Nothing is stored and nothing is debounced.
package typing

import (
	"context"

	"github.com/alochat/realtime/internal/dispatch"
	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/store"
)

// Store is the read-only slice of the record store the notifier needs.
type Store interface {
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
	store.UserStore
}

// Notifier handles user:typing.
type Notifier struct {
	store    Store
	registry *registry.Registry
}

// New creates a Notifier.
func New(st Store, reg *registry.Registry) *Notifier {
	return &Notifier{store: st, registry: reg}
}

// Register binds user:typing on r.
func (n *Notifier) Register(r *dispatch.Router) {
	r.Handle(protocol.EventTyping, n.Typing)
}

// Typing delivers {conversationId, userId, userDisplayName} to every member
// except the caller.
func (n *Notifier) Typing(ctx context.Context, userID string, env protocol.Envelope) dispatch.Result {
	var p protocol.ConversationRef
	if err := env.DecodeData(&p); err != nil {
		return dispatch.FromError(err)
	}
	if err := p.Validate(); err != nil {
		return dispatch.FromError(err)
	}

	members, err := n.store.MemberIDs(ctx, p.ConversationID)
	if err != nil {
		return dispatch.FromError(err)
	}
	if !store.Contains(members, userID) {
		return dispatch.FromError(store.ErrNotMember)
	}

	name := userID
	if u, err := n.store.GetUser(ctx, userID); err == nil {
		name = u.Name()
	}

	frame, err := protocol.Encode(protocol.EventTyping, protocol.Typing{
		ConversationID:  p.ConversationID,
		UserID:          userID,
		UserDisplayName: name,
	})
	if err != nil {
		return dispatch.Fail(dispatch.CodeInternal, err)
	}
	n.registry.DeliverToUsers(store.Without(members, userID), frame)
	return dispatch.OK()
}
