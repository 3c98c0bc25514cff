// Package store declares the narrow collaborator interfaces the realtime
// engine uses to reach the external record store. Each method is a single
// document/record operation; no method spans a transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alochat/realtime/internal/model"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotMember is returned when a user acts on a conversation they do not belong to.
	ErrNotMember = errors.New("store: not a conversation member")
)

// UserStore reads user records and persists presence transitions.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	// SetPresence writes the user's status. Going offline also sets
	// last_online to at; going online leaves last_online untouched.
	SetPresence(ctx context.Context, userID string, status model.Presence, at time.Time) error
}

// ConversationStore reads membership and updates the last-activity marker.
type ConversationStore interface {
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
	TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error
}

// FriendshipStore reads the accepted friend graph.
type FriendshipStore interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// MessageStore persists messages and their per-recipient status entries.
type MessageStore interface {
	// InsertMessage stores msg and assigns msg.ID.
	InsertMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	// AppendStatus adds entry unless the message already has an entry for
	// entry.UserID. It reports whether an entry was added.
	AppendStatus(ctx context.Context, messageID string, entry model.StatusEntry) (bool, error)
	// MarkConversationRead adds a read entry for userID to every message in the
	// conversation not sent by userID and not already read by userID.
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error)
	// UnreadCounts counts, per conversation, messages sent by others that
	// viewerID has not read.
	UnreadCounts(ctx context.Context, viewerID string, conversationIDs []string) (map[string]int64, error)
}

// Store bundles every collaborator; the mongo and memory backends implement it.
type Store interface {
	UserStore
	ConversationStore
	FriendshipStore
	MessageStore
	Close(ctx context.Context) error
}

// Contains reports whether ids holds id.
func Contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Without returns ids minus every occurrence of id.
func Without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// RequireMember loads the member ids of a conversation and checks that
// userID is one of them.
func RequireMember(ctx context.Context, convs ConversationStore, conversationID, userID string) ([]string, error) {
	ids, err := convs.MemberIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !Contains(ids, userID) {
		return nil, ErrNotMember
	}
	return ids, nil
}
