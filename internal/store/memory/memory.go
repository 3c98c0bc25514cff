// Package memory is an in-process implementation of store.Store used by
// tests and by `chatd serve --store memory` for local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/store"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	order         []string // message ids in insertion order
	friendships   map[string]*model.Friendship
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
		friendships:   make(map[string]*model.Friendship),
	}
}

// PutUser inserts or replaces a user. An empty ID is generated.
func (s *Store) PutUser(u model.User) model.User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
	return u
}

// PutConversation inserts or replaces a conversation. An empty ID is generated.
func (s *Store) PutConversation(c model.Conversation) model.Conversation {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Members = append([]model.Member(nil), c.Members...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = &c
	return c
}

// PutFriendship inserts or replaces a friendship edge. An empty ID is generated.
func (s *Store) PutFriendship(f model.Friendship) model.Friendship {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendships[f.ID] = &f
	return f
}

// Messages returns copies of a conversation's messages in insertion order.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, id := range s.order {
		if m := s.messages[id]; m.ConversationID == conversationID {
			out = append(out, copyMessage(m))
		}
	}
	return out
}

// GetUser implements store.UserStore.
func (s *Store) GetUser(_ context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// SetPresence implements store.UserStore.
func (s *Store) SetPresence(_ context.Context, userID string, status model.Presence, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Status = status
	if status == model.Offline {
		at = at.UTC()
		u.LastOnline = &at
	}
	return nil
}

// GetConversation implements store.ConversationStore.
func (s *Store) GetConversation(_ context.Context, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	cp.Members = append([]model.Member(nil), c.Members...)
	return &cp, nil
}

// MemberIDs implements store.ConversationStore.
func (s *Store) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.MemberIDs(), nil
}

// TouchLastMessage implements store.ConversationStore.
func (s *Store) TouchLastMessage(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	at = at.UTC()
	c.LastMessageAt = &at
	return nil
}

// FriendIDs implements store.FriendshipStore.
func (s *Store) FriendIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, f := range s.friendships {
		if f.Status != model.FriendshipAccepted {
			continue
		}
		if f.FromUserID == userID || f.ToUserID == userID {
			ids = append(ids, f.Other(userID))
		}
	}
	return ids, nil
}

// AreFriends implements store.FriendshipStore.
func (s *Store) AreFriends(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.friendships {
		if f.Status != model.FriendshipAccepted {
			continue
		}
		if (f.FromUserID == a && f.ToUserID == b) || (f.FromUserID == b && f.ToUserID == a) {
			return true, nil
		}
	}
	return false, nil
}

// InsertMessage implements store.MessageStore.
func (s *Store) InsertMessage(_ context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	cp := copyMessage(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = &cp
	s.order = append(s.order, msg.ID)
	return nil
}

// GetMessage implements store.MessageStore.
func (s *Store) GetMessage(_ context.Context, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := copyMessage(m)
	return &cp, nil
}

// AppendStatus implements store.MessageStore.
func (s *Store) AppendStatus(_ context.Context, messageID string, entry model.StatusEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, store.ErrNotFound
	}
	if _, exists := m.StatusOf(entry.UserID); exists {
		return false, nil
	}
	m.Status = append(m.Status, entry)
	return true, nil
}

// MarkConversationRead implements store.MessageStore.
func (s *Store) MarkConversationRead(_ context.Context, conversationID, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.order {
		m := s.messages[id]
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if _, exists := m.StatusOf(userID); exists {
			continue
		}
		m.Status = append(m.Status, model.StatusEntry{UserID: userID, Status: model.StatusRead, At: at})
		n++
	}
	return n, nil
}

// UnreadCounts implements store.MessageStore.
func (s *Store) UnreadCounts(_ context.Context, viewerID string, conversationIDs []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64, len(conversationIDs))
	wanted := make(map[string]struct{}, len(conversationIDs))
	for _, id := range conversationIDs {
		counts[id] = 0
		wanted[id] = struct{}{}
	}
	for _, m := range s.messages {
		if _, ok := wanted[m.ConversationID]; !ok || m.SenderID == viewerID {
			continue
		}
		if !m.ReadBy(viewerID) {
			counts[m.ConversationID]++
		}
	}
	return counts, nil
}

// Close implements store.Store.
func (s *Store) Close(context.Context) error { return nil }

func copyMessage(m *model.Message) model.Message {
	cp := *m
	cp.Status = append([]model.StatusEntry(nil), m.Status...)
	if m.File != nil {
		f := *m.File
		cp.File = &f
	}
	return cp
}
