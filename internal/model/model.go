// Package model holds the records the realtime engine reads from and appends
// to in the external store.
package model

import "time"

// DeliveryStatus is a per-recipient message state. Only sent and read are
// produced; there is no delivered transition.
type DeliveryStatus string

const (
	StatusSent DeliveryStatus = "sent"
	StatusRead DeliveryStatus = "read"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageImage, MessageSystem:
		return true
	}
	return false
}

// StatusEntry records one user's action on a message.
type StatusEntry struct {
	UserID string         `json:"userId"`
	Status DeliveryStatus `json:"status"`
	At     time.Time      `json:"at"`
}

// FileAttachment references an uploaded file.
type FileAttachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message is a persisted chat message. Status holds at most one entry per user.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Content        string          `json:"content"`
	Type           MessageType     `json:"type"`
	File           *FileAttachment `json:"file,omitempty"`
	Status         []StatusEntry   `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// StatusOf returns the entry recorded for userID, if any.
func (m *Message) StatusOf(userID string) (StatusEntry, bool) {
	for _, s := range m.Status {
		if s.UserID == userID {
			return s, true
		}
	}
	return StatusEntry{}, false
}

// ReadBy reports whether userID has a read entry.
func (m *Message) ReadBy(userID string) bool {
	s, ok := m.StatusOf(userID)
	return ok && s.Status == StatusRead
}

// Member is one participant of a conversation.
type Member struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Conversation member roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Conversation kinds.
const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
	ConversationSelf    = "self"
)

// Conversation is the subset of a conversation record the engine reads.
type Conversation struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Name          string     `json:"name,omitempty"`
	Members       []Member   `json:"members"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// MemberIDs projects the member list to user ids.
func (c *Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// User is the subset of a user record the engine reads.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Status      Presence   `json:"status,omitempty"`
	LastOnline  *time.Time `json:"lastOnline,omitempty"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// FriendshipStatus is the state of a directed friend request.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
)

// Friendship is a directed request edge; accepted edges form the friend graph.
type Friendship struct {
	ID         string           `json:"id"`
	FromUserID string           `json:"fromUserId"`
	ToUserID   string           `json:"toUserId"`
	Status     FriendshipStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Other returns the endpoint of f that is not userID.
func (f *Friendship) Other(userID string) string {
	if f.FromUserID == userID {
		return f.ToUserID
	}
	return f.FromUserID
}

// Presence is the derived reachability of a user.
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)
