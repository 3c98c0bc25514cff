package protocol

import (
	"time"

	"github.com/alochat/realtime/internal/model"
)

// SendMessage is the message:send payload.
type SendMessage struct {
	ConversationID string                `json:"conversationId"`
	Content        string                `json:"content"`
	Type           model.MessageType     `json:"type,omitempty"`
	File           *model.FileAttachment `json:"file,omitempty"`
	ClientID       string                `json:"clientId,omitempty"`
}

// Validate checks required fields and defaults the message type.
func (p *SendMessage) Validate() error {
	if err := requireField("conversationId", p.ConversationID); err != nil {
		return err
	}
	if p.Type == "" {
		p.Type = model.MessageText
	}
	if !p.Type.Valid() {
		return ErrInvalidType
	}
	if p.File == nil {
		return requireField("content", p.Content)
	}
	return requireField("file.url", p.File.URL)
}

// ReadMessage is the message:read payload.
type ReadMessage struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Validate checks required fields.
func (p *ReadMessage) Validate() error {
	if err := requireField("conversationId", p.ConversationID); err != nil {
		return err
	}
	return requireField("messageId", p.MessageID)
}

// ConversationRef is the payload of message:read_all and user:typing requests.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// Validate checks required fields.
func (p *ConversationRef) Validate() error {
	return requireField("conversationId", p.ConversationID)
}

// MessageNew is the message:new payload. ClientID is set only on the echo
// sent back to the sender's own connections.
type MessageNew struct {
	model.Message
	ClientID string `json:"clientId,omitempty"`
}

// MessageStatus is the message:status payload sent to the original sender.
type MessageStatus struct {
	ConversationID string               `json:"conversationId"`
	MessageID      string               `json:"messageId"`
	Status         model.DeliveryStatus `json:"status"`
	UserID         string               `json:"userId"`
}

// ReadAll is the coarse message:read_all signal sent to other members.
type ReadAll struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// Typing is the user:typing payload relayed to other members.
type Typing struct {
	ConversationID  string `json:"conversationId"`
	UserID          string `json:"userId"`
	UserDisplayName string `json:"userDisplayName"`
}

// UserStatus is the user:status presence notification.
type UserStatus struct {
	UserID     string         `json:"userId"`
	Status     model.Presence `json:"status"`
	LastOnline *time.Time     `json:"lastOnline,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Time int64 `json:"ts"`
}

// FriendRequest is the friend:request_received payload.
type FriendRequest struct {
	ID             string                 `json:"id"`
	FromUserID     string                 `json:"fromUserId"`
	FromUserName   string                 `json:"fromUserName"`
	FromUserAvatar string                 `json:"fromUserAvatar,omitempty"`
	Status         model.FriendshipStatus `json:"status"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// FriendAccepted is the friend:request_accepted payload sent to the requester.
type FriendAccepted struct {
	RequestID string     `json:"requestId"`
	NewFriend model.User `json:"newFriend"`
}
