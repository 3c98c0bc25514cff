package mongostore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alochat/realtime/internal/model"
)

type userDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Username    string             `bson:"username"`
	DisplayName string             `bson:"display_name"`
	AvatarURL   string             `bson:"avatar_url,omitempty"`
	Status      string             `bson:"status,omitempty"`
	LastOnline  *time.Time         `bson:"last_online,omitempty"`
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		ID:          d.ID.Hex(),
		Username:    d.Username,
		DisplayName: d.DisplayName,
		AvatarURL:   d.AvatarURL,
		Status:      model.Presence(d.Status),
		LastOnline:  d.LastOnline,
	}
}

type memberDoc struct {
	UserID   string    `bson:"user_id"`
	Role     string    `bson:"role,omitempty"`
	JoinedAt time.Time `bson:"joined_at,omitempty"`
}

type conversationDoc struct {
	ID            primitive.ObjectID `bson:"_id"`
	Type          string             `bson:"type,omitempty"`
	Name          string             `bson:"name,omitempty"`
	Members       []memberDoc        `bson:"members"`
	LastMessageAt *time.Time         `bson:"last_message_at,omitempty"`
}

func (d *conversationDoc) toModel() *model.Conversation {
	c := &model.Conversation{
		ID:            d.ID.Hex(),
		Type:          d.Type,
		Name:          d.Name,
		LastMessageAt: d.LastMessageAt,
		Members:       make([]model.Member, 0, len(d.Members)),
	}
	for _, m := range d.Members {
		c.Members = append(c.Members, model.Member{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	return c
}

type friendshipDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	FromUserID string             `bson:"from_user_id"`
	ToUserID   string             `bson:"to_user_id"`
	Status     string             `bson:"status"`
	CreatedAt  time.Time          `bson:"created_at"`
}

func (d *friendshipDoc) toModel() *model.Friendship {
	return &model.Friendship{
		ID:         d.ID.Hex(),
		FromUserID: d.FromUserID,
		ToUserID:   d.ToUserID,
		Status:     model.FriendshipStatus(d.Status),
		CreatedAt:  d.CreatedAt,
	}
}

type statusDoc struct {
	UserID string    `bson:"user_id"`
	Status string    `bson:"status"`
	At     time.Time `bson:"at"`
}

func newStatusDoc(e model.StatusEntry) statusDoc {
	return statusDoc{UserID: e.UserID, Status: string(e.Status), At: e.At.UTC()}
}

type fileDoc struct {
	URL      string `bson:"url"`
	Name     string `bson:"name"`
	Size     int64  `bson:"size"`
	MimeType string `bson:"mime_type,omitempty"`
}

type messageDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	ConversationID string             `bson:"conversation_id"`
	SenderID       string             `bson:"sender_id"`
	Content        string             `bson:"content"`
	Type           string             `bson:"type"`
	File           *fileDoc           `bson:"file,omitempty"`
	Status         []statusDoc        `bson:"status"`
	CreatedAt      time.Time          `bson:"created_at"`
}

func newMessageDoc(m *model.Message) *messageDoc {
	d := &messageDoc{
		ID:             primitive.NewObjectID(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		CreatedAt:      m.CreatedAt.UTC(),
		Status:         make([]statusDoc, 0, len(m.Status)),
	}
	if m.File != nil {
		d.File = &fileDoc{URL: m.File.URL, Name: m.File.Name, Size: m.File.Size, MimeType: m.File.MimeType}
	}
	for _, e := range m.Status {
		d.Status = append(d.Status, newStatusDoc(e))
	}
	return d
}

func (d *messageDoc) toModel() *model.Message {
	m := &model.Message{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Type:           model.MessageType(d.Type),
		CreatedAt:      d.CreatedAt,
		Status:         make([]model.StatusEntry, 0, len(d.Status)),
	}
	if d.File != nil {
		m.File = &model.FileAttachment{URL: d.File.URL, Name: d.File.Name, Size: d.File.Size, MimeType: d.File.MimeType}
	}
	for _, s := range d.Status {
		m.Status = append(m.Status, model.StatusEntry{UserID: s.UserID, Status: model.DeliveryStatus(s.Status), At: s.At})
	}
	return m
}
