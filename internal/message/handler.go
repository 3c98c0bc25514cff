// Package message handles message:send, message:read and message:read_all.
package message

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/dispatch"
	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/store"
	"github.com/alochat/realtime/internal/worker"
)

// Store is the slice of the record store the handler needs.
type Store interface {
	store.ConversationStore
	store.MessageStore
}

// Submitter queues detached work.
type Submitter interface {
	Submit(job worker.Job) error
}

// Handler mutates message status records and triggers fan-out.
type Handler struct {
	store         Store
	registry      *registry.Registry
	pool          Submitter
	now           func() time.Time
	fanoutTimeout time.Duration
	log           *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithFanoutTimeout bounds each detached fan-out job.
func WithFanoutTimeout(d time.Duration) Option {
	return func(h *Handler) { h.fanoutTimeout = d }
}

// New creates a Handler.
func New(st Store, reg *registry.Registry, pool Submitter, log *zap.Logger, opts ...Option) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		store:         st,
		registry:      reg,
		pool:          pool,
		now:           time.Now,
		fanoutTimeout: 10 * time.Second,
		log:           log.With(zap.String("component", "message")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register binds the handler's events on r.
func (h *Handler) Register(r *dispatch.Router) {
	r.Handle(protocol.EventMessageSend, h.Send)
	r.Handle(protocol.EventMessageRead, h.Read)
	r.Handle(protocol.EventReadAll, h.ReadAll)
}

// Send persists the message with the sender's sent entry, echoes it to the
// sender's own connections with the client correlation id, then queues the
// last-activity update and the delivery to every other member.
func (h *Handler) Send(ctx context.Context, userID string, env protocol.Envelope) dispatch.Result {
	var p protocol.SendMessage
	if err := env.DecodeData(&p); err != nil {
		return dispatch.FromError(err)
	}
	if err := p.Validate(); err != nil {
		return dispatch.FromError(err)
	}

	members, err := store.RequireMember(ctx, h.store, p.ConversationID, userID)
	if err != nil {
		return dispatch.FromError(err)
	}

	now := h.now().UTC()
	msg := &model.Message{
		ConversationID: p.ConversationID,
		SenderID:       userID,
		Content:        p.Content,
		Type:           p.Type,
		File:           p.File,
		Status:         []model.StatusEntry{{UserID: userID, Status: model.StatusSent, At: now}},
		CreatedAt:      now,
	}
	if err := h.store.InsertMessage(ctx, msg); err != nil {
		return dispatch.FromError(err)
	}

	echo, err := protocol.Encode(protocol.EventMessageNew, protocol.MessageNew{Message: *msg, ClientID: p.ClientID})
	if err != nil {
		return dispatch.Fail(dispatch.CodeInternal, err)
	}
	h.registry.DeliverToUser(userID, echo)

	frame, err := protocol.Encode(protocol.EventMessageNew, protocol.MessageNew{Message: *msg})
	if err != nil {
		return dispatch.Fail(dispatch.CodeInternal, err)
	}
	others := store.Without(members, userID)
	conversationID := msg.ConversationID

	job := worker.Job{
		Name:    "message.fanout",
		Timeout: h.fanoutTimeout,
		Run: func(ctx context.Context) error {
			h.registry.DeliverToUsers(others, frame)
			return h.store.TouchLastMessage(ctx, conversationID, now)
		},
	}
	if err := h.pool.Submit(job); err != nil {
		// The message is stored and echoed; only the fan-out is lost.
		h.log.Warn("fan-out dropped",
			zap.String("message_id", msg.ID), zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return dispatch.OK()
}

// Read appends the caller's read entry to one message and tells the sender.
// A repeated read changes nothing and sends nothing.
func (h *Handler) Read(ctx context.Context, userID string, env protocol.Envelope) dispatch.Result {
	var p protocol.ReadMessage
	if err := env.DecodeData(&p); err != nil {
		return dispatch.FromError(err)
	}
	if err := p.Validate(); err != nil {
		return dispatch.FromError(err)
	}

	if _, err := store.RequireMember(ctx, h.store, p.ConversationID, userID); err != nil {
		return dispatch.FromError(err)
	}
	msg, err := h.store.GetMessage(ctx, p.MessageID)
	if err != nil {
		return dispatch.FromError(err)
	}
	if msg.ConversationID != p.ConversationID {
		return dispatch.Fail(dispatch.CodeNotFound, errors.New("message is not in the conversation"))
	}

	added, err := h.store.AppendStatus(ctx, msg.ID, model.StatusEntry{UserID: userID, Status: model.StatusRead, At: h.now().UTC()})
	if err != nil {
		return dispatch.FromError(err)
	}
	if !added || msg.SenderID == userID {
		return dispatch.OK()
	}

	frame, err := protocol.Encode(protocol.EventMessageStatus, protocol.MessageStatus{
		ConversationID: p.ConversationID,
		MessageID:      msg.ID,
		Status:         model.StatusRead,
		UserID:         userID,
	})
	if err != nil {
		return dispatch.Fail(dispatch.CodeInternal, err)
	}
	h.registry.DeliverToUser(msg.SenderID, frame)
	return dispatch.OK()
}

// ReadAll marks every message from others in the conversation read by the
// caller and sends one coarse signal to the other members.
func (h *Handler) ReadAll(ctx context.Context, userID string, env protocol.Envelope) dispatch.Result {
	var p protocol.ConversationRef
	if err := env.DecodeData(&p); err != nil {
		return dispatch.FromError(err)
	}
	if err := p.Validate(); err != nil {
		return dispatch.FromError(err)
	}

	members, err := store.RequireMember(ctx, h.store, p.ConversationID, userID)
	if err != nil {
		return dispatch.FromError(err)
	}
	n, err := h.store.MarkConversationRead(ctx, p.ConversationID, userID, h.now().UTC())
	if err != nil {
		return dispatch.FromError(err)
	}

	frame, err := protocol.Encode(protocol.EventReadAll, protocol.ReadAll{ConversationID: p.ConversationID, UserID: userID})
	if err != nil {
		return dispatch.Fail(dispatch.CodeInternal, err)
	}
	h.registry.DeliverToUsers(store.Without(members, userID), frame)
	h.log.Debug("conversation read",
		zap.String("conversation_id", p.ConversationID), zap.String("user_id", userID), zap.Int64("marked", n))
	return dispatch.OK()
}
