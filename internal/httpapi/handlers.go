package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/friends"
	"github.com/alochat/realtime/internal/presence"
	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/store"
)

// maxQueryIDs bounds the id lists accepted by the query endpoints.
const maxQueryIDs = 200

func (a *api) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Alo Chat realtime", "version": Version})
}

func (a *api) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (a *api) stats(c *gin.Context) {
	conns, users := a.Registry.Stats()
	c.JSON(http.StatusOK, gin.H{"connections": conns, "reachableUsers": users})
}

// splitIDs parses a comma-separated id list, dropping blanks and duplicates.
func splitIDs(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func queryIDs(c *gin.Context, key string) ([]string, bool) {
	ids := splitIDs(c.Query(key))
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " is required"})
		return nil, false
	}
	if len(ids) > maxQueryIDs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids"})
		return nil, false
	}
	return ids, true
}

// presence reports derived status for the requested users the caller may
// observe: the caller and accepted friends. Others are left out.
func (a *api) presence(c *gin.Context) {
	ids, ok := queryIDs(c, "ids")
	if !ok {
		return
	}
	viewer := c.GetString(ctxUserID)
	ctx := c.Request.Context()

	visible := make([]string, 0, len(ids))
	for _, id := range ids {
		allowed, err := a.Presence.CanObserve(ctx, viewer, id)
		if err != nil {
			a.fail(c, err)
			return
		}
		if allowed {
			visible = append(visible, id)
		}
	}

	entries, err := a.Presence.Lookup(ctx, visible)
	if err != nil {
		a.fail(c, err)
		return
	}
	if entries == nil {
		entries = []presence.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"users": entries})
}

// unread counts, per conversation the caller belongs to, messages from
// others without a read entry for the caller.
func (a *api) unread(c *gin.Context) {
	ids, ok := queryIDs(c, "conversation_ids")
	if !ok {
		return
	}
	viewer := c.GetString(ctxUserID)
	ctx := c.Request.Context()

	member := make([]string, 0, len(ids))
	for _, id := range ids {
		_, err := store.RequireMember(ctx, a.Conversations, id, viewer)
		switch {
		case err == nil:
			member = append(member, id)
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotMember):
		default:
			a.fail(c, err)
			return
		}
	}

	counts, err := a.Messages.UnreadCounts(ctx, viewer, member)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

type pushRequest struct {
	Event   string          `json:"event" binding:"required"`
	UserIDs []string        `json:"userIds" binding:"required,min=1"`
	Data    json.RawMessage `json:"data"`
}

func (a *api) push(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := a.Pusher.Push(req.Event, req.UserIDs, req.Data)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

type friendRequestBody struct {
	RequestID  string `json:"requestId" binding:"required"`
	FromUserID string `json:"fromUserId" binding:"required"`
	ToUserID   string `json:"toUserId" binding:"required"`
}

func (a *api) friendRequest(c *gin.Context) {
	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := a.Pusher.RequestReceived(c.Request.Context(), req.RequestID, req.FromUserID, req.ToUserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

type friendAcceptedBody struct {
	RequestID   string `json:"requestId" binding:"required"`
	RequesterID string `json:"requesterId" binding:"required"`
	AccepterID  string `json:"accepterId" binding:"required"`
}

func (a *api) friendAccepted(c *gin.Context) {
	var req friendAcceptedBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := a.Pusher.RequestAccepted(c.Request.Context(), req.RequestID, req.RequesterID, req.AccepterID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

func (a *api) userUpdated(c *gin.Context) {
	n, err := a.Pusher.UserUpdated(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

func (a *api) invalidate(c *gin.Context) {
	if a.Invalidator != nil {
		if err := a.Invalidator.Invalidate(c.Request.Context(), c.Param("id")); err != nil {
			a.fail(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// fail maps domain errors onto status codes.
func (a *api) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, friends.ErrNotPushable), errors.Is(err, protocol.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		a.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
