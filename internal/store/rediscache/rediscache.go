// Package rediscache caches conversation member ids in Redis in front of a
// store.ConversationStore. Fan-out reads membership on every send, typing
// and read_all event; membership changes are rare and come from the CRUD
// layer, which calls Invalidate (or simply waits for the TTL).
package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/store"
)

// emptyMarker keeps the set non-empty so an existing key always means "cached".
const emptyMarker = "\x00"

// genTTL bounds the life of the invalidation counter. It only has to outlive
// one backing-store read.
const genTTL = time.Hour

// Conversations decorates a ConversationStore with a membership cache.
type Conversations struct {
	next store.ConversationStore
	rdb  redis.UniversalClient
	ttl  time.Duration
	log  *zap.Logger
}

var _ store.ConversationStore = (*Conversations)(nil)

// New wraps next. A non-positive ttl defaults to 30s.
func New(next store.ConversationStore, rdb redis.UniversalClient, ttl time.Duration, log *zap.Logger) *Conversations {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Conversations{next: next, rdb: rdb, ttl: ttl, log: log.With(zap.String("component", "membership_cache"))}
}

// Keys of one conversation share a hash tag so the fill transaction stays in
// one cluster slot.
func membersKey(conversationID string) string {
	return "chatd:conv:{" + conversationID + "}:members"
}

// genKey is bumped by Invalidate. A fill watches it, so an invalidation that
// lands while the backing store is being read aborts the fill.
func genKey(conversationID string) string {
	return "chatd:conv:{" + conversationID + "}:gen"
}

// GetConversation passes through to the backing store.
func (c *Conversations) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return c.next.GetConversation(ctx, conversationID)
}

// MemberIDs serves from Redis when cached. A Redis failure falls back to the
// backing store so the cache never turns into an outage.
func (c *Conversations) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	key := membersKey(conversationID)

	cached, err := c.rdb.SMembers(ctx, key).Result()
	switch {
	case err != nil:
		c.log.Warn("membership cache read failed", zap.String("conversation_id", conversationID), zap.Error(err))
	case len(cached) > 0:
		return store.Without(cached, emptyMarker), nil
	}

	var (
		ids     []string
		loadErr error
		loaded  bool
	)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		ids, loadErr = c.next.MemberIDs(ctx, conversationID)
		loaded = true
		if loadErr != nil {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SAdd(ctx, key, markedMembers(ids)...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey(conversationID))

	switch {
	case !loaded:
		c.log.Warn("membership cache unavailable", zap.String("conversation_id", conversationID), zap.Error(err))
		return c.next.MemberIDs(ctx, conversationID)
	case loadErr != nil:
		return nil, loadErr
	case errors.Is(err, redis.TxFailedErr):
		c.log.Debug("membership changed during fill; not cached", zap.String("conversation_id", conversationID))
	case err != nil:
		c.log.Warn("membership cache fill failed", zap.String("key", key), zap.Error(err))
	}
	return ids, nil
}

func markedMembers(ids []string) []any {
	members := make([]any, 0, len(ids)+1)
	members = append(members, emptyMarker)
	for _, id := range ids {
		members = append(members, id)
	}
	return members
}

// TouchLastMessage passes through to the backing store.
func (c *Conversations) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	return c.next.TouchLastMessage(ctx, conversationID, at)
}

// Invalidate drops the cached member set for a conversation and bumps its
// generation so a fill already in flight is discarded.
func (c *Conversations) Invalidate(ctx context.Context, conversationID string) error {
	gen := genKey(conversationID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, genTTL)
		pipe.Del(ctx, membersKey(conversationID))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "invalidate membership cache")
	}
	return nil
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return rdb, nil
}
