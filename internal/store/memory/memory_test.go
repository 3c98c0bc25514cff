package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/store"
)

func seedConversation(s *Store, members ...string) model.Conversation {
	c := model.Conversation{Type: model.ConversationGroup}
	for _, id := range members {
		c.Members = append(c.Members, model.Member{UserID: id, Role: model.RoleMember})
	}
	return s.PutConversation(c)
}

func insert(t *testing.T, s *Store, convID, sender string) *model.Message {
	t.Helper()
	m := &model.Message{
		ConversationID: convID,
		SenderID:       sender,
		Content:        "hi",
		Type:           model.MessageText,
		Status:         []model.StatusEntry{{UserID: sender, Status: model.StatusSent, At: time.Now()}},
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.InsertMessage(context.Background(), m))
	require.NotEmpty(t, m.ID)
	return m
}

func TestAppendStatusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := seedConversation(s, "a", "b")
	m := insert(t, s, c.ID, "a")

	added, err := s.AppendStatus(ctx, m.ID, model.StatusEntry{UserID: "b", Status: model.StatusRead, At: time.Now()})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AppendStatus(ctx, m.ID, model.StatusEntry{UserID: "b", Status: model.StatusRead, At: time.Now()})
	require.NoError(t, err)
	assert.False(t, added)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, got.Status, 2)

	_, err = s.AppendStatus(ctx, "missing", model.StatusEntry{UserID: "b"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkConversationRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := seedConversation(s, "a", "b")
	other := seedConversation(s, "a", "b")

	insert(t, s, c.ID, "a")
	insert(t, s, c.ID, "a")
	own := insert(t, s, c.ID, "b")
	insert(t, s, other.ID, "a")

	n, err := s.MarkConversationRead(ctx, c.ID, "b", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.MarkConversationRead(ctx, c.ID, "b", time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "second pass must not duplicate entries")

	for _, m := range s.Messages(c.ID) {
		if m.ID == own.ID {
			assert.False(t, m.ReadBy("b"), "own message must not gain a read entry")
			assert.Len(t, m.Status, 1)
			continue
		}
		assert.True(t, m.ReadBy("b"))
		assert.Len(t, m.Status, 2)
	}

	counts, err := s.UnreadCounts(ctx, "b", []string{c.ID, other.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{c.ID: 0, other.ID: 1}, counts)
}

func TestFriendIDsOnlyAccepted(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutFriendship(model.Friendship{FromUserID: "a", ToUserID: "b", Status: model.FriendshipAccepted})
	s.PutFriendship(model.Friendship{FromUserID: "c", ToUserID: "a", Status: model.FriendshipAccepted})
	s.PutFriendship(model.Friendship{FromUserID: "a", ToUserID: "d", Status: model.FriendshipPending})
	s.PutFriendship(model.Friendship{FromUserID: "e", ToUserID: "a", Status: model.FriendshipRejected})

	ids, err := s.FriendIDs(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, ids)

	ok, err := s.AreFriends(ctx, "b", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AreFriends(ctx, "a", "d")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUsersAndConversations(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := s.PutUser(model.User{Username: "alice"})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetPresence(ctx, u.ID, model.Online, at))
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Online, got.Status)
	assert.Nil(t, got.LastOnline, "going online leaves last_online alone")

	require.NoError(t, s.SetPresence(ctx, u.ID, model.Offline, at))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Offline, got.Status)
	require.NotNil(t, got.LastOnline)
	assert.True(t, at.Equal(*got.LastOnline))
	assert.Equal(t, "alice", got.Name())

	require.NoError(t, s.SetPresence(ctx, u.ID, model.Online, at.Add(time.Hour)))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Online, got.Status)
	assert.True(t, at.Equal(*got.LastOnline), "the previous offline time is kept")

	assert.ErrorIs(t, s.SetPresence(ctx, "ghost", model.Offline, at), store.ErrNotFound)

	c := seedConversation(s, u.ID, "b")
	ids, err := s.MemberIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID, "b"}, ids)

	require.NoError(t, s.TouchLastMessage(ctx, c.ID, at))
	conv, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageAt)

	_, err = store.RequireMember(ctx, s, c.ID, "stranger")
	assert.ErrorIs(t, err, store.ErrNotMember)
	_, err = store.RequireMember(ctx, s, "nope", u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentAppendKeepsOneEntryPerUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := seedConversation(s, "a", "b")
	m := insert(t, s, c.ID, "a")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AppendStatus(ctx, m.ID, model.StatusEntry{UserID: "b", Status: model.StatusRead, At: time.Now()})
		}()
	}
	wg.Wait()

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, got.Status, 2)
}
