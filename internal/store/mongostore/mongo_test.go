package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alochat/realtime/internal/config"
	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/store"
)

func TestMessageDocRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m := &model.Message{
		ConversationID: "c1",
		SenderID:       "a",
		Content:        "report.pdf",
		Type:           model.MessageFile,
		File:           &model.FileAttachment{URL: "/files/1", Name: "report.pdf", Size: 42},
		Status:         []model.StatusEntry{{UserID: "a", Status: model.StatusSent, At: at}},
		CreatedAt:      at,
	}

	doc := newMessageDoc(m)
	require.False(t, doc.ID.IsZero())

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var fields bson.M
	require.NoError(t, bson.Unmarshal(raw, &fields))
	assert.Equal(t, "c1", fields["conversation_id"])
	assert.Equal(t, "a", fields["sender_id"])

	var decoded messageDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	got := decoded.toModel()
	assert.Equal(t, doc.ID.Hex(), got.ID)
	assert.Equal(t, m.File, got.File)
	require.Len(t, got.Status, 1)
	assert.Equal(t, model.StatusSent, got.Status[0].Status)
}

func TestObjectIDRejectsGarbage(t *testing.T) {
	_, err := objectID("not-hex")
	assert.ErrorIs(t, err, store.ErrNotFound)

	id := primitive.NewObjectID()
	got, err := objectID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

// TestStoreAgainstMongo exercises the adapter against a live server. It runs
// only when CHATD_TEST_MONGO_URI is set.
func TestStoreAgainstMongo(t *testing.T) {
	uri := os.Getenv("CHATD_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHATD_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	db := "chatd_test_" + primitive.NewObjectID().Hex()
	s, err := Connect(ctx, config.MongoConfig{URI: uri, Database: db, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.Database(db).Drop(context.Background())
		_ = s.Close(context.Background())
	})

	userA, userB := primitive.NewObjectID(), primitive.NewObjectID()
	_, err = s.users.InsertOne(ctx, userDoc{ID: userA, Username: "a", DisplayName: "Alice"})
	require.NoError(t, err)

	convID := primitive.NewObjectID()
	_, err = s.conversations.InsertOne(ctx, conversationDoc{
		ID:      convID,
		Type:    model.ConversationPrivate,
		Members: []memberDoc{{UserID: userA.Hex()}, {UserID: userB.Hex()}},
	})
	require.NoError(t, err)

	_, err = s.friendships.InsertOne(ctx, friendshipDoc{
		ID: primitive.NewObjectID(), FromUserID: userA.Hex(), ToUserID: userB.Hex(),
		Status: string(model.FriendshipAccepted), CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	t.Run("membership and friends", func(t *testing.T) {
		ids, err := s.MemberIDs(ctx, convID.Hex())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{userA.Hex(), userB.Hex()}, ids)

		friends, err := s.FriendIDs(ctx, userB.Hex())
		require.NoError(t, err)
		assert.Equal(t, []string{userA.Hex()}, friends)

		ok, err := s.AreFriends(ctx, userB.Hex(), userA.Hex())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("status lifecycle", func(t *testing.T) {
		now := time.Now()
		m := &model.Message{
			ConversationID: convID.Hex(), SenderID: userA.Hex(), Content: "hi", Type: model.MessageText,
			Status: []model.StatusEntry{{UserID: userA.Hex(), Status: model.StatusSent, At: now}}, CreatedAt: now,
		}
		require.NoError(t, s.InsertMessage(ctx, m))

		counts, err := s.UnreadCounts(ctx, userB.Hex(), []string{convID.Hex()})
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[convID.Hex()])

		added, err := s.AppendStatus(ctx, m.ID, model.StatusEntry{UserID: userB.Hex(), Status: model.StatusRead, At: now})
		require.NoError(t, err)
		assert.True(t, added)
		added, err = s.AppendStatus(ctx, m.ID, model.StatusEntry{UserID: userB.Hex(), Status: model.StatusRead, At: now})
		require.NoError(t, err)
		assert.False(t, added)

		n, err := s.MarkConversationRead(ctx, convID.Hex(), userB.Hex(), now)
		require.NoError(t, err)
		assert.Zero(t, n)

		counts, err = s.UnreadCounts(ctx, userB.Hex(), []string{convID.Hex()})
		require.NoError(t, err)
		assert.Zero(t, counts[convID.Hex()])

		_, err = s.AppendStatus(ctx, primitive.NewObjectID().Hex(), model.StatusEntry{UserID: userB.Hex()})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("timestamps", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.SetPresence(ctx, userA.Hex(), model.Online, at))
		u, err := s.GetUser(ctx, userA.Hex())
		require.NoError(t, err)
		assert.Equal(t, model.Online, u.Status)

		require.NoError(t, s.SetPresence(ctx, userA.Hex(), model.Offline, at))
		u, err = s.GetUser(ctx, userA.Hex())
		require.NoError(t, err)
		assert.Equal(t, model.Offline, u.Status)
		require.NotNil(t, u.LastOnline)
		assert.True(t, at.Equal(*u.LastOnline))

		var raw bson.M
		require.NoError(t, s.users.FindOne(ctx, bson.M{"_id": userA}).Decode(&raw))
		assert.Equal(t, "offline", raw["status"], "CRUD readers see the plain status string")

		require.NoError(t, s.TouchLastMessage(ctx, convID.Hex(), at))
		assert.ErrorIs(t, s.TouchLastMessage(ctx, primitive.NewObjectID().Hex(), at), store.ErrNotFound)
	})
}
