// Package mongostore implements store.Store on MongoDB. Collection and field
// names follow the records written by the CRUD layer: users, conversations,
// messages and friendships with snake_case keys.
package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alochat/realtime/internal/config"
	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/store"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	friendshipsCollection   = "friendships"
)

// Store is a MongoDB-backed store.Store.
type Store struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	friendships   *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}

	s := New(client, cfg.Database)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:        client,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		friendships:   db.Collection(friendshipsCollection),
	}
}

// EnsureIndexes creates the indexes the engine's queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.conversations, mongo.IndexModel{Keys: bson.D{{Key: "members.user_id", Value: 1}}}},
		{s.messages, mongo.IndexModel{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}}},
		{s.messages, mongo.IndexModel{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sender_id", Value: 1}}}},
		{s.friendships, mongo.IndexModel{Keys: bson.D{{Key: "from_user_id", Value: 1}, {Key: "status", Value: 1}}}},
		{s.friendships, mongo.IndexModel{Keys: bson.D{{Key: "to_user_id", Value: 1}, {Key: "status", Value: 1}}}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateOne(ctx, spec.model); err != nil {
			return errors.Wrapf(err, "create index on %s", spec.coll.Name())
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func objectID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, store.ErrNotFound
	}
	return id, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return errors.Wrap(err, what)
}

// GetUser implements store.UserStore.
func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	id, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "find user")
	}
	return doc.toModel(), nil
}

// SetPresence implements store.UserStore. The status field is the one the
// CRUD layer reads for friend and user listings.
func (s *Store) SetPresence(ctx context.Context, userID string, status model.Presence, at time.Time) error {
	id, err := objectID(userID)
	if err != nil {
		return err
	}
	set := bson.M{"status": string(status)}
	if status == model.Offline {
		set["last_online"] = at.UTC()
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return errors.Wrap(err, "update user presence")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetConversation implements store.ConversationStore.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	id, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "find conversation")
	}
	return doc.toModel(), nil
}

// MemberIDs implements store.ConversationStore.
func (s *Store) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	id, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	var doc conversationDoc
	opts := options.FindOne().SetProjection(bson.M{"members.user_id": 1})
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		return nil, notFound(err, "find conversation members")
	}
	return doc.toModel().MemberIDs(), nil
}

// TouchLastMessage implements store.ConversationStore.
func (s *Store) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	id, err := objectID(conversationID)
	if err != nil {
		return err
	}
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_message_at": at.UTC()}})
	if err != nil {
		return errors.Wrap(err, "update last_message_at")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func acceptedWith(userID string) bson.M {
	return bson.M{
		"status": string(model.FriendshipAccepted),
		"$or": bson.A{
			bson.M{"from_user_id": userID},
			bson.M{"to_user_id": userID},
		},
	}
}

// FriendIDs implements store.FriendshipStore.
func (s *Store) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	cur, err := s.friendships.Find(ctx, acceptedWith(userID))
	if err != nil {
		return nil, errors.Wrap(err, "find friendships")
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc friendshipDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode friendship")
		}
		f := doc.toModel()
		ids = append(ids, f.Other(userID))
	}
	return ids, errors.Wrap(cur.Err(), "iterate friendships")
}

// AreFriends implements store.FriendshipStore.
func (s *Store) AreFriends(ctx context.Context, a, b string) (bool, error) {
	n, err := s.friendships.CountDocuments(ctx, bson.M{
		"status": string(model.FriendshipAccepted),
		"$or": bson.A{
			bson.M{"from_user_id": a, "to_user_id": b},
			bson.M{"from_user_id": b, "to_user_id": a},
		},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "count friendships")
	}
	return n > 0, nil
}

// InsertMessage implements store.MessageStore.
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	doc := newMessageDoc(msg)
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return errors.Wrap(err, "insert message")
	}
	msg.ID = doc.ID.Hex()
	return nil
}

// GetMessage implements store.MessageStore.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	id, err := objectID(messageID)
	if err != nil {
		return nil, err
	}
	var doc messageDoc
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "find message")
	}
	return doc.toModel(), nil
}

// AppendStatus implements store.MessageStore. The $ne guard in the filter
// makes the push atomic with the "no entry yet" check.
func (s *Store) AppendStatus(ctx context.Context, messageID string, entry model.StatusEntry) (bool, error) {
	id, err := objectID(messageID)
	if err != nil {
		return false, err
	}
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": id, "status.user_id": bson.M{"$ne": entry.UserID}},
		bson.M{"$push": bson.M{"status": newStatusDoc(entry)}},
	)
	if err != nil {
		return false, errors.Wrap(err, "append status")
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}

	n, err := s.messages.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "count message")
	}
	if n == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

// MarkConversationRead implements store.MessageStore.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	entry := newStatusDoc(model.StatusEntry{UserID: userID, Status: model.StatusRead, At: at})
	res, err := s.messages.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"sender_id":       bson.M{"$ne": userID},
			"status.user_id":  bson.M{"$ne": userID},
		},
		bson.M{"$push": bson.M{"status": entry}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "mark conversation read")
	}
	return res.ModifiedCount, nil
}

// UnreadCounts implements store.MessageStore.
func (s *Store) UnreadCounts(ctx context.Context, viewerID string, conversationIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}
	for _, id := range conversationIDs {
		counts[id] = 0
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"conversation_id": bson.M{"$in": conversationIDs},
			"sender_id":       bson.M{"$ne": viewerID},
			"status": bson.M{"$not": bson.M{"$elemMatch": bson.M{
				"user_id": viewerID,
				"status":  string(model.StatusRead),
			}}},
		}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "n": bson.M{"$sum": 1}}}},
	}
	cur, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate unread")
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
			N  int64  `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, errors.Wrap(err, "decode unread row")
		}
		counts[row.ID] = row.N
	}
	return counts, errors.Wrap(cur.Err(), "iterate unread")
}
