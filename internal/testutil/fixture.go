package testutil

import (
	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/store/memory"
)

// Fixture is a memory store seeded with three users: Alice and Bob are
// accepted friends sharing a private conversation, Carol is a stranger to
// both. Dave has only a pending request to Alice.
type Fixture struct {
	Store *memory.Store
	Alice model.User
	Bob   model.User
	Carol model.User
	Dave  model.User
	// Private is the Alice and Bob conversation.
	Private model.Conversation
	// Group holds Alice, Bob and Carol.
	Group model.Conversation
}

// NewFixture builds the seeded store.
func NewFixture() *Fixture {
	s := memory.New()
	f := &Fixture{
		Store: s,
		Alice: s.PutUser(model.User{ID: "alice", Username: "alice", DisplayName: "Alice"}),
		Bob:   s.PutUser(model.User{ID: "bob", Username: "bob", DisplayName: "Bob"}),
		Carol: s.PutUser(model.User{ID: "carol", Username: "carol"}),
		Dave:  s.PutUser(model.User{ID: "dave", Username: "dave"}),
	}
	s.PutFriendship(model.Friendship{FromUserID: "alice", ToUserID: "bob", Status: model.FriendshipAccepted})
	s.PutFriendship(model.Friendship{FromUserID: "dave", ToUserID: "alice", Status: model.FriendshipPending})

	f.Private = s.PutConversation(model.Conversation{
		ID:   "conv-ab",
		Type: model.ConversationPrivate,
		Members: []model.Member{
			{UserID: "alice", Role: model.RoleMember},
			{UserID: "bob", Role: model.RoleMember},
		},
	})
	f.Group = s.PutConversation(model.Conversation{
		ID:   "conv-abc",
		Type: model.ConversationGroup,
		Name: "team",
		Members: []model.Member{
			{UserID: "alice", Role: model.RoleAdmin},
			{UserID: "bob", Role: model.RoleMember},
			{UserID: "carol", Role: model.RoleMember},
		},
	})
	return f
}
