package typing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alochat/realtime/internal/dispatch"
	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/testutil"
)

func typingEnvelope(convID string) protocol.Envelope {
	return protocol.Envelope{Event: protocol.EventTyping, Data: []byte(`{"conversationId":"` + convID + `"}`)}
}

func TestTypingRelaysToOtherMembers(t *testing.T) {
	f := testutil.NewFixture()
	reg := registry.New(nil, nil)
	alice, bob, carol := testutil.NewConn(), testutil.NewConn(), testutil.NewConn()
	reg.Register(f.Alice.ID, alice)
	reg.Register(f.Bob.ID, bob)
	reg.Register(f.Carol.ID, carol)

	n := New(f.Store, reg)
	res := n.Typing(context.Background(), f.Carol.ID, typingEnvelope(f.Group.ID))
	require.True(t, res.Ok(), res.Error())

	var got protocol.Typing
	alice.Only(t, protocol.EventTyping, &got)
	assert.Equal(t, protocol.Typing{ConversationID: f.Group.ID, UserID: f.Carol.ID, UserDisplayName: "carol"}, got)
	bob.Only(t, protocol.EventTyping, nil)
	assert.Zero(t, carol.Len())

	// Repeats are not debounced.
	require.True(t, n.Typing(context.Background(), f.Carol.ID, typingEnvelope(f.Group.ID)).Ok())
	assert.Equal(t, 2, bob.Len())
}

func TestTypingUsesDisplayName(t *testing.T) {
	f := testutil.NewFixture()
	reg := registry.New(nil, nil)
	bob := testutil.NewConn()
	reg.Register(f.Bob.ID, bob)

	require.True(t, New(f.Store, reg).Typing(context.Background(), f.Alice.ID, typingEnvelope(f.Private.ID)).Ok())
	var got protocol.Typing
	bob.Only(t, protocol.EventTyping, &got)
	assert.Equal(t, "Alice", got.UserDisplayName)
}

func TestTypingRejectsOutsiders(t *testing.T) {
	f := testutil.NewFixture()
	reg := registry.New(nil, nil)
	alice := testutil.NewConn()
	reg.Register(f.Alice.ID, alice)
	n := New(f.Store, reg)

	assert.Equal(t, dispatch.CodeForbidden, n.Typing(context.Background(), f.Carol.ID, typingEnvelope(f.Private.ID)).Code)
	assert.Equal(t, dispatch.CodeNotFound, n.Typing(context.Background(), f.Alice.ID, typingEnvelope("missing")).Code)
	assert.Equal(t, dispatch.CodeBadPayload, n.Typing(context.Background(), f.Alice.ID, protocol.Envelope{Event: protocol.EventTyping}).Code)
	assert.Zero(t, alice.Len())
}

func TestTypingMutatesNothing(t *testing.T) {
	f := testutil.NewFixture()
	reg := registry.New(nil, nil)
	before, err := f.Store.GetConversation(context.Background(), f.Private.ID)
	require.NoError(t, err)

	require.True(t, New(f.Store, reg).Typing(context.Background(), f.Alice.ID, typingEnvelope(f.Private.ID)).Ok())

	after, err := f.Store.GetConversation(context.Background(), f.Private.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.Store.Messages(f.Private.ID))
	u, err := f.Store.GetUser(context.Background(), f.Alice.ID)
	require.NoError(t, err)
	assert.Nil(t, u.LastOnline)
}
