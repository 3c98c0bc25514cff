package friends

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alochat/realtime/internal/model"
	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/store"
	"github.com/alochat/realtime/internal/testutil"
)

func setup(t *testing.T) (*testutil.Fixture, *registry.Registry, *Pusher) {
	t.Helper()
	f := testutil.NewFixture()
	reg := registry.New(nil, nil)
	return f, reg, New(f.Store, reg, nil)
}

func TestRequestReceived(t *testing.T) {
	f, reg, p := setup(t)
	alice := testutil.NewConn()
	reg.Register(f.Alice.ID, alice)

	n, err := p.RequestReceived(context.Background(), "req-1", f.Dave.ID, f.Alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var got protocol.FriendRequest
	alice.Only(t, protocol.EventFriendRequestReceived, &got)
	assert.Equal(t, "req-1", got.ID)
	assert.Equal(t, f.Dave.ID, got.FromUserID)
	assert.Equal(t, "dave", got.FromUserName)
	assert.Equal(t, model.FriendshipPending, got.Status)

	_, err = p.RequestReceived(context.Background(), "req-2", "ghost", f.Alice.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequestAccepted(t *testing.T) {
	f, reg, p := setup(t)
	dave := testutil.NewConn()
	reg.Register(f.Dave.ID, dave)

	_, err := p.RequestAccepted(context.Background(), "req-1", f.Dave.ID, f.Alice.ID)
	require.NoError(t, err)

	var got protocol.FriendAccepted
	dave.Only(t, protocol.EventFriendRequestAccepted, &got)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, f.Alice.ID, got.NewFriend.ID)
	assert.Equal(t, "Alice", got.NewFriend.DisplayName)
}

func TestUserUpdatedReachesFriendsAndSelf(t *testing.T) {
	f, reg, p := setup(t)
	alice, bob, carol := testutil.NewConn(), testutil.NewConn(), testutil.NewConn()
	reg.Register(f.Alice.ID, alice)
	reg.Register(f.Bob.ID, bob)
	reg.Register(f.Carol.ID, carol)

	n, err := p.UserUpdated(context.Background(), f.Alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var got model.User
	bob.Only(t, protocol.EventUserUpdate, &got)
	assert.Equal(t, f.Alice.ID, got.ID)
	alice.Only(t, protocol.EventUserUpdate, nil)
	assert.Zero(t, carol.Len())
}

func TestPushAllowList(t *testing.T) {
	f, reg, p := setup(t)
	bob := testutil.NewConn()
	reg.Register(f.Bob.ID, bob)

	_, err := p.Push(protocol.EventMessageNew, []string{f.Bob.ID}, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNotPushable)

	_, err = p.Push(protocol.EventUserUpdate, []string{f.Bob.ID}, json.RawMessage(`{oops`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	assert.Zero(t, bob.Len())

	n, err := p.Push(protocol.EventUserUpdate, []string{f.Bob.ID, "offline"}, json.RawMessage(`{"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var got map[string]string
	bob.Only(t, protocol.EventUserUpdate, &got)
	assert.Equal(t, "x", got["id"])
}
