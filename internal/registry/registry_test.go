package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func newFake(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("buffer full")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestRegisterCountsPerUser(t *testing.T) {
	r := New(nil, nil)
	phone, laptop := newFake("phone"), newFake("laptop")

	assert.Equal(t, 1, r.Register("u1", phone))
	assert.Equal(t, 2, r.Register("u1", laptop))
	assert.Equal(t, 2, r.Register("u1", laptop), "re-registering the same connection is not a new device")
	assert.True(t, r.IsReachable("u1"))

	conns, users := r.Stats()
	assert.Equal(t, 2, conns)
	assert.Equal(t, 1, users)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New(nil, nil)
	phone, laptop := newFake("phone"), newFake("laptop")
	r.Register("u1", phone)
	r.Register("u1", laptop)

	remaining, removed := r.Unregister("u1", phone)
	assert.Equal(t, 1, remaining)
	assert.True(t, removed)
	assert.True(t, r.IsReachable("u1"))

	remaining, removed = r.Unregister("u1", phone)
	assert.Equal(t, 1, remaining)
	assert.False(t, removed)

	remaining, removed = r.Unregister("u1", laptop)
	assert.Zero(t, remaining)
	assert.True(t, removed)
	assert.False(t, r.IsReachable("u1"))

	remaining, removed = r.Unregister("ghost", laptop)
	assert.Zero(t, remaining)
	assert.False(t, removed)

	conns, users := r.Stats()
	assert.Zero(t, conns)
	assert.Zero(t, users)
}

func TestDeliverToUserReachesEveryDevice(t *testing.T) {
	r := New(nil, nil)
	phone, laptop, other := newFake("phone"), newFake("laptop"), newFake("other")
	r.Register("u1", phone)
	r.Register("u1", laptop)
	r.Register("u2", other)

	assert.Equal(t, 2, r.DeliverToUser("u1", []byte("x")))
	assert.Equal(t, 1, phone.received())
	assert.Equal(t, 1, laptop.received())
	assert.Zero(t, other.received())
}

func TestDeliveryFailureIsIsolated(t *testing.T) {
	r := New(nil, nil)
	broken, healthy := newFake("broken"), newFake("healthy")
	broken.fail = true
	r.Register("u1", broken)
	r.Register("u1", healthy)

	assert.Equal(t, 1, r.DeliverToUser("u1", []byte("x")))
	assert.Equal(t, 1, healthy.received())
	assert.False(t, broken.closed, "a failed send must not close the connection")
	assert.True(t, r.IsReachable("u1"))
	conns, _ := r.Stats()
	assert.Equal(t, 2, conns)
}

func TestDeliverToUsersSkipsUnreachable(t *testing.T) {
	r := New(nil, nil)
	a := newFake("a")
	r.Register("u1", a)

	assert.Equal(t, 1, r.DeliverToUsers([]string{"u1", "offline", "u1x"}, []byte("x")))
	assert.Equal(t, []string{"u1"}, r.Reachable([]string{"u1", "offline"}))
}

func TestCloseAll(t *testing.T) {
	r := New(nil, nil)
	a, b := newFake("a"), newFake("b")
	r.Register("u1", a)
	r.Register("u2", b)

	assert.Equal(t, 2, r.CloseAll())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

// Reachability must equal occupancy for any interleaving of register and
// unregister across goroutines.
func TestReachabilityUnderConcurrency(t *testing.T) {
	r := New(nil, nil)
	const users, devices = 8, 16

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for d := 0; d < devices; d++ {
			wg.Add(1)
			go func(u, d int) {
				defer wg.Done()
				userID := fmt.Sprintf("u%d", u)
				c := newFake(fmt.Sprintf("u%d-d%d", u, d))
				for i := 0; i < 50; i++ {
					r.Register(userID, c)
					r.DeliverToUser(userID, []byte("x"))
					r.Unregister(userID, c)
				}
				// Odd devices stay connected.
				if d%2 == 1 {
					r.Register(userID, c)
				}
			}(u, d)
		}
	}
	wg.Wait()

	conns, reachable := r.Stats()
	require.Equal(t, users*devices/2, conns)
	require.Equal(t, users, reachable)
	for u := 0; u < users; u++ {
		assert.True(t, r.IsReachable(fmt.Sprintf("u%d", u)))
	}
}
