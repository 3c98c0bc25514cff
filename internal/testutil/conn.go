// Package testutil provides helpers shared by package tests: an in-memory
// registry connection, a seeded store and websocket client helpers.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alochat/realtime/internal/protocol"
)

// Conn is a registry.Connection that records every frame it is sent.
type Conn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

// NewConn returns a recording connection with a random id.
func NewConn() *Conn {
	return &Conn{id: uuid.NewString()}
}

// ID implements registry.Connection.
func (c *Conn) ID() string { return c.id }

// Send implements registry.Connection.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("testutil: send refused")
	}
	c.frames = append(c.frames, frame)
	return nil
}

// Close implements registry.Connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FailSends makes every later Send return an error.
func (c *Conn) FailSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = true
}

// Envelopes decodes every recorded frame.
func (c *Conn) Envelopes(t testing.TB) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	frames := append([][]byte(nil), c.frames...)
	c.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(frames))
	for _, f := range frames {
		env, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// Events returns the event tag of every recorded frame.
func (c *Conn) Events(t testing.TB) []string {
	t.Helper()
	envs := c.Envelopes(t)
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

// Len returns the number of recorded frames.
func (c *Conn) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// WaitLen waits until at least n frames were recorded.
func (c *Conn) WaitLen(t testing.TB, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Len() >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d frames", n)
}

// Only asserts exactly one frame was recorded, with the given event, and
// decodes its payload into dst.
func (c *Conn) Only(t testing.TB, event string, dst any) {
	t.Helper()
	envs := c.Envelopes(t)
	require.Len(t, envs, 1, "frames: %v", c.Events(t))
	require.Equal(t, event, envs[0].Event)
	if dst != nil {
		require.NoError(t, json.Unmarshal(envs[0].Data, dst))
	}
}
