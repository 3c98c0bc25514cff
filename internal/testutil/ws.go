package testutil

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alochat/realtime/internal/protocol"
)

// TestOrigin is the Origin header sent by Dial.
const TestOrigin = "http://localhost:5173"

// WSURL turns an httptest server URL into a websocket URL for path with the
// token query parameter set.
func WSURL(serverURL, path, token string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + path
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// Dial opens a websocket to rawURL with TestOrigin. The handshake response
// body is closed.
func Dial(rawURL string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(rawURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustDial dials and registers cleanup.
func MustDial(t testing.TB, rawURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := Dial(rawURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one envelope.
func SendEvent(t testing.TB, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// ReadEnvelope reads the next envelope or fails after timeout.
func ReadEnvelope(t testing.TB, conn *websocket.Conn, timeout time.Duration) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	return env
}

// ReadEvent reads envelopes until one with event arrives, decoding its data
// into dst when dst is non-nil. Other events are skipped.
func ReadEvent(t testing.TB, conn *websocket.Conn, event string, dst any) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "timed out waiting for %s", event)
		env := ReadEnvelope(t, conn, remaining)
		if env.Event != event {
			continue
		}
		if dst != nil {
			require.NoError(t, json.Unmarshal(env.Data, dst))
		}
		return env
	}
}

// ExpectSilence asserts that no frame arrives within d. The connection is
// unusable for reads afterwards if a deadline error occurred, so call it last.
func ExpectSilence(t testing.TB, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", raw)
}

// CloseNormal sends a normal close frame and closes the connection.
func CloseNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
}
