package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alochat/realtime/internal/config"
)

func newHMAC(t *testing.T, alg string) *HMAC {
	t.Helper()
	h, err := New(config.AuthConfig{Secret: "s3cret", Algorithm: alg, TTL: time.Hour})
	require.NoError(t, err)
	return h
}

func TestIssueAndVerify(t *testing.T) {
	for _, alg := range []string{"HS256", "hs384", "HS512"} {
		t.Run(alg, func(t *testing.T) {
			h := newHMAC(t, alg)
			token, exp, err := h.Issue("user-1")
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

			userID, err := h.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, "user-1", userID)
		})
	}
}

func TestVerifyRejects(t *testing.T) {
	h := newHMAC(t, "HS256")

	_, err := h.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = h.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := New(config.AuthConfig{Secret: "different", Algorithm: "HS256", TTL: time.Hour})
	require.NoError(t, err)
	forged, _, err := other.Issue("user-1")
	require.NoError(t, err)
	_, err = h.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	h384 := newHMAC(t, "HS384")
	token, _, err := h384.Issue("user-1")
	require.NoError(t, err)
	_, err = h.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "algorithm outside the allow-list")
}

func TestVerifyExpired(t *testing.T) {
	h := newHMAC(t, "HS256")
	h.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := h.Issue("user-1")
	require.NoError(t, err)

	h.now = time.Now
	_, err = h.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresSubject(t *testing.T) {
	h := newHMAC(t, "HS256")
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = h.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.AuthConfig{Secret: "x", Algorithm: "RS256"})
	assert.Error(t, err)
	_, err = New(config.AuthConfig{Algorithm: "HS256"})
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
}
