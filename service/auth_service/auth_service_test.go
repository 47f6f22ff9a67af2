package auth_service

import (
	"testing"
	"time"

	"snapshot-service/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth() *AuthService {
	return NewAuthService(conf.AuthConfig{
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		APIKeys:   []conf.APIKeyConfig{{Key: "key-alice", Owner: "alice"}},
	})
}

func TestIssueAndVerifyToken(t *testing.T) {
	s := newTestAuth()
	token, expiresAt, err := s.IssueToken("key-alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	owner, err := s.OwnerFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	_, _, err = s.IssueToken("wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	_, _, err = s.IssueToken("")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := newTestAuth()
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := s.IssueToken("key-alice")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.OwnerFromToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	other := NewAuthService(conf.AuthConfig{
		JWTSecret: "other",
		TokenTTL:  time.Hour,
		APIKeys:   []conf.APIKeyConfig{{Key: "key-alice", Owner: "alice"}},
	})
	token, _, err := other.IssueToken("key-alice")
	require.NoError(t, err)

	_, err = newTestAuth().OwnerFromToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUploadTicketIsNotAnAccessToken(t *testing.T) {
	s := newTestAuth()
	ticket, err := s.SignUploadTicket("snapshots/s1/index.html", "text/html", 10, time.Minute)
	require.NoError(t, err)

	parsed, err := s.ParseUploadTicket(ticket)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/s1/index.html", parsed.Key)
	assert.Equal(t, int64(10), parsed.SizeBytes)

	_, err = s.OwnerFromToken(ticket)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, _, err := s.IssueToken("key-alice")
	require.NoError(t, err)
	_, err = s.ParseUploadTicket(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
