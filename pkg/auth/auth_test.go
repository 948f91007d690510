package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/herohde/gambit/pkg/auth"
	"github.com/herohde/gambit/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestPasswordHash(t *testing.T) {
	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.True(t, auth.CheckPassword(hash, "hunter22"))
	assert.False(t, auth.CheckPassword(hash, "hunter23"))
	assert.False(t, auth.CheckPassword("", "hunter22"))
}

func TestValidation(t *testing.T) {
	assert.True(t, auth.ValidUsername("alice_99"))
	assert.False(t, auth.ValidUsername("al"))
	assert.False(t, auth.ValidUsername("has space"))
	assert.False(t, auth.ValidUsername("way_too_long_username_here"))

	assert.True(t, auth.ValidEmail("alice@example.com"))
	assert.False(t, auth.ValidEmail("alice"))
	assert.False(t, auth.ValidEmail("alice@nodot"))

	assert.True(t, auth.ValidPassword("longenough"))
	assert.False(t, auth.ValidPassword("short"))
}

func TestTokenRoundTrip(t *testing.T) {
	token, expires, err := auth.MintToken(secret, "p1", "s1", time.Hour)
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	claims, err := auth.VerifyToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PlayerID)
	assert.Equal(t, "s1", claims.SessionID)
}

func TestTokenRejectsTampering(t *testing.T) {
	token, _, err := auth.MintToken(secret, "p1", "s1", time.Hour)
	require.NoError(t, err)

	_, err = auth.VerifyToken([]byte("other-secret"), token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = auth.VerifyToken(secret, token+"x")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = auth.VerifyToken(secret, "")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	token, _, err := auth.MintToken(secret, "p1", "s1", -time.Minute)
	require.NoError(t, err)

	_, err = auth.VerifyToken(secret, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func newSessions(t *testing.T) (*auth.Sessions, *store.MemorySessions) {
	t.Helper()
	ss := store.NewMemorySessions()
	return auth.NewSessions(ss, secret, time.Hour, 5), ss
}

func TestSessionsFullPath(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessions(t)

	token, rec, err := s.Create(ctx, "p1", "127.0.0.1:9")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.PlayerID)
	assert.Equal(t, auth.HashToken(token), rec.TokenHash)

	got, err := s.VerifyFull(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	// Quick path agrees.
	claims, err := s.VerifyQuick(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PlayerID)
}

func TestSessionsRevocation(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessions(t)

	token, _, err := s.Create(ctx, "p1", "")
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, token, "logout"))

	// The full path observes revocation; the quick path does not.
	_, err = s.VerifyFull(ctx, token)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	_, err = s.VerifyQuick(token)
	assert.NoError(t, err)
}

func TestSessionsUnknownToken(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessions(t)

	// A well-signed token without a stored session is invalid on the full path.
	token, _, err := auth.MintToken(secret, "p1", "s1", time.Hour)
	require.NoError(t, err)

	_, err = s.VerifyFull(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSessionsCap(t *testing.T) {
	ctx := context.Background()
	ss := store.NewMemorySessions()
	s := auth.NewSessions(ss, secret, time.Hour, 2)

	t1, _, err := s.Create(ctx, "p1", "")
	require.NoError(t, err)
	_, _, err = s.Create(ctx, "p1", "")
	require.NoError(t, err)

	// Third session hits the cap: older sessions are revoked.
	_, _, err = s.Create(ctx, "p1", "")
	require.NoError(t, err)

	_, err = s.VerifyFull(ctx, t1)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	count, err := ss.ActiveCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSessionsCleanup(t *testing.T) {
	ctx := context.Background()
	s, ss := newSessions(t)

	token, _, err := s.Create(ctx, "p1", "")
	require.NoError(t, err)

	// An expired record left behind by another session is swept; the live
	// session survives.
	_, err = ss.Create(ctx, "p2", "stale-hash", time.Now().Add(-time.Minute), "")
	require.NoError(t, err)

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.VerifyFull(ctx, token)
	assert.NoError(t, err)
}
