package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/herohde/gambit/pkg/store"
	"github.com/seekerror/logw"
)

var (
	ErrSessionRevoked = errors.New("session revoked")
	ErrSessionExpired = errors.New("session expired")
)

// Sessions manages the session token lifecycle against the session store.
// Two verification paths exist: the quick path checks signature and expiry
// only and is used on the high-frequency move path; the full path
// additionally loads the session record and so observes revocation.
type Sessions struct {
	sessions store.SessionStore
	secret   []byte
	ttl      time.Duration
	maxPer   int
}

// NewSessions creates a session manager.
func NewSessions(sessions store.SessionStore, secret []byte, ttl time.Duration, maxSessionsPerPlayer int) *Sessions {
	return &Sessions{
		sessions: sessions,
		secret:   secret,
		ttl:      ttl,
		maxPer:   maxSessionsPerPlayer,
	}
}

// Create mints a token and persists the session record, keyed by the token
// hash. If the player is at the session cap, all prior sessions are revoked
// first.
func (s *Sessions) Create(ctx context.Context, playerID, origin string) (string, *store.SessionRecord, error) {
	if count, err := s.sessions.ActiveCount(ctx, playerID); err == nil && count >= s.maxPer {
		n, _ := s.sessions.RevokeAll(ctx, playerID, "session limit reached")
		logw.Infof(ctx, "Revoked %v sessions for %v: at limit %v", n, playerID, s.maxPer)
	}

	token, expires, err := MintToken(s.secret, playerID, uuid.NewString(), s.ttl)
	if err != nil {
		return "", nil, err
	}

	rec, err := s.sessions.Create(ctx, playerID, HashToken(token), expires, origin)
	if err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	return token, rec, nil
}

// VerifyQuick checks the token signature and expiry only.
func (s *Sessions) VerifyQuick(token string) (Claims, error) {
	return VerifyToken(s.secret, token)
}

// VerifyFull checks the token and the stored session record: revocation and
// expiry are observed and last activity is updated.
func (s *Sessions) VerifyFull(ctx context.Context, token string) (*store.SessionRecord, error) {
	if _, err := VerifyToken(s.secret, token); err != nil {
		return nil, err
	}

	rec, err := s.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if rec.Revoked {
		return nil, ErrSessionRevoked
	}
	if !time.Now().Before(rec.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	if err := s.sessions.UpdateActivity(ctx, rec.ID); err != nil {
		logw.Warningf(ctx, "Session activity update failed for %v: %v", rec.ID, err)
	}
	return rec, nil
}

// Revoke revokes the session the token belongs to.
func (s *Sessions) Revoke(ctx context.Context, token, reason string) error {
	rec, err := s.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	return s.sessions.Revoke(ctx, rec.ID, reason)
}

// RevokeAll revokes every session of the player.
func (s *Sessions) RevokeAll(ctx context.Context, playerID, reason string) (int, error) {
	return s.sessions.RevokeAll(ctx, playerID, reason)
}

// CleanupExpired removes expired session records.
func (s *Sessions) CleanupExpired(ctx context.Context) (int, error) {
	return s.sessions.CleanupExpired(ctx)
}
