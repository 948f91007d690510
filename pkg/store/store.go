// Package store defines the persistence interfaces consumed by the core
// and their in-memory and BadgerDB-backed implementations. Core behavior is
// identical across backends except for durability.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUsernameTaken = errors.New("username already taken")
	ErrEmailTaken    = errors.New("email already taken")
)

// PlayerRecord holds the persistent attributes of a registered player.
type PlayerRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Rating       int       `json:"rating"`
	GamesPlayed  int       `json:"games_played"`
	GamesWon     int       `json:"games_won"`
	GamesLost    int       `json:"games_lost"`
	GamesDrawn   int       `json:"games_drawn"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastLoginAt  time.Time `json:"last_login_at"`
	Banned       bool      `json:"banned"`
	BanReason    string    `json:"ban_reason,omitempty"`
}

// SessionRecord holds one authenticated session. Tokens are stored hashed.
type SessionRecord struct {
	ID             string    `json:"id"`
	PlayerID       string    `json:"player_id"`
	TokenHash      string    `json:"token_hash"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Origin         string    `json:"origin,omitempty"`
	Revoked        bool      `json:"revoked"`
	RevokeReason   string    `json:"revoke_reason,omitempty"`
}

// IsActive returns true iff the session is neither revoked nor expired.
func (s *SessionRecord) IsActive(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// GameResult is the stored outcome of a game.
type GameResult string

const (
	ResultPending  GameResult = "pending"
	ResultWhiteWin GameResult = "white_win"
	ResultBlackWin GameResult = "black_win"
	ResultDraw     GameResult = "draw"
	ResultAborted  GameResult = "aborted"
)

// StatResult is a per-player game outcome for statistics updates.
type StatResult string

const (
	StatWin  StatResult = "win"
	StatDraw StatResult = "draw"
	StatLoss StatResult = "loss"
)

// GameRecord holds the persistent attributes of one game.
type GameRecord struct {
	ID          string     `json:"id"`
	WhiteID     string     `json:"white_id"`
	BlackID     string     `json:"black_id"`
	TimeControl string     `json:"time_control"`
	InitialMs   int64      `json:"initial_ms"`
	IncrementMs int64      `json:"increment_ms"`
	WhiteRating int        `json:"white_rating"`
	BlackRating int        `json:"black_rating"`
	Result      GameResult `json:"result"`
	EndReason   string     `json:"end_reason,omitempty"`
	PGN         string     `json:"pgn,omitempty"`
	FinalFEN    string     `json:"final_fen,omitempty"`
	WhiteDelta  int        `json:"white_delta"`
	BlackDelta  int        `json:"black_delta"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// MoveRecord holds one persisted move of a game.
type MoveRecord struct {
	GameID          string    `json:"game_id"`
	Number          int       `json:"number"` // ply number, 1-based
	Color           string    `json:"color"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Promotion       string    `json:"promotion,omitempty"`
	SAN             string    `json:"san,omitempty"`
	FENAfter        string    `json:"fen_after"`
	TimeRemainingMs int64     `json:"time_remaining_ms"`
	MoveTimeMs      int64     `json:"move_time_ms"`
	PlayedAt        time.Time `json:"played_at"`
}

// LeaderboardEntry is one row of the rating leaderboard.
type LeaderboardEntry struct {
	PlayerID    string `json:"player_id"`
	Username    string `json:"username"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"games_played"`
}

// PlayerStore persists player credentials, ratings and statistics.
// Usernames are case-insensitively unique; emails are unique.
// Implementations are safe for concurrent callers.
type PlayerStore interface {
	Create(ctx context.Context, username, email, passwordHash string, rating int) (*PlayerRecord, error)
	GetByID(ctx context.Context, id string) (*PlayerRecord, error)
	GetByUsername(ctx context.Context, username string) (*PlayerRecord, error)
	GetByEmail(ctx context.Context, email string) (*PlayerRecord, error)
	UpdateLastLogin(ctx context.Context, id string) error
	UpdateGameStats(ctx context.Context, id string, result StatResult) error
	UpdateRating(ctx context.Context, id string, rating int) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetBanned(ctx context.Context, id string, banned bool, reason string) error
	IsUsernameAvailable(ctx context.Context, username string) (bool, error)
	IsEmailAvailable(ctx context.Context, email string) (bool, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	Rank(ctx context.Context, id string) (int, error)
	TotalCount(ctx context.Context) (int, error)
}

// SessionStore persists the token -> session lifecycle with revocation and
// expiry. Implementations are safe for concurrent callers.
type SessionStore interface {
	Create(ctx context.Context, playerID, tokenHash string, expiresAt time.Time, origin string) (*SessionRecord, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*SessionRecord, error)
	UpdateActivity(ctx context.Context, id string) error
	Revoke(ctx context.Context, id, reason string) error
	RevokeAll(ctx context.Context, playerID, reason string) (int, error)
	ActiveCount(ctx context.Context, playerID string) (int, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// GameStore persists game records and their moves. Implementations are
// safe for concurrent callers.
type GameStore interface {
	Create(ctx context.Context, whiteID, blackID, timeControl string, initialMs, incrementMs int64, whiteRating, blackRating int) (string, error)
	Complete(ctx context.Context, id string, result GameResult, reason, pgn, finalFEN string, whiteDelta, blackDelta int) error
	Abort(ctx context.Context, id string) error
	RecordMove(ctx context.Context, id string, mv MoveRecord) error
	ListByPlayer(ctx context.Context, playerID string, limit, offset int) ([]*GameRecord, error)
	ListMoves(ctx context.Context, id string) ([]*MoveRecord, error)
}
