package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryPlayers is an in-memory PlayerStore for development mode and tests.
type MemoryPlayers struct {
	mu         sync.RWMutex
	players    map[string]*PlayerRecord
	byUsername map[string]string // lowercase username -> id
	byEmail    map[string]string // lowercase email -> id
}

func NewMemoryPlayers() *MemoryPlayers {
	return &MemoryPlayers{
		players:    map[string]*PlayerRecord{},
		byUsername: map[string]string{},
		byEmail:    map[string]string{},
	}
}

func (m *MemoryPlayers) Create(_ context.Context, username, email, passwordHash string, rating int) (*PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[strings.ToLower(username)]; ok {
		return nil, ErrUsernameTaken
	}
	if _, ok := m.byEmail[strings.ToLower(email)]; ok {
		return nil, ErrEmailTaken
	}

	now := time.Now()
	p := &PlayerRecord{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Rating:       rating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.players[p.ID] = p
	m.byUsername[strings.ToLower(username)] = p.ID
	m.byEmail[strings.ToLower(email)] = p.ID
	return clonePlayer(p), nil
}

func (m *MemoryPlayers) GetByID(_ context.Context, id string) (*PlayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlayer(p), nil
}

func (m *MemoryPlayers) GetByUsername(ctx context.Context, username string) (*PlayerRecord, error) {
	m.mu.RLock()
	id, ok := m.byUsername[strings.ToLower(username)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryPlayers) GetByEmail(ctx context.Context, email string) (*PlayerRecord, error) {
	m.mu.RLock()
	id, ok := m.byEmail[strings.ToLower(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryPlayers) UpdateLastLogin(_ context.Context, id string) error {
	return m.update(id, func(p *PlayerRecord) {
		p.LastLoginAt = time.Now()
	})
}

func (m *MemoryPlayers) UpdateGameStats(_ context.Context, id string, result StatResult) error {
	return m.update(id, func(p *PlayerRecord) {
		p.GamesPlayed++
		switch result {
		case StatWin:
			p.GamesWon++
		case StatLoss:
			p.GamesLost++
		case StatDraw:
			p.GamesDrawn++
		}
	})
}

func (m *MemoryPlayers) UpdateRating(_ context.Context, id string, rating int) error {
	return m.update(id, func(p *PlayerRecord) {
		p.Rating = rating
	})
}

func (m *MemoryPlayers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return m.update(id, func(p *PlayerRecord) {
		p.PasswordHash = passwordHash
	})
}

func (m *MemoryPlayers) SetBanned(_ context.Context, id string, banned bool, reason string) error {
	return m.update(id, func(p *PlayerRecord) {
		p.Banned = banned
		p.BanReason = reason
	})
}

func (m *MemoryPlayers) IsUsernameAvailable(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byUsername[strings.ToLower(username)]
	return !ok, nil
}

func (m *MemoryPlayers) IsEmailAvailable(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byEmail[strings.ToLower(email)]
	return !ok, nil
}

func (m *MemoryPlayers) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]LeaderboardEntry, 0, len(m.players))
	for _, p := range m.players {
		entries = append(entries, LeaderboardEntry{
			PlayerID:    p.ID,
			Username:    p.Username,
			Rating:      p.Rating,
			GamesPlayed: p.GamesPlayed,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rating != entries[j].Rating {
			return entries[i].Rating > entries[j].Rating
		}
		return entries[i].Username < entries[j].Username
	})

	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryPlayers) Rank(_ context.Context, id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.players[id]
	if !ok {
		return 0, ErrNotFound
	}

	rank := 1
	for _, q := range m.players {
		if q.Rating > p.Rating {
			rank++
		}
	}
	return rank, nil
}

func (m *MemoryPlayers) TotalCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.players), nil
}

func (m *MemoryPlayers) update(id string, fn func(*PlayerRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	p.UpdatedAt = time.Now()
	return nil
}

func clonePlayer(p *PlayerRecord) *PlayerRecord {
	cp := *p
	return &cp
}

// MemorySessions is an in-memory SessionStore.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	byToken  map[string]string // token hash -> id
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		sessions: map[string]*SessionRecord{},
		byToken:  map[string]string{},
	}
}

func (m *MemorySessions) Create(_ context.Context, playerID, tokenHash string, expiresAt time.Time, origin string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := &SessionRecord{
		ID:             uuid.NewString(),
		PlayerID:       playerID,
		TokenHash:      tokenHash,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		LastActivityAt: now,
		Origin:         origin,
	}
	m.sessions[s.ID] = s
	m.byToken[tokenHash] = s.ID

	cp := *s
	return &cp, nil
}

func (m *MemorySessions) GetByTokenHash(_ context.Context, tokenHash string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *MemorySessions) UpdateActivity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now()
	return nil
}

func (m *MemorySessions) Revoke(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Revoked = true
	s.RevokeReason = reason
	return nil
}

func (m *MemorySessions) RevokeAll(_ context.Context, playerID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.sessions {
		if s.PlayerID == playerID && !s.Revoked {
			s.Revoked = true
			s.RevokeReason = reason
			count++
		}
	}
	return count, nil
}

func (m *MemorySessions) ActiveCount(_ context.Context, playerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	count := 0
	for _, s := range m.sessions {
		if s.PlayerID == playerID && s.IsActive(now) {
			count++
		}
	}
	return count, nil
}

func (m *MemorySessions) CleanupExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			delete(m.byToken, s.TokenHash)
			count++
		}
	}
	return count, nil
}

// MemoryGames is an in-memory GameStore.
type MemoryGames struct {
	mu    sync.RWMutex
	games map[string]*GameRecord
	moves map[string][]*MoveRecord
}

func NewMemoryGames() *MemoryGames {
	return &MemoryGames{
		games: map[string]*GameRecord{},
		moves: map[string][]*MoveRecord{},
	}
}

func (m *MemoryGames) Create(_ context.Context, whiteID, blackID, timeControl string, initialMs, incrementMs int64, whiteRating, blackRating int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := &GameRecord{
		ID:          uuid.NewString(),
		WhiteID:     whiteID,
		BlackID:     blackID,
		TimeControl: timeControl,
		InitialMs:   initialMs,
		IncrementMs: incrementMs,
		WhiteRating: whiteRating,
		BlackRating: blackRating,
		Result:      ResultPending,
		CreatedAt:   time.Now(),
	}
	m.games[g.ID] = g
	return g.ID, nil
}

func (m *MemoryGames) Complete(_ context.Context, id string, result GameResult, reason, pgn, finalFEN string, whiteDelta, blackDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[id]
	if !ok {
		return ErrNotFound
	}
	g.Result = result
	g.EndReason = reason
	g.PGN = pgn
	g.FinalFEN = finalFEN
	g.WhiteDelta = whiteDelta
	g.BlackDelta = blackDelta
	g.CompletedAt = time.Now()
	return nil
}

func (m *MemoryGames) Abort(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[id]
	if !ok {
		return ErrNotFound
	}
	g.Result = ResultAborted
	g.CompletedAt = time.Now()
	return nil
}

func (m *MemoryGames) RecordMove(_ context.Context, id string, mv MoveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[id]; !ok {
		return ErrNotFound
	}
	mv.GameID = id
	m.moves[id] = append(m.moves[id], &mv)
	return nil
}

func (m *MemoryGames) ListByPlayer(_ context.Context, playerID string, limit, offset int) ([]*GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ret []*GameRecord
	for _, g := range m.games {
		if g.WhiteID == playerID || g.BlackID == playerID {
			cp := *g
			ret = append(ret, &cp)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})

	if offset >= len(ret) {
		return nil, nil
	}
	ret = ret[offset:]
	if limit > 0 && limit < len(ret) {
		ret = ret[:limit]
	}
	return ret, nil
}

func (m *MemoryGames) ListMoves(_ context.Context, id string) ([]*MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	moves := m.moves[id]
	ret := make([]*MoveRecord, 0, len(moves))
	for _, mv := range moves {
		cp := *mv
		ret = append(ret, &cp)
	}
	return ret, nil
}
