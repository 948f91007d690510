package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key prefixes. Secondary index entries hold the primary id as their value.
const (
	keyPlayer          = "player/"
	keyPlayerUsername  = "player_by_username/"
	keyPlayerEmail     = "player_by_email/"
	keySession         = "session/"
	keySessionToken    = "session_by_token/"
	keyGame            = "game/"
	keyGameByPlayer    = "game_by_player/"
	keyMove            = "move/"
	timestampKeyFormat = "20060102150405.000000000"
)

// Badger is a durable store backed by BadgerDB with JSON-marshaled
// records. The Players, Sessions and Games views share the database and
// implement the respective DAO interfaces.
type Badger struct {
	db *badger.DB
}

// Players returns the PlayerStore view.
func (b *Badger) Players() PlayerStore {
	return &badgerPlayers{db: b.db}
}

// Sessions returns the SessionStore view.
func (b *Badger) Sessions() SessionStore {
	return &badgerSessions{db: b.db}
}

// Games returns the GameStore view.
func (b *Badger) Games() GameStore {
	return &badgerGames{db: b.db}
}

type badgerPlayers struct {
	db *badger.DB
}

type badgerSessions struct {
	db *badger.DB
}

type badgerGames struct {
	db *badger.DB
}

// OpenBadger opens (creating if necessary) the database at the given directory.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %v: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *badgerPlayers) Create(_ context.Context, username, email, passwordHash string, rating int) (*PlayerRecord, error) {
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

	err := b.db.Update(func(txn *badger.Txn) error {
		userKey := []byte(keyPlayerUsername + strings.ToLower(username))
		if _, err := txn.Get(userKey); err == nil {
			return ErrUsernameTaken
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		emailKey := []byte(keyPlayerEmail + strings.ToLower(email))
		if _, err := txn.Get(emailKey); err == nil {
			return ErrEmailTaken
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := setJSON(txn, keyPlayer+p.ID, p); err != nil {
			return err
		}
		if err := txn.Set(userKey, []byte(p.ID)); err != nil {
			return err
		}
		return txn.Set(emailKey, []byte(p.ID))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (b *badgerPlayers) GetByID(_ context.Context, id string) (*PlayerRecord, error) {
	var p PlayerRecord
	if err := viewJSON(b.db, keyPlayer+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *badgerPlayers) GetByUsername(ctx context.Context, username string) (*PlayerRecord, error) {
	id, err := lookup(b.db, keyPlayerUsername + strings.ToLower(username))
	if err != nil {
		return nil, err
	}
	return b.GetByID(ctx, id)
}

func (b *badgerPlayers) GetByEmail(ctx context.Context, email string) (*PlayerRecord, error) {
	id, err := lookup(b.db, keyPlayerEmail + strings.ToLower(email))
	if err != nil {
		return nil, err
	}
	return b.GetByID(ctx, id)
}

func (b *badgerPlayers) UpdateLastLogin(_ context.Context, id string) error {
	return b.updatePlayer(id, func(p *PlayerRecord) {
		p.LastLoginAt = time.Now()
	})
}

func (b *badgerPlayers) UpdateGameStats(_ context.Context, id string, result StatResult) error {
	return b.updatePlayer(id, func(p *PlayerRecord) {
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

func (b *badgerPlayers) UpdateRating(_ context.Context, id string, rating int) error {
	return b.updatePlayer(id, func(p *PlayerRecord) {
		p.Rating = rating
	})
}

func (b *badgerPlayers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return b.updatePlayer(id, func(p *PlayerRecord) {
		p.PasswordHash = passwordHash
	})
}

func (b *badgerPlayers) SetBanned(_ context.Context, id string, banned bool, reason string) error {
	return b.updatePlayer(id, func(p *PlayerRecord) {
		p.Banned = banned
		p.BanReason = reason
	})
}

func (b *badgerPlayers) IsUsernameAvailable(_ context.Context, username string) (bool, error) {
	_, err := lookup(b.db, keyPlayerUsername + strings.ToLower(username))
	if err == ErrNotFound {
		return true, nil
	}
	return false, err
}

func (b *badgerPlayers) IsEmailAvailable(_ context.Context, email string) (bool, error) {
	_, err := lookup(b.db, keyPlayerEmail + strings.ToLower(email))
	if err == ErrNotFound {
		return true, nil
	}
	return false, err
}

func (b *badgerPlayers) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	players, err := b.allPlayers()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
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

func (b *badgerPlayers) Rank(ctx context.Context, id string) (int, error) {
	me, err := b.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	players, err := b.allPlayers()
	if err != nil {
		return 0, err
	}

	rank := 1
	for _, p := range players {
		if p.Rating > me.Rating {
			rank++
		}
	}
	return rank, nil
}

func (b *badgerPlayers) TotalCount(_ context.Context) (int, error) {
	players, err := b.allPlayers()
	if err != nil {
		return 0, err
	}
	return len(players), nil
}

func (b *badgerSessions) Create(_ context.Context, playerID, tokenHash string, expiresAt time.Time, origin string) (*SessionRecord, error) {
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

	err := b.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, keySession+s.ID, s); err != nil {
			return err
		}
		return txn.Set([]byte(keySessionToken+tokenHash), []byte(s.ID))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *badgerSessions) GetByTokenHash(_ context.Context, tokenHash string) (*SessionRecord, error) {
	id, err := lookup(b.db, keySessionToken + tokenHash)
	if err != nil {
		return nil, err
	}
	var s SessionRecord
	if err := viewJSON(b.db, keySession+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *badgerSessions) UpdateActivity(_ context.Context, id string) error {
	return b.updateSession(id, func(s *SessionRecord) {
		s.LastActivityAt = time.Now()
	})
}

func (b *badgerSessions) Revoke(_ context.Context, id, reason string) error {
	return b.updateSession(id, func(s *SessionRecord) {
		s.Revoked = true
		s.RevokeReason = reason
	})
}

func (b *badgerSessions) RevokeAll(_ context.Context, playerID, reason string) (int, error) {
	count := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		return forEachJSON(txn, keySession, func(key string, s *SessionRecord) error {
			if s.PlayerID != playerID || s.Revoked {
				return nil
			}
			s.Revoked = true
			s.RevokeReason = reason
			count++
			return setJSON(txn, key, s)
		})
	})
	return count, err
}

func (b *badgerSessions) ActiveCount(_ context.Context, playerID string) (int, error) {
	now := time.Now()
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		return forEachJSON(txn, keySession, func(_ string, s *SessionRecord) error {
			if s.PlayerID == playerID && s.IsActive(now) {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (b *badgerSessions) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now()
	count := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		var stale []*SessionRecord
		if err := forEachJSON(txn, keySession, func(_ string, s *SessionRecord) error {
			if !now.Before(s.ExpiresAt) {
				stale = append(stale, s)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, s := range stale {
			if err := txn.Delete([]byte(keySession + s.ID)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(keySessionToken + s.TokenHash)); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (b *badgerGames) Create(_ context.Context, whiteID, blackID, timeControl string, initialMs, incrementMs int64, whiteRating, blackRating int) (string, error) {
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

	err := b.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, keyGame+g.ID, g); err != nil {
			return err
		}
		// Index by creation time; keys sort oldest-first.
		stamp := g.CreatedAt.UTC().Format(timestampKeyFormat)
		if err := txn.Set([]byte(keyGameByPlayer+whiteID+"/"+stamp+"/"+g.ID), []byte(g.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(keyGameByPlayer+blackID+"/"+stamp+"/"+g.ID), []byte(g.ID))
	})
	if err != nil {
		return "", err
	}
	return g.ID, nil
}

func (b *badgerGames) Complete(_ context.Context, id string, result GameResult, reason, pgn, finalFEN string, whiteDelta, blackDelta int) error {
	return b.updateGame(id, func(g *GameRecord) {
		g.Result = result
		g.EndReason = reason
		g.PGN = pgn
		g.FinalFEN = finalFEN
		g.WhiteDelta = whiteDelta
		g.BlackDelta = blackDelta
		g.CompletedAt = time.Now()
	})
}

func (b *badgerGames) Abort(_ context.Context, id string) error {
	return b.updateGame(id, func(g *GameRecord) {
		g.Result = ResultAborted
		g.CompletedAt = time.Now()
	})
}

func (b *badgerGames) RecordMove(_ context.Context, id string, mv MoveRecord) error {
	mv.GameID = id
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(keyGame + id)); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return setJSON(txn, fmt.Sprintf("%v%v/%06d", keyMove, id, mv.Number), &mv)
	})
}

func (b *badgerGames) ListByPlayer(_ context.Context, playerID string, limit, offset int) ([]*GameRecord, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyGameByPlayer + playerID + "/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Index keys sort oldest-first; newest-first is wanted.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	var ret []*GameRecord
	for _, id := range ids {
		var g GameRecord
		if err := viewJSON(b.db, keyGame+id, &g); err != nil {
			return nil, err
		}
		ret = append(ret, &g)
	}
	return ret, nil
}

func (b *badgerGames) ListMoves(_ context.Context, id string) ([]*MoveRecord, error) {
	var ret []*MoveRecord
	err := b.db.View(func(txn *badger.Txn) error {
		return forEachJSON(txn, keyMove+id+"/", func(_ string, mv *MoveRecord) error {
			ret = append(ret, mv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (b *badgerPlayers) updatePlayer(id string, fn func(*PlayerRecord)) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var p PlayerRecord
		if err := getJSON(txn, keyPlayer+id, &p); err != nil {
			return err
		}
		fn(&p)
		p.UpdatedAt = time.Now()
		return setJSON(txn, keyPlayer+id, &p)
	})
}

func (b *badgerSessions) updateSession(id string, fn func(*SessionRecord)) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var s SessionRecord
		if err := getJSON(txn, keySession+id, &s); err != nil {
			return err
		}
		fn(&s)
		return setJSON(txn, keySession+id, &s)
	})
}

func (b *badgerGames) updateGame(id string, fn func(*GameRecord)) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var g GameRecord
		if err := getJSON(txn, keyGame+id, &g); err != nil {
			return err
		}
		fn(&g)
		return setJSON(txn, keyGame+id, &g)
	})
}

func (b *badgerPlayers) allPlayers() ([]*PlayerRecord, error) {
	var ret []*PlayerRecord
	err := b.db.View(func(txn *badger.Txn) error {
		return forEachJSON(txn, keyPlayer, func(_ string, p *PlayerRecord) error {
			ret = append(ret, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func viewJSON(db *badger.DB, key string, out any) error {
	return db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key, out)
	})
}

func lookup(db *badger.DB, key string) (string, error) {
	var id string
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	return id, err
}

func getJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func forEachJSON[T any](txn *badger.Txn, prefix string, fn func(key string, v *T) error) error {
	p := []byte(prefix)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		var v T
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return err
		}
		if err := fn(string(item.Key()), &v); err != nil {
			return err
		}
	}
	return nil
}
