package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/herohde/gambit/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBadger(t *testing.T) *store.Badger {
	t.Helper()

	db, err := store.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// The durable backend follows the same contract as the in-memory stores.

func TestBadgerPlayers(t *testing.T) {
	ctx := context.Background()
	players := openBadger(t).Players()

	p, err := players.Create(ctx, "Alice", "alice@example.com", "hash", 1200)
	require.NoError(t, err)

	_, err = players.Create(ctx, "alice", "other@example.com", "hash", 1200)
	assert.ErrorIs(t, err, store.ErrUsernameTaken)
	_, err = players.Create(ctx, "carol", "ALICE@example.com", "hash", 1200)
	assert.ErrorIs(t, err, store.ErrEmailTaken)

	byName, err := players.GetByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	require.NoError(t, players.UpdateRating(ctx, p.ID, 1250))
	require.NoError(t, players.UpdateGameStats(ctx, p.ID, store.StatWin))

	got, err := players.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1250, got.Rating)
	assert.Equal(t, 1, got.GamesWon)

	_, err = players.Create(ctx, "bob", "bob@example.com", "hash", 1800)
	require.NoError(t, err)

	entries, err := players.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].Username)

	rank, err := players.Rank(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rank)
}

func TestBadgerSessions(t *testing.T) {
	ctx := context.Background()
	sessions := openBadger(t).Sessions()

	rec, err := sessions.Create(ctx, "p1", "hash1", time.Now().Add(time.Hour), "")
	require.NoError(t, err)
	_, err = sessions.Create(ctx, "p1", "hash2", time.Now().Add(-time.Hour), "")
	require.NoError(t, err)

	count, err := sessions.ActiveCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, sessions.Revoke(ctx, rec.ID, "logout"))
	got, err := sessions.GetByTokenHash(ctx, "hash1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	n, err := sessions.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = sessions.GetByTokenHash(ctx, "hash2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBadgerGames(t *testing.T) {
	ctx := context.Background()
	games := openBadger(t).Games()

	id, err := games.Create(ctx, "w1", "b1", "blitz", 300_000, 2_000, 1500, 1520)
	require.NoError(t, err)

	require.NoError(t, games.RecordMove(ctx, id, store.MoveRecord{Number: 1, Color: "white", From: "e2", To: "e4", SAN: "e4"}))
	require.NoError(t, games.RecordMove(ctx, id, store.MoveRecord{Number: 2, Color: "black", From: "e7", To: "e5", SAN: "e5"}))
	assert.ErrorIs(t, games.RecordMove(ctx, "missing", store.MoveRecord{Number: 1}), store.ErrNotFound)

	moves, err := games.ListMoves(ctx, id)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, "e4", moves[0].SAN)

	require.NoError(t, games.Complete(ctx, id, store.ResultDraw, "agreement", "1. e4 e5 1/2-1/2", "fen", 0, 0))

	list, err := games.ListByPlayer(ctx, "b1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.ResultDraw, list[0].Result)
}
