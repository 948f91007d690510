package game_test

import (
	"strings"
	"testing"

	"github.com/herohde/gambit/pkg/board"
	"github.com/herohde/gambit/pkg/board/fen"
	"github.com/herohde/gambit/pkg/game"
	"github.com/herohde/gambit/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = game.PlayerInfo{ID: "p1", Username: "alice", Rating: 1500}
	bob   = game.PlayerInfo{ID: "p2", Username: "bob", Rating: 1500}
)

func newStarted(t *testing.T, initialMs, incrementMs int64) *game.Session {
	t.Helper()
	s := game.NewSession("g1", alice, bob, initialMs, incrementMs, "blitz")
	s.Start()
	return s
}

// move validates and applies one coordinate move with the given elapsed time.
func move(t *testing.T, s *game.Session, str string, elapsedMs int64) game.Snapshot {
	t.Helper()

	b := s.Board()
	parsed, err := board.ParseMove(str)
	require.NoError(t, err)

	m, next, err := rules.Validate(b, parsed.From, parsed.To, parsed.Promotion, b.Turn())
	require.NoError(t, err, str)
	require.NoError(t, s.ApplyValidatedMove(m, next, elapsedMs))
	return s.Snapshot()
}

func TestSessionLifecycle(t *testing.T) {
	s := game.NewSession("g1", alice, bob, 60_000, 0, "blitz")

	snap := s.Snapshot()
	assert.Equal(t, game.Waiting, snap.Status)
	assert.True(t, snap.StartedAt.IsZero())

	s.Start()
	snap = s.Snapshot()
	assert.Equal(t, game.InProgress, snap.Status)
	assert.False(t, snap.StartedAt.IsZero())
	assert.Equal(t, snap.StartedAt, snap.LastMoveAt)

	// Start is idempotent.
	s.Start()
	assert.Equal(t, snap.StartedAt, s.Snapshot().StartedAt)
}

func TestSessionClockAccounting(t *testing.T) {
	s := newStarted(t, 60_000, 1_000)

	snap := move(t, s, "e2e4", 5_000)
	assert.Equal(t, int64(56_000), snap.WhiteTimeMs) // 60000 - 5000 + 1000
	assert.Equal(t, int64(60_000), snap.BlackTimeMs)
	assert.Equal(t, uint64(1), snap.MoveSequence)
	assert.Equal(t, board.Black, snap.Turn)

	snap = move(t, s, "e7e5", 10_000)
	assert.Equal(t, int64(51_000), snap.BlackTimeMs)
}

func TestSessionClockNeverNegative(t *testing.T) {
	s := newStarted(t, 1_000, 0)

	snap := move(t, s, "e2e4", 5_000)
	assert.Equal(t, int64(0), snap.WhiteTimeMs)
}

func TestSessionCheckmate(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	for _, mv := range []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7"} {
		move(t, s, mv, 0)
	}

	snap := s.Snapshot()
	assert.Equal(t, game.WhiteWon, snap.Status)
	assert.Equal(t, game.ReasonCheckmate, snap.Reason)

	winner, ok := snap.Winner.V()
	require.True(t, ok)
	assert.Equal(t, board.White, winner)
	assert.True(t, strings.HasPrefix(snap.FEN, "r1bqkb1r/pppp1Qpp/2n2n2/4p3/2B1P3/8/PPPP1PPP/RNB1K1NR b KQkq -"))
}

func TestSessionThreefoldRepetition(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	moves := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}
	for i, mv := range moves {
		snap := move(t, s, mv, 0)
		if i < len(moves)-1 {
			require.Equal(t, game.InProgress, snap.Status, "ply %v", i+1)
		}
	}

	snap := s.Snapshot()
	assert.Equal(t, game.Draw, snap.Status)
	assert.Equal(t, game.ReasonThreefoldRepetition, snap.Reason)
	assert.True(t, s.IsThreefoldRepetition())

	_, ok := snap.Winner.V()
	assert.False(t, ok)
}

func TestSessionResignation(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	s.Resign(board.Black)
	snap := s.Snapshot()
	assert.Equal(t, game.WhiteWon, snap.Status)
	assert.Equal(t, game.ReasonResignation, snap.Reason)

	// Terminal transitions are absorbing.
	s.Resign(board.White)
	assert.Equal(t, game.WhiteWon, s.Snapshot().Status)

	s.TimeoutOf(board.White)
	assert.Equal(t, game.WhiteWon, s.Snapshot().Status)
	assert.Equal(t, game.ReasonResignation, s.Snapshot().Reason)
}

func TestSessionMoveAfterEndRejected(t *testing.T) {
	s := newStarted(t, 60_000, 0)
	s.Resign(board.White)

	b := s.Board()
	m, next, err := rules.Validate(b, board.Square{Row: 1, Col: 4}, board.Square{Row: 3, Col: 4}, board.NoPieceType, board.White)
	require.NoError(t, err)

	assert.ErrorIs(t, s.ApplyValidatedMove(m, next, 0), game.ErrNotInProgress)
}

func TestSessionTimeout(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	s.TimeoutOf(board.White)
	snap := s.Snapshot()
	assert.Equal(t, game.BlackWon, snap.Status)
	assert.Equal(t, game.ReasonTimeout, snap.Reason)
	assert.Equal(t, int64(0), snap.WhiteTimeMs)
	assert.Equal(t, int64(60_000), snap.BlackTimeMs)
}

func TestSessionDisconnect(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	s.Disconnect(board.Black)
	snap := s.Snapshot()
	assert.Equal(t, game.WhiteWon, snap.Status)
	assert.Equal(t, game.ReasonDisconnection, snap.Reason)
}

func TestSessionDrawOffer(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	assert.True(t, s.OfferDraw(board.White))
	assert.False(t, s.OfferDraw(board.White)) // already pending

	// The offerer cannot accept their own offer.
	assert.False(t, s.AcceptDraw(board.White))

	assert.True(t, s.AcceptDraw(board.Black))
	snap := s.Snapshot()
	assert.Equal(t, game.Draw, snap.Status)
	assert.Equal(t, game.ReasonAgreement, snap.Reason)
}

func TestSessionDrawDeclined(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	require.True(t, s.OfferDraw(board.White))
	assert.False(t, s.DeclineDraw(board.White)) // not the offerer's call
	assert.True(t, s.DeclineDraw(board.Black))

	// Offer is gone.
	assert.False(t, s.AcceptDraw(board.Black))
	assert.Equal(t, game.InProgress, s.Snapshot().Status)
}

func TestSessionMoveClearsDrawOffer(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	require.True(t, s.OfferDraw(board.White))
	move(t, s, "e2e4", 0)

	assert.False(t, s.AcceptDraw(board.Black))
}

func TestSessionColorOf(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	c, ok := s.ColorOf(alice.ID)
	require.True(t, ok)
	assert.Equal(t, board.White, c)

	c, ok = s.ColorOf(bob.ID)
	require.True(t, ok)
	assert.Equal(t, board.Black, c)

	_, ok = s.ColorOf("stranger")
	assert.False(t, ok)

	opp, ok := s.Opponent(alice.ID)
	require.True(t, ok)
	assert.Equal(t, bob.ID, opp.ID)
}

func TestSessionHistoryReplay(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	for _, mv := range []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6", "b5c6", "d7c6"} {
		move(t, s, mv, 0)
	}
	snap := s.Snapshot()
	require.Equal(t, uint64(8), snap.MoveSequence)

	// Replaying the history against the starting board reproduces the
	// session's current position.
	b := board.NewStandard()
	for _, m := range snap.History {
		b.Apply(m)
	}
	assert.Equal(t, snap.FEN, fen.Encode(b))
}

func TestSessionTimeWarnedOnce(t *testing.T) {
	s := newStarted(t, 60_000, 0)

	assert.True(t, s.MarkTimeWarned(board.White))
	assert.False(t, s.MarkTimeWarned(board.White))
	assert.True(t, s.MarkTimeWarned(board.Black))
}
