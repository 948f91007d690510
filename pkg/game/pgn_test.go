package game_test

import (
	"strings"
	"testing"
	"time"

	"github.com/herohde/gambit/pkg/board"
	"github.com/herohde/gambit/pkg/board/fen"
	"github.com/herohde/gambit/pkg/game"
	"github.com/herohde/gambit/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playOut(t *testing.T, moves ...string) []board.Move {
	t.Helper()

	b := board.NewStandard()
	var history []board.Move
	for _, str := range moves {
		parsed, err := board.ParseMove(str)
		require.NoError(t, err)

		m, next, err := rules.Validate(b, parsed.From, parsed.To, parsed.Promotion, b.Turn())
		require.NoError(t, err, str)

		history = append(history, m)
		b = next
	}
	return history
}

func TestPGNScholarsMate(t *testing.T) {
	history := playOut(t, "e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")
	started := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	pgn := game.PGN(alice, bob, history, game.WhiteWon, game.ReasonCheckmate, started, "blitz")

	assert.Contains(t, pgn, `[White "alice"]`)
	assert.Contains(t, pgn, `[Black "bob"]`)
	assert.Contains(t, pgn, `[Date "2026.03.14"]`)
	assert.Contains(t, pgn, `[Result "1-0"]`)
	assert.Contains(t, pgn, `[Termination "checkmate"]`)
	assert.Contains(t, pgn, "1. e4 e5 2. Bc4 Nc6 3. Qh5 Nf6 4. Qxf7# 1-0")
}

func TestPGNDraw(t *testing.T) {
	history := playOut(t, "g1f3", "g8f6", "f3g1", "f6g8")

	pgn := game.PGN(alice, bob, history, game.Draw, game.ReasonThreefoldRepetition, time.Now(), "rapid")

	assert.Contains(t, pgn, `[Result "1/2-1/2"]`)
	assert.Contains(t, pgn, "1. Nf3 Nf6 2. Ng1 Ng8 1/2-1/2")
}

func TestSANCastlingAndPromotion(t *testing.T) {
	b := board.NewStandard()

	castle := board.Move{
		From: board.Square{Row: 0, Col: 4}, To: board.Square{Row: 0, Col: 6},
		Piece: board.King, Color: board.White, Flags: board.FlagCastleKingSide,
	}
	assert.Equal(t, "O-O", game.SAN(b, castle))

	long := board.Move{
		From: board.Square{Row: 0, Col: 4}, To: board.Square{Row: 0, Col: 2},
		Piece: board.King, Color: board.White, Flags: board.FlagCastleQueenSide,
	}
	assert.Equal(t, "O-O-O", game.SAN(b, long))

	promo := board.Move{
		From: board.Square{Row: 6, Col: 4}, To: board.Square{Row: 7, Col: 4},
		Piece: board.Pawn, Color: board.White, Promotion: board.Queen,
		Flags: board.FlagPromotion | board.FlagCheck,
	}
	assert.Equal(t, "e8=Q+", game.SAN(b, promo))
}

func TestSANDisambiguation(t *testing.T) {
	// Two knights on b1 and f3 can both reach d2.
	b, err := fen.Decode("4k3/8/8/8/8/5N2/8/1N2K3 w - - 0 1")
	require.NoError(t, err)

	m, _, err := rules.Validate(b, board.Square{Row: 2, Col: 5}, board.Square{Row: 1, Col: 3}, board.NoPieceType, board.White)
	require.NoError(t, err)

	san := game.SAN(b, m)
	assert.True(t, strings.HasPrefix(san, "Nf"), san)
	assert.Equal(t, "Nfd2", san)
}
