// Package fen contains utilities for reading and writing positions in FEN notation.
package fen

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/herohde/gambit/pkg/board"
	"github.com/seekerror/stdlib/pkg/lang"
)

const (
	Initial = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
)

// Decode returns a new board from a FEN description.
//
// Example:
//
//	"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
func Decode(fen string) (*board.Board, error) {
	// A FEN record contains six space-separated fields:

	parts := strings.Split(strings.TrimSpace(fen), " ")
	if len(parts) != 6 {
		return nil, fmt.Errorf("invalid number of sections in FEN: '%v'", fen)
	}

	// (1) Piece placement from white's perspective. Each rank is described
	// starting with rank 8 and ending with rank 1; within each rank, squares
	// run from file a through file h. White pieces are uppercase ("PNBRQK"),
	// Black lowercase ("pnbrqk"). Digits 1-8 count blank squares.

	var placements []board.Placement

	row, col := 7, 0
	for _, r := range parts[0] {
		switch {
		case r == '/':
			if col != 8 {
				return nil, fmt.Errorf("invalid rank length in FEN: '%v'", fen)
			}
			row, col = row-1, 0

		case unicode.IsDigit(r):
			col += int(r - '0')

		case unicode.IsLetter(r):
			t, ok := board.ParsePieceType(r)
			if !ok {
				return nil, fmt.Errorf("invalid piece '%v' in FEN: '%v'", string(r), fen)
			}
			color := board.Black
			if unicode.IsUpper(r) {
				color = board.White
			}
			if row < 0 || col > 7 {
				return nil, fmt.Errorf("invalid placement in FEN: '%v'", fen)
			}
			placements = append(placements, board.Placement{
				Square: board.Square{Row: row, Col: col},
				Color:  color,
				Piece:  t,
			})
			col++

		default:
			return nil, fmt.Errorf("invalid character in FEN: '%v'", fen)
		}
	}
	if row != 0 || col != 8 {
		return nil, fmt.Errorf("invalid number of squares in FEN: '%v'", fen)
	}

	// (2) Active color: "w" or "b".

	turn, ok := board.ParseColor(parts[1])
	if !ok {
		return nil, fmt.Errorf("invalid active color in FEN: '%v'", fen)
	}

	// (3) Castling availability: "KQkq" subset, or "-".

	castling, ok := board.ParseCastling(parts[2])
	if !ok {
		return nil, fmt.Errorf("invalid castling in FEN: '%v'", fen)
	}

	// (4) En passant target square, or "-". If a pawn has just made a
	// two-square move, this is the square "behind" the pawn.

	var enpassant lang.Optional[board.Square]
	if parts[3] != "-" {
		sq, err := board.ParseSquare(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid en passant in FEN: '%v'", fen)
		}
		enpassant = lang.Some(sq)
	}

	// (5) Halfmove clock: plies since the last pawn advance or capture,
	// for the fifty-move rule.

	halfmove, err := strconv.Atoi(parts[4])
	if err != nil || halfmove < 0 {
		return nil, fmt.Errorf("invalid halfmove in FEN: '%v'", fen)
	}

	// (6) Fullmove number: starts at 1, incremented after Black's move.

	fullmove, err := strconv.Atoi(parts[5])
	if err != nil || fullmove < 0 {
		return nil, fmt.Errorf("invalid full moves in FEN: '%v'", fen)
	}

	return board.New(placements, turn, castling, enpassant, halfmove, fullmove)
}

// Encode returns the six-field FEN description of the board.
func Encode(b *board.Board) string {
	return fmt.Sprintf("%v %v %v", PositionKey(b), b.HalfMoveClock(), b.FullMoves())
}

// PositionKey returns the first four FEN fields (placement, active color,
// castling, en passant). Positions with equal keys are identical for the
// purposes of repetition detection.
func PositionKey(b *board.Board) string {
	var sb strings.Builder

	for row := 7; row >= 0; row-- {
		empty := 0
		for col := 0; col < 8; col++ {
			p, ok := b.At(board.Square{Row: row, Col: col})
			if !ok {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteString(p.Letter())
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		if row > 0 {
			sb.WriteRune('/')
		}
	}

	ep := "-"
	if sq, ok := b.EnPassant(); ok {
		ep = sq.String()
	}

	return fmt.Sprintf("%v %v %v %v", sb.String(), b.Turn(), b.Castling(), ep)
}
