package board

import (
	"fmt"
	"time"
)

// MoveFlag is a set of derived properties of an executed move.
type MoveFlag uint16

const (
	FlagCapture MoveFlag = 1 << iota
	FlagEnPassant
	FlagCastleKingSide
	FlagCastleQueenSide
	FlagPromotion
	FlagDoublePush
	FlagCheck
	FlagCheckmate
)

// Move records one executed or proposed ply along with contextual metadata.
type Move struct {
	From, To  Square
	Piece     PieceType
	Color     Color
	Promotion PieceType // desired piece for promotion, if any
	Captured  PieceType // captured piece, if any
	Flags     MoveFlag

	RequestedAt, ValidatedAt time.Time
}

// ParseMove parses a move in pure coordinate notation, such as "e2e4" or
// "e7e8q". The parsed move carries no contextual flags.
func ParseMove(str string) (Move, error) {
	runes := []rune(str)

	if len(runes) < 4 || len(runes) > 5 {
		return Move{}, fmt.Errorf("invalid move: '%v'", str)
	}

	from, err := ParseSquare(string(runes[:2]))
	if err != nil {
		return Move{}, fmt.Errorf("invalid from: '%v': %w", str, err)
	}
	to, err := ParseSquare(string(runes[2:4]))
	if err != nil {
		return Move{}, fmt.Errorf("invalid to: '%v': %w", str, err)
	}

	if len(runes) == 5 {
		promo, ok := ParsePieceType(runes[4])
		if !ok || promo == Pawn || promo == King {
			return Move{}, fmt.Errorf("invalid promotion: '%v'", str)
		}
		return Move{From: from, To: to, Promotion: promo}, nil
	}

	return Move{From: from, To: to}, nil
}

// Is returns true iff any of the given flags are set.
func (m Move) Is(f MoveFlag) bool {
	return m.Flags&f != 0
}

func (m Move) String() string {
	if m.Promotion.IsValid() {
		return fmt.Sprintf("%v%v%v", m.From, m.To, m.Promotion)
	}
	return fmt.Sprintf("%v%v", m.From, m.To)
}
