// Package rules implements move validation: pseudo-legal motion per piece,
// legality under check, special-move construction and terminal detection.
package rules

import (
	"errors"
	"fmt"

	"github.com/herohde/gambit/pkg/board"
)

// Rule verdicts. Validation failures are reported to the initiating client
// and are never fatal to a connection.
var (
	ErrInvalidPiece     = errors.New("no piece at origin square")
	ErrNotYourTurn      = errors.New("piece belongs to the opponent")
	ErrIllegalMove      = errors.New("piece cannot move there")
	ErrPathBlocked      = errors.New("path is blocked")
	ErrInvalidCastling  = errors.New("castling is not allowed")
	ErrInvalidEnPassant = errors.New("en passant is not allowed")
	ErrInvalidPromotion = errors.New("invalid promotion")
	ErrWouldBeInCheck   = errors.New("move would leave king in check")
)

// Validate decides whether moving the piece at from to the given square is
// legal for the mover and, if so, returns the fully-constructed move along
// with the resulting board. The input board is not modified.
func Validate(b *board.Board, from, to board.Square, promotion board.PieceType, mover board.Color) (board.Move, *board.Board, error) {
	p, ok := b.At(from)
	if !ok {
		return board.Move{}, nil, ErrInvalidPiece
	}
	if p.Color != mover {
		return board.Move{}, nil, ErrNotYourTurn
	}
	if !to.IsValid() {
		return board.Move{}, nil, fmt.Errorf("%w: %v", ErrIllegalMove, to)
	}

	m, err := buildMove(b, p, to, promotion)
	if err != nil {
		return board.Move{}, nil, err
	}

	// Simulate on a clone: the mover's king must not be attacked afterwards.

	next := b.Clone()
	next.Apply(m)
	if IsChecked(next, mover) {
		return board.Move{}, nil, ErrWouldBeInCheck
	}

	// Check and checkmate are detected post-move on the opponent.

	opp := mover.Opponent()
	if IsChecked(next, opp) {
		m.Flags |= board.FlagCheck
		if !HasLegalMove(next, opp) {
			m.Flags |= board.FlagCheckmate
		}
	}

	return m, next, nil
}

// buildMove constructs the move from the motion rules of the piece,
// carrying capture, castling, promotion and double-push flags. The move is
// pseudo-legal: check safety is the caller's concern, except for castling
// where transit-square safety is part of the rule itself.
func buildMove(b *board.Board, p *board.Piece, to board.Square, promotion board.PieceType) (board.Move, error) {
	from := p.Square
	if from == to {
		return board.Move{}, ErrIllegalMove
	}

	m := board.Move{From: from, To: to, Piece: p.Type, Color: p.Color}

	if target, ok := b.At(to); ok && target.Color == p.Color {
		return board.Move{}, ErrPathBlocked
	}

	switch p.Type {
	case board.Pawn:
		if err := buildPawnMove(b, p, to, &m); err != nil {
			return board.Move{}, err
		}

	case board.Knight:
		dr, dc := abs(to.Row-from.Row), abs(to.Col-from.Col)
		if !(dr == 1 && dc == 2 || dr == 2 && dc == 1) {
			return board.Move{}, ErrIllegalMove
		}
		markCapture(b, to, &m)

	case board.Bishop, board.Rook, board.Queen:
		if err := buildSliderMove(b, p, to, &m); err != nil {
			return board.Move{}, err
		}

	case board.King:
		dr, dc := to.Row-from.Row, to.Col-from.Col
		switch {
		case abs(dr) <= 1 && abs(dc) <= 1:
			markCapture(b, to, &m)
		case dr == 0 && abs(dc) == 2:
			if err := buildCastleMove(b, p, to, &m); err != nil {
				return board.Move{}, err
			}
		default:
			return board.Move{}, ErrIllegalMove
		}

	default:
		return board.Move{}, ErrInvalidPiece
	}

	// Promotion must be requested iff a pawn reaches the back rank, with a
	// valid replacement piece.

	if p.Type == board.Pawn && to.Row == p.Color.PromotionRow() {
		switch promotion {
		case board.Queen, board.Rook, board.Bishop, board.Knight:
			m.Flags |= board.FlagPromotion
			m.Promotion = promotion
		default:
			return board.Move{}, ErrInvalidPromotion
		}
	} else if promotion != board.NoPieceType {
		return board.Move{}, ErrInvalidPromotion
	}

	return m, nil
}

func buildPawnMove(b *board.Board, p *board.Piece, to board.Square, m *board.Move) error {
	from := p.Square
	fwd := p.Color.Forward()
	dr, dc := to.Row-from.Row, to.Col-from.Col

	switch {
	case dc == 0 && dr == fwd:
		// One forward, if the target is empty.
		if !b.IsEmpty(to) {
			return ErrPathBlocked
		}

	case dc == 0 && dr == 2*fwd:
		// Two forward, only from the pawn's start row with both squares empty.
		if from.Row != p.Color.HomeRow()+fwd {
			return ErrIllegalMove
		}
		if !b.IsEmpty(from.Offset(fwd, 0)) || !b.IsEmpty(to) {
			return ErrPathBlocked
		}
		m.Flags |= board.FlagDoublePush

	case abs(dc) == 1 && dr == fwd:
		// Diagonal forward: a capture, or the current en passant target.
		if target, ok := b.At(to); ok {
			m.Flags |= board.FlagCapture
			m.Captured = target.Type
			return nil
		}

		ep, ok := b.EnPassant()
		if !ok || ep != to {
			return ErrIllegalMove
		}
		// The capturing pawn must sit on its own fifth rank.
		if from.Row != p.Color.HomeRow()+4*fwd {
			return ErrInvalidEnPassant
		}
		m.Flags |= board.FlagCapture | board.FlagEnPassant
		m.Captured = board.Pawn

	default:
		return ErrIllegalMove
	}
	return nil
}

func buildSliderMove(b *board.Board, p *board.Piece, to board.Square, m *board.Move) error {
	from := p.Square
	dr, dc := to.Row-from.Row, to.Col-from.Col

	ok := false
	switch p.Type {
	case board.Bishop:
		ok = abs(dr) == abs(dc)
	case board.Rook:
		ok = dr == 0 || dc == 0
	case board.Queen:
		ok = abs(dr) == abs(dc) || dr == 0 || dc == 0
	}
	if !ok {
		return ErrIllegalMove
	}

	step := board.Square{Row: sign(dr), Col: sign(dc)}
	for sq := from.Offset(step.Row, step.Col); sq != to; sq = sq.Offset(step.Row, step.Col) {
		if !b.IsEmpty(sq) {
			return ErrPathBlocked
		}
	}
	markCapture(b, to, m)
	return nil
}

func buildCastleMove(b *board.Board, p *board.Piece, to board.Square, m *board.Move) error {
	home := p.Color.HomeRow()
	origin := board.Square{Row: home, Col: 4}
	if p.Square != origin || p.HasMoved {
		return ErrInvalidCastling
	}

	kingside := to.Col > origin.Col
	var right board.Castling
	var rookSq board.Square
	var between, transit []board.Square
	if kingside {
		right = board.KingSide(p.Color)
		rookSq = board.Square{Row: home, Col: 7}
		between = []board.Square{{Row: home, Col: 5}, {Row: home, Col: 6}}
		transit = []board.Square{origin, {Row: home, Col: 5}, {Row: home, Col: 6}}
	} else {
		right = board.QueenSide(p.Color)
		rookSq = board.Square{Row: home, Col: 0}
		between = []board.Square{{Row: home, Col: 1}, {Row: home, Col: 2}, {Row: home, Col: 3}}
		transit = []board.Square{origin, {Row: home, Col: 3}, {Row: home, Col: 2}}
	}

	if !b.Castling().IsAllowed(right) {
		return ErrInvalidCastling
	}
	rook, ok := b.At(rookSq)
	if !ok || rook.Type != board.Rook || rook.Color != p.Color || rook.HasMoved {
		return ErrInvalidCastling
	}
	for _, sq := range between {
		if !b.IsEmpty(sq) {
			return ErrInvalidCastling
		}
	}
	// Neither the king's origin, transit nor destination square may be attacked.
	for _, sq := range transit {
		if isAttacked(b, sq, p.Color.Opponent()) {
			return ErrInvalidCastling
		}
	}

	if kingside {
		m.Flags |= board.FlagCastleKingSide
	} else {
		m.Flags |= board.FlagCastleQueenSide
	}
	return nil
}

func markCapture(b *board.Board, to board.Square, m *board.Move) {
	if target, ok := b.At(to); ok {
		m.Flags |= board.FlagCapture
		m.Captured = target.Type
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
