package rules

import "github.com/herohde/gambit/pkg/board"

// LegalMovesFor returns all legal moves for the piece at the given square.
func LegalMovesFor(b *board.Board, from board.Square) []board.Move {
	p, ok := b.At(from)
	if !ok {
		return nil
	}

	var ret []board.Move
	scratch := b.Clone()
	forEachCandidate(b, p, func(m board.Move) bool {
		undo := scratch.Apply(m)
		legal := !IsChecked(scratch, p.Color)
		undo()
		if legal {
			ret = append(ret, m)
		}
		return false
	})
	return ret
}

// LegalMoves returns all legal moves for the color.
func LegalMoves(b *board.Board, c board.Color) []board.Move {
	var ret []board.Move
	for _, p := range b.PiecesOf(c) {
		ret = append(ret, LegalMovesFor(b, p.Square)...)
	}
	return ret
}

// HasLegalMove returns true iff the color has at least one legal move.
func HasLegalMove(b *board.Board, c board.Color) bool {
	scratch := b.Clone()
	for _, p := range b.PiecesOf(c) {
		found := forEachCandidate(b, p, func(m board.Move) bool {
			undo := scratch.Apply(m)
			legal := !IsChecked(scratch, p.Color)
			undo()
			return legal
		})
		if found {
			return true
		}
	}
	return false
}

// IsCheckmate returns true iff the color is in check with no legal move.
func IsCheckmate(b *board.Board, c board.Color) bool {
	return IsChecked(b, c) && !HasLegalMove(b, c)
}

// IsStalemate returns true iff the color is not in check and has no legal move.
func IsStalemate(b *board.Board, c board.Color) bool {
	return !IsChecked(b, c) && !HasLegalMove(b, c)
}

// HasInsufficientMaterial returns true iff neither side can possibly
// deliver mate: K vs K, K+minor vs K, or K+B vs K+B with both bishops on
// squares of the same color.
func HasInsufficientMaterial(b *board.Board) bool {
	var minors []*board.Piece
	for _, p := range b.Pieces() {
		switch p.Type {
		case board.King:
			// always present
		case board.Bishop, board.Knight:
			minors = append(minors, p)
		default:
			return false
		}
	}

	switch len(minors) {
	case 0:
		return true
	case 1:
		return true
	case 2:
		a, c := minors[0], minors[1]
		if a.Type != board.Bishop || c.Type != board.Bishop || a.Color == c.Color {
			return false
		}
		return squareShade(a.Square) == squareShade(c.Square)
	default:
		return false
	}
}

func squareShade(sq board.Square) int {
	return (sq.Row + sq.Col) % 2
}

// forEachCandidate invokes fn for every pseudo-legal move of the piece,
// stopping early if fn returns true.
func forEachCandidate(b *board.Board, p *board.Piece, fn func(board.Move) bool) bool {
	promotions := []board.PieceType{board.NoPieceType}

	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			to := board.Square{Row: row, Col: col}

			promos := promotions
			if p.Type == board.Pawn && to.Row == p.Color.PromotionRow() {
				promos = []board.PieceType{board.Queen, board.Rook, board.Bishop, board.Knight}
			}
			for _, promo := range promos {
				m, err := buildMove(b, p, to, promo)
				if err != nil {
					continue
				}
				if fn(m) {
					return true
				}
			}
		}
	}
	return false
}
