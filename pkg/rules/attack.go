package rules

import "github.com/herohde/gambit/pkg/board"

var (
	knightOffsets = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingOffsets   = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	bishopRays    = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	rookRays      = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
)

// IsChecked returns true iff the color's king is attacked by the opponent.
func IsChecked(b *board.Board, c board.Color) bool {
	king, ok := b.King(c)
	if !ok {
		return false
	}
	return isAttacked(b, king.Square, c.Opponent())
}

// isAttacked returns true iff the square is attacked by any piece of the
// given color. Does not include en passant.
func isAttacked(b *board.Board, sq board.Square, by board.Color) bool {
	// Pawns attack diagonally forward, so look one row backwards from sq.
	for _, dc := range []int{-1, 1} {
		from := sq.Offset(-by.Forward(), dc)
		if p, ok := b.At(from); ok && p.Color == by && p.Type == board.Pawn {
			return true
		}
	}

	for _, d := range knightOffsets {
		if p, ok := b.At(sq.Offset(d[0], d[1])); ok && p.Color == by && p.Type == board.Knight {
			return true
		}
	}
	for _, d := range kingOffsets {
		if p, ok := b.At(sq.Offset(d[0], d[1])); ok && p.Color == by && p.Type == board.King {
			return true
		}
	}

	if rayAttacked(b, sq, by, bishopRays, board.Bishop) {
		return true
	}
	return rayAttacked(b, sq, by, rookRays, board.Rook)
}

func rayAttacked(b *board.Board, sq board.Square, by board.Color, rays [4][2]int, slider board.PieceType) bool {
	for _, d := range rays {
		for to := sq.Offset(d[0], d[1]); to.IsValid(); to = to.Offset(d[0], d[1]) {
			p, ok := b.At(to)
			if !ok {
				continue
			}
			if p.Color == by && (p.Type == slider || p.Type == board.Queen) {
				return true
			}
			break
		}
	}
	return false
}
