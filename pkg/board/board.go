package board

import (
	"fmt"
	"strings"

	"github.com/seekerror/stdlib/pkg/lang"
)

// Placement defines a piece placement for board construction.
type Placement struct {
	Square Square
	Color  Color
	Piece  PieceType
}

func (p Placement) String() string {
	return fmt.Sprintf("%v%v@%v", p.Color, p.Piece, p.Square)
}

// Board aggregates an 8x8 occupancy grid, the piece list, side to move,
// en passant target, half-move clock, full-move number and castling rights.
// Not thread-safe: sessions serialize access under their own lock.
//
// Invariants: the grid and piece list are mutually consistent, every board
// exposed outside the validator has exactly one king per color, and
// castling rights are monotone non-increasing.
type Board struct {
	grid   [8][8]*Piece
	pieces []*Piece

	turn      Color
	castling  Castling
	enpassant lang.Optional[Square]
	halfmove  int // plies since the last pawn move or capture
	fullmove  int

	nextID uint32
}

// New creates a board from explicit placements. HasMoved is inferred: a
// piece is considered unmoved iff it stands on an origin square for its
// type and color. Castling legality is additionally guarded by the rights
// bits, so the inference is conservative enough for play resumed from FEN.
func New(placements []Placement, turn Color, castling Castling, enpassant lang.Optional[Square], halfmove, fullmove int) (*Board, error) {
	b := &Board{
		turn:      turn,
		castling:  castling,
		enpassant: enpassant,
		halfmove:  halfmove,
		fullmove:  fullmove,
		nextID:    1,
	}

	kings := [NumColors]int{}
	for _, pl := range placements {
		if !pl.Square.IsValid() {
			return nil, fmt.Errorf("invalid placement square: %v", pl)
		}
		if !b.IsEmpty(pl.Square) {
			return nil, fmt.Errorf("duplicate placement: %v", pl)
		}

		p := &Piece{
			ID:       b.nextID,
			Type:     pl.Piece,
			Color:    pl.Color,
			Square:   pl.Square,
			HasMoved: !isOrigin(pl),
		}
		b.nextID++
		b.grid[pl.Square.Row][pl.Square.Col] = p
		b.pieces = append(b.pieces, p)

		if pl.Piece == King {
			kings[pl.Color]++
		}
	}

	if kings[White] != 1 || kings[Black] != 1 {
		return nil, fmt.Errorf("invalid number of kings")
	}
	return b, nil
}

// NewStandard creates a board in the standard starting position.
func NewStandard() *Board {
	var placements []Placement

	back := []PieceType{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}
	for col, t := range back {
		placements = append(placements,
			Placement{Square: Square{Row: 0, Col: col}, Color: White, Piece: t},
			Placement{Square: Square{Row: 1, Col: col}, Color: White, Piece: Pawn},
			Placement{Square: Square{Row: 7, Col: col}, Color: Black, Piece: t},
			Placement{Square: Square{Row: 6, Col: col}, Color: Black, Piece: Pawn},
		)
	}

	b, _ := New(placements, White, FullCastlingRights, lang.Optional[Square]{}, 0, 1)
	return b
}

func isOrigin(pl Placement) bool {
	home := pl.Color.HomeRow()
	switch pl.Piece {
	case Pawn:
		return pl.Square.Row == home+pl.Color.Forward()
	case Rook:
		return pl.Square.Row == home && (pl.Square.Col == 0 || pl.Square.Col == 7)
	case Knight:
		return pl.Square.Row == home && (pl.Square.Col == 1 || pl.Square.Col == 6)
	case Bishop:
		return pl.Square.Row == home && (pl.Square.Col == 2 || pl.Square.Col == 5)
	case Queen:
		return pl.Square.Row == home && pl.Square.Col == 3
	case King:
		return pl.Square.Row == home && pl.Square.Col == 4
	default:
		return false
	}
}

// Turn returns the side to move.
func (b *Board) Turn() Color {
	return b.turn
}

// Castling returns the castling rights.
func (b *Board) Castling() Castling {
	return b.castling
}

// EnPassant returns the en passant target square, if the previous move was
// a double pawn push.
func (b *Board) EnPassant() (Square, bool) {
	return b.enpassant.V()
}

// HalfMoveClock returns the number of plies since the last pawn move or capture.
func (b *Board) HalfMoveClock() int {
	return b.halfmove
}

// FullMoves returns the full move number, starting at 1.
func (b *Board) FullMoves() int {
	return b.fullmove
}

// At returns the piece at the given square, if any.
func (b *Board) At(sq Square) (*Piece, bool) {
	if !sq.IsValid() {
		return nil, false
	}
	p := b.grid[sq.Row][sq.Col]
	return p, p != nil
}

// IsEmpty returns true iff the square is empty.
func (b *Board) IsEmpty(sq Square) bool {
	_, ok := b.At(sq)
	return !ok
}

// Pieces returns all pieces on the board. The returned slice is shared:
// callers must not modify it.
func (b *Board) Pieces() []*Piece {
	return b.pieces
}

// PiecesOf returns all pieces of the given color.
func (b *Board) PiecesOf(c Color) []*Piece {
	var ret []*Piece
	for _, p := range b.pieces {
		if p.Color == c {
			ret = append(ret, p)
		}
	}
	return ret
}

// King returns the king of the given color.
func (b *Board) King(c Color) (*Piece, bool) {
	for _, p := range b.pieces {
		if p.Type == King && p.Color == c {
			return p, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the board, preserving piece identities.
func (b *Board) Clone() *Board {
	ret := &Board{
		turn:      b.turn,
		castling:  b.castling,
		enpassant: b.enpassant,
		halfmove:  b.halfmove,
		fullmove:  b.fullmove,
		nextID:    b.nextID,
	}
	ret.pieces = make([]*Piece, 0, len(b.pieces))
	for _, p := range b.pieces {
		cp := *p
		ret.pieces = append(ret.pieces, &cp)
		ret.grid[cp.Square.Row][cp.Square.Col] = &cp
	}
	return ret
}

// Undo reverts a move applied with Apply. Undos must be invoked in reverse
// order of application.
type Undo func()

// Apply executes a fully-constructed move, mutating the board: it moves the
// piece, removes any captured piece (including en passant victims), hops
// the rook on castling, exchanges the pawn for a fresh identity on
// promotion, strips castling rights when a king or rook moves or a rook
// origin square is vacated or captured, updates the en passant target and
// the move counters, and flips the turn. The move is trusted to be legal;
// use the validator to construct it.
func (b *Board) Apply(m Move) Undo {
	prevCastling := b.castling
	prevEnpassant := b.enpassant
	prevHalfmove := b.halfmove
	prevFullmove := b.fullmove
	prevTurn := b.turn

	// (1) Remove the captured piece, if any. The en passant victim is not
	// on the destination square.

	capSq := m.To
	if m.Is(FlagEnPassant) {
		capSq = m.To.Offset(-m.Color.Forward(), 0)
	}

	var captured *Piece
	if p, ok := b.At(capSq); ok && p.Color != m.Color {
		captured = p
		b.remove(p)
	}

	// (2) Move the piece, and the rook on castling.

	moved := b.grid[m.From.Row][m.From.Col]
	movedHadMoved := moved.HasMoved
	b.relocate(moved, m.To)

	var rook *Piece
	var rookFrom Square
	var rookHadMoved bool
	if m.Is(FlagCastleKingSide | FlagCastleQueenSide) {
		from, to := castleRookSquares(m)
		rookFrom = from
		rook = b.grid[from.Row][from.Col]
		rookHadMoved = rook.HasMoved
		b.relocate(rook, to)
	}

	// (3) Promotion replaces the pawn with a fresh identity.

	var promoted *Piece
	if m.Is(FlagPromotion) {
		b.remove(moved)
		promoted = &Piece{
			ID:       b.nextID,
			Type:     m.Promotion,
			Color:    m.Color,
			Square:   m.To,
			HasMoved: true,
		}
		b.nextID++
		b.grid[m.To.Row][m.To.Col] = promoted
		b.pieces = append(b.pieces, promoted)
	}

	// (4) Strip castling rights: king move revokes both sides, a rook
	// origin square vacated or captured revokes that side.

	if m.Piece == King {
		b.castling &^= KingSide(m.Color) | QueenSide(m.Color)
	}
	for _, c := range []Color{White, Black} {
		home := c.HomeRow()
		for _, sq := range []Square{{Row: home, Col: 0}, {Row: home, Col: 7}} {
			if m.From == sq || capSq == sq {
				if sq.Col == 0 {
					b.castling &^= QueenSide(c)
				} else {
					b.castling &^= KingSide(c)
				}
			}
		}
	}

	// (5) En passant target, counters, turn.

	if m.Is(FlagDoublePush) {
		b.enpassant = lang.Some(m.From.Offset(m.Color.Forward(), 0))
	} else {
		b.enpassant = lang.Optional[Square]{}
	}

	if m.Piece == Pawn || captured != nil {
		b.halfmove = 0
	} else {
		b.halfmove++
	}
	if m.Color == Black {
		b.fullmove++
	}
	b.turn = prevTurn.Opponent()

	return func() {
		if promoted != nil {
			b.remove(promoted)
			b.nextID--
			b.grid[m.To.Row][m.To.Col] = moved
			moved.Square = m.To
			b.pieces = append(b.pieces, moved)
		}
		if rook != nil {
			b.relocate(rook, rookFrom)
			rook.HasMoved = rookHadMoved
		}
		b.relocate(moved, m.From)
		moved.HasMoved = movedHadMoved
		if captured != nil {
			b.grid[capSq.Row][capSq.Col] = captured
			b.pieces = append(b.pieces, captured)
		}

		b.castling = prevCastling
		b.enpassant = prevEnpassant
		b.halfmove = prevHalfmove
		b.fullmove = prevFullmove
		b.turn = prevTurn
	}
}

func castleRookSquares(m Move) (from, to Square) {
	home := m.Color.HomeRow()
	if m.Is(FlagCastleKingSide) {
		return Square{Row: home, Col: 7}, Square{Row: home, Col: 5}
	}
	return Square{Row: home, Col: 0}, Square{Row: home, Col: 3}
}

func (b *Board) relocate(p *Piece, to Square) {
	b.grid[p.Square.Row][p.Square.Col] = nil
	b.grid[to.Row][to.Col] = p
	p.Square = to
	p.HasMoved = true
}

func (b *Board) remove(p *Piece) {
	b.grid[p.Square.Row][p.Square.Col] = nil
	for i, q := range b.pieces {
		if q == p {
			b.pieces = append(b.pieces[:i], b.pieces[i+1:]...)
			return
		}
	}
}

func (b *Board) String() string {
	var sb strings.Builder
	for row := 7; row >= 0; row-- {
		for col := 0; col < 8; col++ {
			if p := b.grid[row][col]; p != nil {
				sb.WriteString(p.Letter())
			} else {
				sb.WriteRune('-')
			}
		}
		if row > 0 {
			sb.WriteRune('/')
		}
	}

	ep := "-"
	if sq, ok := b.enpassant.V(); ok {
		ep = sq.String()
	}
	return fmt.Sprintf("%v %v %v(%v) %v %v", sb.String(), b.turn, b.castling, ep, b.halfmove, b.fullmove)
}
