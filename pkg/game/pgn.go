package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/herohde/gambit/pkg/board"
	"github.com/herohde/gambit/pkg/rules"
)

// PGN renders the standard game record. It is a pure function of the move
// history and game metadata: the history is replayed from the starting
// position to compute SAN disambiguation.
func PGN(white, black PlayerInfo, history []board.Move, status Status, reason EndReason, startedAt time.Time, timeControl string) string {
	var sb strings.Builder

	result := resultTag(status)

	fmt.Fprintf(&sb, "[Event \"Casual %v game\"]\n", timeControl)
	fmt.Fprintf(&sb, "[Site \"gambit\"]\n")
	fmt.Fprintf(&sb, "[Date \"%v\"]\n", startedAt.Format("2006.01.02"))
	fmt.Fprintf(&sb, "[White \"%v\"]\n", white.Username)
	fmt.Fprintf(&sb, "[Black \"%v\"]\n", black.Username)
	fmt.Fprintf(&sb, "[WhiteElo \"%v\"]\n", white.Rating)
	fmt.Fprintf(&sb, "[BlackElo \"%v\"]\n", black.Rating)
	fmt.Fprintf(&sb, "[TimeControl \"%v\"]\n", timeControl)
	fmt.Fprintf(&sb, "[Result \"%v\"]\n", result)
	if reason != ReasonNone {
		fmt.Fprintf(&sb, "[Termination \"%v\"]\n", reason)
	}
	sb.WriteString("\n")

	b := board.NewStandard()
	var tokens []string
	for i, m := range history {
		san := SAN(b, m)
		if i%2 == 0 {
			tokens = append(tokens, fmt.Sprintf("%v.", i/2+1))
		}
		tokens = append(tokens, san)
		b.Apply(m)
	}
	tokens = append(tokens, result)

	sb.WriteString(strings.Join(tokens, " "))
	sb.WriteString("\n")
	return sb.String()
}

// SAN returns the standard algebraic notation of the move on the board it
// was played on.
func SAN(b *board.Board, m board.Move) string {
	var sb strings.Builder

	switch {
	case m.Is(board.FlagCastleKingSide):
		sb.WriteString("O-O")
	case m.Is(board.FlagCastleQueenSide):
		sb.WriteString("O-O-O")
	case m.Piece == board.Pawn:
		if m.Is(board.FlagCapture) {
			sb.WriteString(fmt.Sprintf("%cx", m.From.File()))
		}
		sb.WriteString(m.To.String())
		if m.Is(board.FlagPromotion) {
			sb.WriteString("=" + m.Promotion.SAN())
		}
	default:
		sb.WriteString(m.Piece.SAN())
		sb.WriteString(disambiguate(b, m))
		if m.Is(board.FlagCapture) {
			sb.WriteString("x")
		}
		sb.WriteString(m.To.String())
	}

	if m.Is(board.FlagCheckmate) {
		sb.WriteString("#")
	} else if m.Is(board.FlagCheck) {
		sb.WriteString("+")
	}
	return sb.String()
}

// disambiguate returns the from-square qualifier needed when another piece
// of the same type could legally reach the destination: file if unique,
// else rank, else both.
func disambiguate(b *board.Board, m board.Move) string {
	var rivals []board.Square
	for _, p := range b.PiecesOf(m.Color) {
		if p.Type != m.Piece || p.Square == m.From {
			continue
		}
		for _, alt := range rules.LegalMovesFor(b, p.Square) {
			if alt.To == m.To {
				rivals = append(rivals, p.Square)
				break
			}
		}
	}
	if len(rivals) == 0 {
		return ""
	}

	sameFile, sameRank := false, false
	for _, sq := range rivals {
		if sq.Col == m.From.Col {
			sameFile = true
		}
		if sq.Row == m.From.Row {
			sameRank = true
		}
	}

	switch {
	case !sameFile:
		return string(m.From.File())
	case !sameRank:
		return fmt.Sprintf("%d", m.From.Rank())
	default:
		return m.From.String()
	}
}

func resultTag(status Status) string {
	switch status {
	case WhiteWon:
		return "1-0"
	case BlackWon:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}
