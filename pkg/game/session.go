// Package game contains the authoritative per-game state machine, rating
// updates, game records and the session registry.
package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/herohde/gambit/pkg/board"
	"github.com/herohde/gambit/pkg/board/fen"
	"github.com/herohde/gambit/pkg/rules"
	"github.com/seekerror/stdlib/pkg/lang"
	"github.com/seekerror/stdlib/pkg/util/mathx"
)

// Status represents the lifecycle state of a game session.
type Status uint8

const (
	Waiting Status = iota
	InProgress
	WhiteWon
	BlackWon
	Draw
	Aborted
	Timeout
)

// IsTerminal returns true iff the status is absorbing.
func (s Status) IsTerminal() bool {
	return s != Waiting && s != InProgress
}

func (s Status) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case InProgress:
		return "in_progress"
	case WhiteWon:
		return "white_won"
	case BlackWon:
		return "black_won"
	case Draw:
		return "draw"
	case Aborted:
		return "aborted"
	case Timeout:
		return "timeout"
	default:
		return "?"
	}
}

// EndReason describes why a game reached a terminal status.
type EndReason uint8

const (
	ReasonNone EndReason = iota
	ReasonCheckmate
	ReasonStalemate
	ReasonResignation
	ReasonAgreement
	ReasonTimeout
	ReasonDisconnection
	ReasonInsufficientMaterial
	ReasonFiftyMoveRule
	ReasonThreefoldRepetition
	ReasonAborted
)

func (r EndReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonCheckmate:
		return "checkmate"
	case ReasonStalemate:
		return "stalemate"
	case ReasonResignation:
		return "resignation"
	case ReasonAgreement:
		return "agreement"
	case ReasonTimeout:
		return "timeout"
	case ReasonDisconnection:
		return "disconnection"
	case ReasonInsufficientMaterial:
		return "insufficient_material"
	case ReasonFiftyMoveRule:
		return "fifty_move_rule"
	case ReasonThreefoldRepetition:
		return "threefold_repetition"
	case ReasonAborted:
		return "aborted"
	default:
		return "?"
	}
}

// PlayerInfo is a snapshot of the participating player at game start.
type PlayerInfo struct {
	ID       string
	Username string
	Rating   int
}

func (p PlayerInfo) String() string {
	return fmt.Sprintf("%v(%v)", p.Username, p.Rating)
}

var (
	// ErrNotInProgress is returned for game actions on a session that is
	// not in progress.
	ErrNotInProgress = errors.New("game not in progress")
)

const repetitionLimit = 3

// Session owns the authoritative state of one game: board, clocks, move
// history, status and terminal reason. All mutations serialize on the
// session lock; snapshots are consistent reads of all fields. Terminal
// transitions are absorbing and idempotent.
type Session struct {
	id           string
	white, black PlayerInfo
	timeControl  string

	mu sync.Mutex

	b      *board.Board
	status Status
	reason EndReason
	winner lang.Optional[board.Color]

	whiteTimeMs, blackTimeMs, incrementMs int64
	startedAt, lastMoveAt                 time.Time

	moveSeq   uint64
	history   []board.Move
	keys      []string // position keys for threefold detection, including the initial position
	drawOffer lang.Optional[board.Color]
	warned    [board.NumColors]bool
}

// Snapshot is a consistent read of all session fields.
type Snapshot struct {
	ID           string
	White, Black PlayerInfo
	TimeControl  string

	Status Status
	Reason EndReason
	Winner lang.Optional[board.Color]

	Turn board.Color
	FEN  string

	WhiteTimeMs, BlackTimeMs, IncrementMs int64
	StartedAt, LastMoveAt                 time.Time

	MoveSequence uint64
	History      []board.Move
	DrawOffer    lang.Optional[board.Color]
}

// TimeOf returns the stored clock of the given color in milliseconds.
func (s Snapshot) TimeOf(c board.Color) int64 {
	if c == board.White {
		return s.WhiteTimeMs
	}
	return s.BlackTimeMs
}

// NewSession creates a session in Waiting state on the standard starting
// position.
func NewSession(id string, white, black PlayerInfo, initialMs, incrementMs int64, timeControl string) *Session {
	b := board.NewStandard()
	return &Session{
		id:          id,
		white:       white,
		black:       black,
		timeControl: timeControl,
		b:           b,
		status:      Waiting,
		whiteTimeMs: initialMs,
		blackTimeMs: initialMs,
		incrementMs: incrementMs,
		keys:        []string{fen.PositionKey(b)},
	}
}

// ID returns the game id.
func (s *Session) ID() string {
	return s.id
}

// White returns the white player snapshot.
func (s *Session) White() PlayerInfo {
	return s.white
}

// Black returns the black player snapshot.
func (s *Session) Black() PlayerInfo {
	return s.black
}

// ColorOf returns the color played by the given player id.
func (s *Session) ColorOf(playerID string) (board.Color, bool) {
	switch playerID {
	case s.white.ID:
		return board.White, true
	case s.black.ID:
		return board.Black, true
	default:
		return 0, false
	}
}

// Opponent returns the opposing player snapshot.
func (s *Session) Opponent(playerID string) (PlayerInfo, bool) {
	switch playerID {
	case s.white.ID:
		return s.black, true
	case s.black.ID:
		return s.white, true
	default:
		return PlayerInfo{}, false
	}
}

// Start transitions Waiting -> InProgress and starts the clocks.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Waiting {
		return
	}
	now := time.Now()
	s.status = InProgress
	s.startedAt = now
	s.lastMoveAt = now
}

// Board returns a copy of the current board for validation.
func (s *Session) Board() *board.Board {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.b.Clone()
}

// ApplyValidatedMove applies a move previously validated against the
// session board, charging the mover's clock for the elapsed time and adding
// the Fischer increment. Terminal conditions (checkmate, stalemate,
// insufficient material, fifty-move rule, threefold repetition) are
// detected and transition the session.
func (s *Session) ApplyValidatedMove(m board.Move, next *board.Board, elapsedMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != InProgress {
		return ErrNotInProgress
	}
	if m.Color != s.b.Turn() {
		return fmt.Errorf("stale move %v: not %v's turn", m, m.Color.Name())
	}

	if m.Color == board.White {
		s.whiteTimeMs = mathx.Max(0, s.whiteTimeMs-elapsedMs+s.incrementMs)
	} else {
		s.blackTimeMs = mathx.Max(0, s.blackTimeMs-elapsedMs+s.incrementMs)
	}
	s.lastMoveAt = time.Now()

	s.b = next
	s.moveSeq++
	s.history = append(s.history, m)
	s.keys = append(s.keys, fen.PositionKey(next))
	s.drawOffer = lang.Optional[board.Color]{}

	// Terminal detection. The winner is the side that just moved.

	opp := m.Color.Opponent()
	switch {
	case m.Is(board.FlagCheckmate):
		s.end(m.Color, ReasonCheckmate)
	case !m.Is(board.FlagCheck) && rules.IsStalemate(next, opp):
		s.draw(ReasonStalemate)
	case rules.HasInsufficientMaterial(next):
		s.draw(ReasonInsufficientMaterial)
	case s.repetitions(s.keys[len(s.keys)-1]) >= repetitionLimit:
		s.draw(ReasonThreefoldRepetition)
	case next.HalfMoveClock() >= 100:
		s.draw(ReasonFiftyMoveRule)
	}
	return nil
}

// Resign ends the game in favor of the opponent. No-op if already terminal.
func (s *Session) Resign(c board.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != InProgress {
		return
	}
	s.end(c.Opponent(), ReasonResignation)
}

// OfferDraw records a pending draw offer by the color. Returns false if the
// game is not in progress or the color already has an offer pending.
func (s *Session) OfferDraw(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != InProgress {
		return false
	}
	if cur, ok := s.drawOffer.V(); ok && cur == c {
		return false
	}
	s.drawOffer = lang.Some(c)
	return true
}

// AcceptDraw ends the game as a draw by agreement if an offer by the
// opponent is pending.
func (s *Session) AcceptDraw(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != InProgress {
		return false
	}
	offer, ok := s.drawOffer.V()
	if !ok || offer == c {
		return false
	}
	s.draw(ReasonAgreement)
	return true
}

// DeclineDraw clears a pending draw offer by the opponent.
func (s *Session) DeclineDraw(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.drawOffer.V()
	if !ok || offer == c {
		return false
	}
	s.drawOffer = lang.Optional[board.Color]{}
	return true
}

// TimeoutOf ends the game on flag fall of the color, zeroing its clock.
func (s *Session) TimeoutOf(c board.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != InProgress {
		return
	}
	if c == board.White {
		s.whiteTimeMs = 0
	} else {
		s.blackTimeMs = 0
	}
	s.end(c.Opponent(), ReasonTimeout)
}

// Disconnect ends the game in favor of the opponent after the grace period
// lapsed without the color returning.
func (s *Session) Disconnect(c board.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != InProgress {
		return
	}
	s.end(c.Opponent(), ReasonDisconnection)
}

// Abort ends the game with no winner unless it is already terminal; a game
// in progress is aborted as well as one that has not started.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.IsTerminal() {
		return
	}
	s.status = Aborted
	s.reason = ReasonAborted
}

// IsThreefoldRepetition returns true iff the current position occurred
// three or more times, including the current occurrence.
func (s *Session) IsThreefoldRepetition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repetitions(s.keys[len(s.keys)-1]) >= repetitionLimit
}

// IsFiftyMoveRule returns true iff 100 plies passed since the last pawn
// move or capture.
func (s *Session) IsFiftyMoveRule() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.b.HalfMoveClock() >= 100
}

// MarkTimeWarned returns true the first time it is called for the color,
// so that a low-time warning is sent once per side.
func (s *Session) MarkTimeWarned(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[c] {
		return false
	}
	s.warned[c] = true
	return true
}

// Snapshot returns a consistent copy of all session fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]board.Move, len(s.history))
	copy(history, s.history)

	return Snapshot{
		ID:           s.id,
		White:        s.white,
		Black:        s.black,
		TimeControl:  s.timeControl,
		Status:       s.status,
		Reason:       s.reason,
		Winner:       s.winner,
		Turn:         s.b.Turn(),
		FEN:          fen.Encode(s.b),
		WhiteTimeMs:  s.whiteTimeMs,
		BlackTimeMs:  s.blackTimeMs,
		IncrementMs:  s.incrementMs,
		StartedAt:    s.startedAt,
		LastMoveAt:   s.lastMoveAt,
		MoveSequence: s.moveSeq,
		History:      history,
		DrawOffer:    s.drawOffer,
	}
}

func (s *Session) repetitions(key string) int {
	count := 0
	for _, k := range s.keys {
		if k == key {
			count++
		}
	}
	return count
}

func (s *Session) end(winner board.Color, reason EndReason) {
	if winner == board.White {
		s.status = WhiteWon
	} else {
		s.status = BlackWon
	}
	s.reason = reason
	s.winner = lang.Some(winner)
}

func (s *Session) draw(reason EndReason) {
	s.status = Draw
	s.reason = reason
	s.winner = lang.Optional[board.Color]{}
}

func (s *Session) String() string {
	return fmt.Sprintf("game{id=%v, %v vs %v, status=%v}", s.id, s.white, s.black, s.status)
}
