package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/herohde/gambit/pkg/board"
	"github.com/herohde/gambit/pkg/rules"
	"github.com/herohde/gambit/pkg/store"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/util/iox"
)

var (
	ErrUnknownGame   = errors.New("unknown game")
	ErrNotInGame     = errors.New("player not in game")
	ErrAlreadyInGame = errors.New("player already in a game")
	ErrNoDrawOffer   = errors.New("no pending draw offer")
)

// warnThresholdMs is the remaining clock under which a one-shot low-time
// warning is emitted.
const warnThresholdMs = 30_000

// EndResult carries the rating outcome of a finished game. Player ids are
// captured before the session is removed from the registry, so terminal
// broadcasts reach disconnected-but-still-wired opponents.
type EndResult struct {
	WhiteID, BlackID       string
	WhiteDelta, BlackDelta int
	PGN                    string
}

// Listener receives game notifications, delivered once per event to the
// two participants via the connection hub.
type Listener interface {
	GameEnded(ctx context.Context, snap Snapshot, end EndResult)
	TimeWarning(ctx context.Context, snap Snapshot, c board.Color, remainingMs int64)
}

// MoveOutcome is the result of a successfully applied move.
type MoveOutcome struct {
	Move     board.Move
	SAN      string
	Snapshot Snapshot
}

// Manager owns the registry of active sessions, applies validated moves,
// monitors clocks and runs the end-of-game pipeline: rating updates,
// persistence and the terminal notification.
type Manager struct {
	players store.PlayerStore
	records store.GameStore // nil disables persistence
	limits  RatingLimits

	listener Listener

	// Registries are concurrent maps for read-heavy access; multi-map
	// create and cleanup serialize on regMu so no observer sees an
	// inconsistent split.
	regMu      sync.Mutex
	games      sync.Map // gameID -> *Session
	playerGame sync.Map // playerID -> gameID
	recordIDs  sync.Map // gameID -> persistent record id
	ending     sync.Map // gameID -> struct{}, end-pipeline guard

	quit iox.AsyncCloser
}

// NewManager creates a manager and starts the timeout monitor. A nil game
// store disables persistence.
func NewManager(ctx context.Context, players store.PlayerStore, records store.GameStore, limits RatingLimits, listener Listener) *Manager {
	m := &Manager{
		players:  players,
		records:  records,
		limits:   limits,
		listener: listener,
		quit:     iox.NewAsyncCloser(),
	}
	go m.monitor(ctx)
	return m
}

// Close stops the timeout monitor.
func (m *Manager) Close() {
	m.quit.Close()
}

// CreateGame registers and starts a session for the pairing. Players
// already in a game are rejected.
func (m *Manager) CreateGame(ctx context.Context, white, black PlayerInfo, initialMs, incrementMs int64, timeControl string) (*Session, error) {
	id := uuid.NewString()
	s := NewSession(id, white, black, initialMs, incrementMs, timeControl)

	m.regMu.Lock()
	if _, ok := m.playerGame.Load(white.ID); ok {
		m.regMu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrAlreadyInGame, white.Username)
	}
	if _, ok := m.playerGame.Load(black.ID); ok {
		m.regMu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrAlreadyInGame, black.Username)
	}
	m.games.Store(id, s)
	m.playerGame.Store(white.ID, id)
	m.playerGame.Store(black.ID, id)
	m.regMu.Unlock()

	if m.records != nil {
		recID, err := m.records.Create(ctx, white.ID, black.ID, timeControl, initialMs, incrementMs, white.Rating, black.Rating)
		if err != nil {
			logw.Errorf(ctx, "Game record creation failed for %v: %v", id, err)
		} else {
			m.recordIDs.Store(id, recID)
		}
	}

	s.Start()
	logw.Infof(ctx, "Game %v started: %v (white) vs %v (black), tc=%v", id, white, black, timeControl)
	return s, nil
}

// Session returns the session by game id.
func (m *Manager) Session(gameID string) (*Session, bool) {
	s, ok := m.games.Load(gameID)
	if !ok {
		return nil, false
	}
	return s.(*Session), true
}

// SessionOf returns the session the player participates in.
func (m *Manager) SessionOf(playerID string) (*Session, bool) {
	id, ok := m.playerGame.Load(playerID)
	if !ok {
		return nil, false
	}
	return m.Session(id.(string))
}

// ProcessMove validates and applies a move in coordinate notation. The
// clock is checked first: an exhausted clock forfeits the game before the
// move is considered. Sequence mismatches are logged but the authoritative
// sequence wins. Persistence failures do not fail the move.
func (m *Manager) ProcessMove(ctx context.Context, gameID, playerID, moveStr string, expectedSeq uint64) (MoveOutcome, error) {
	s, ok := m.Session(gameID)
	if !ok {
		return MoveOutcome{}, ErrUnknownGame
	}
	color, ok := s.ColorOf(playerID)
	if !ok {
		return MoveOutcome{}, ErrNotInGame
	}

	parsed, err := board.ParseMove(moveStr)
	if err != nil {
		return MoveOutcome{}, fmt.Errorf("%w: %v", rules.ErrIllegalMove, err)
	}

	snap := s.Snapshot()
	if snap.Status != InProgress {
		return MoveOutcome{}, ErrNotInProgress
	}
	if snap.Turn != color {
		return MoveOutcome{}, rules.ErrNotYourTurn
	}

	elapsed := time.Since(snap.LastMoveAt).Milliseconds()
	if snap.TimeOf(color)-elapsed <= 0 {
		logw.Infof(ctx, "Game %v: %v flag fell before move %v", gameID, color.Name(), moveStr)
		s.TimeoutOf(color)
		m.finish(ctx, s)
		return MoveOutcome{}, ErrNotInProgress
	}

	if expectedSeq != snap.MoveSequence {
		logw.Debugf(ctx, "Game %v: sequence mismatch %v != %v on %v", gameID, expectedSeq, snap.MoveSequence, moveStr)
	}

	requestedAt := time.Now()
	b := s.Board()
	mv, next, err := rules.Validate(b, parsed.From, parsed.To, parsed.Promotion, color)
	if err != nil {
		return MoveOutcome{}, err
	}
	mv.RequestedAt = requestedAt
	mv.ValidatedAt = time.Now()
	san := SAN(b, mv)

	if err := s.ApplyValidatedMove(mv, next, elapsed); err != nil {
		return MoveOutcome{}, err
	}
	after := s.Snapshot()

	if recID, ok := m.recordIDs.Load(gameID); ok {
		err := m.records.RecordMove(ctx, recID.(string), store.MoveRecord{
			Number:          int(after.MoveSequence),
			Color:           color.Name(),
			From:            mv.From.String(),
			To:              mv.To.String(),
			Promotion:       promotionString(mv),
			SAN:             san,
			FENAfter:        after.FEN,
			TimeRemainingMs: after.TimeOf(color),
			MoveTimeMs:      elapsed,
			PlayedAt:        mv.ValidatedAt,
		})
		if err != nil {
			logw.Errorf(ctx, "Move persistence failed for %v: %v", gameID, err)
		}
	}

	if after.Status.IsTerminal() {
		m.finish(ctx, s)
	}
	return MoveOutcome{Move: mv, SAN: san, Snapshot: after}, nil
}

// Resign forfeits the game for the player.
func (m *Manager) Resign(ctx context.Context, gameID, playerID string) error {
	s, color, err := m.participant(gameID, playerID)
	if err != nil {
		return err
	}
	s.Resign(color)
	m.finish(ctx, s)
	return nil
}

// OfferDraw records a draw offer and returns the offering color.
func (m *Manager) OfferDraw(_ context.Context, gameID, playerID string) (board.Color, error) {
	s, color, err := m.participant(gameID, playerID)
	if err != nil {
		return 0, err
	}
	if !s.OfferDraw(color) {
		return 0, ErrNotInProgress
	}
	return color, nil
}

// AcceptDraw ends the game as a draw by agreement.
func (m *Manager) AcceptDraw(ctx context.Context, gameID, playerID string) error {
	s, color, err := m.participant(gameID, playerID)
	if err != nil {
		return err
	}
	if !s.AcceptDraw(color) {
		return ErrNoDrawOffer
	}
	m.finish(ctx, s)
	return nil
}

// DeclineDraw clears a pending draw offer and returns the declining color.
func (m *Manager) DeclineDraw(_ context.Context, gameID, playerID string) (board.Color, error) {
	s, color, err := m.participant(gameID, playerID)
	if err != nil {
		return 0, err
	}
	if !s.DeclineDraw(color) {
		return 0, ErrNoDrawOffer
	}
	return color, nil
}

// HandleDisconnection forfeits the game after the player's grace period
// lapsed without reconnection.
func (m *Manager) HandleDisconnection(ctx context.Context, gameID, playerID string) error {
	s, color, err := m.participant(gameID, playerID)
	if err != nil {
		return err
	}
	logw.Infof(ctx, "Game %v: %v forfeits by disconnection", gameID, color.Name())
	s.Disconnect(color)
	m.finish(ctx, s)
	return nil
}

func (m *Manager) participant(gameID, playerID string) (*Session, board.Color, error) {
	s, ok := m.Session(gameID)
	if !ok {
		return nil, 0, ErrUnknownGame
	}
	color, ok := s.ColorOf(playerID)
	if !ok {
		return nil, 0, ErrNotInGame
	}
	return s, color, nil
}

// monitor wakes every second and forfeits in-progress games whose
// side-to-move exhausted its clock, emitting a one-shot warning when a
// clock drops low. It tolerates sessions ending mid-iteration.
func (m *Manager) monitor(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			m.sweep(ctx)
		case <-m.quit.Closed():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	m.games.Range(func(_, v any) bool {
		s := v.(*Session)

		snap := s.Snapshot()
		if snap.Status != InProgress || snap.LastMoveAt.IsZero() {
			return true
		}

		turn := snap.Turn
		remaining := snap.TimeOf(turn) - time.Since(snap.LastMoveAt).Milliseconds()
		switch {
		case remaining <= 0:
			logw.Infof(ctx, "Game %v: %v flag fell", snap.ID, turn.Name())
			s.TimeoutOf(turn)
			m.finish(ctx, s)
		case remaining <= warnThresholdMs && s.MarkTimeWarned(turn):
			m.listener.TimeWarning(ctx, snap, turn, remaining)
		}
		return true
	})
}

// finish runs the end-of-game pipeline exactly once per game: rating and
// statistics updates, persistence of the completed record, registry
// cleanup, and the terminal notification with the captured player ids.
func (m *Manager) finish(ctx context.Context, s *Session) {
	snap := s.Snapshot()
	if !snap.Status.IsTerminal() {
		return
	}
	if _, loaded := m.ending.LoadOrStore(snap.ID, struct{}{}); loaded {
		return
	}

	// (1)+(2) Rating deltas from the live stored ratings, then stats.

	end := EndResult{WhiteID: snap.White.ID, BlackID: snap.Black.ID}
	if ws, bs, ok := Scores(snap.Status); ok {
		whiteRating, blackRating := m.currentRatings(ctx, snap)

		newWhite, dw := m.limits.Update(whiteRating, blackRating, ws)
		newBlack, db := m.limits.Update(blackRating, whiteRating, bs)
		end.WhiteDelta, end.BlackDelta = dw, db

		m.applyPlayerResult(ctx, snap.White.ID, newWhite, statOf(ws))
		m.applyPlayerResult(ctx, snap.Black.ID, newBlack, statOf(bs))
	}

	// (3) Persist completion.

	end.PGN = PGN(snap.White, snap.Black, snap.History, snap.Status, snap.Reason, snap.StartedAt, snap.TimeControl)
	if recID, ok := m.recordIDs.Load(snap.ID); ok {
		var err error
		if snap.Status == Aborted {
			err = m.records.Abort(ctx, recID.(string))
		} else {
			err = m.records.Complete(ctx, recID.(string), resultOf(snap.Status), snap.Reason.String(), end.PGN, snap.FEN, end.WhiteDelta, end.BlackDelta)
		}
		if err != nil {
			logw.Errorf(ctx, "Game completion persistence failed for %v: %v", snap.ID, err)
		}
	}

	// (4)+(5) Player ids were captured in end; remove the registry entries.

	m.regMu.Lock()
	m.games.Delete(snap.ID)
	m.playerGame.Delete(snap.White.ID)
	m.playerGame.Delete(snap.Black.ID)
	m.recordIDs.Delete(snap.ID)
	m.regMu.Unlock()

	logw.Infof(ctx, "Game %v ended: %v (%v), deltas=%v/%v",
		snap.ID, snap.Status, snap.Reason, end.WhiteDelta, end.BlackDelta)

	// (6) Notify both participants.

	m.listener.GameEnded(ctx, snap, end)
}

func (m *Manager) currentRatings(ctx context.Context, snap Snapshot) (int, int) {
	white, black := snap.White.Rating, snap.Black.Rating
	if p, err := m.players.GetByID(ctx, snap.White.ID); err == nil {
		white = p.Rating
	}
	if p, err := m.players.GetByID(ctx, snap.Black.ID); err == nil {
		black = p.Rating
	}
	return white, black
}

func (m *Manager) applyPlayerResult(ctx context.Context, playerID string, rating int, result store.StatResult) {
	if err := m.players.UpdateRating(ctx, playerID, rating); err != nil {
		logw.Errorf(ctx, "Rating update failed for %v: %v", playerID, err)
	}
	if err := m.players.UpdateGameStats(ctx, playerID, result); err != nil {
		logw.Errorf(ctx, "Stats update failed for %v: %v", playerID, err)
	}
}

func statOf(score float64) store.StatResult {
	switch score {
	case 1:
		return store.StatWin
	case 0:
		return store.StatLoss
	default:
		return store.StatDraw
	}
}

func resultOf(status Status) store.GameResult {
	switch status {
	case WhiteWon:
		return store.ResultWhiteWin
	case BlackWon:
		return store.ResultBlackWin
	case Draw:
		return store.ResultDraw
	default:
		return store.ResultAborted
	}
}

func promotionString(m board.Move) string {
	if !m.Is(board.FlagPromotion) {
		return ""
	}
	return m.Promotion.String()
}
