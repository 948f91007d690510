package server

import (
	"context"
	"errors"
	"time"

	"github.com/herohde/gambit/pkg/auth"
	"github.com/herohde/gambit/pkg/board"
	"github.com/herohde/gambit/pkg/game"
	"github.com/herohde/gambit/pkg/match"
	"github.com/herohde/gambit/pkg/proto"
	"github.com/herohde/gambit/pkg/rules"
	"github.com/herohde/gambit/pkg/store"
	"github.com/seekerror/logw"
)

// dispatch routes one message. Panics are caught here: the client receives
// INTERNAL_ERROR and the connection survives.
func (h *Hub) dispatch(ctx context.Context, c *Conn, msg proto.Message) {
	defer func() {
		if r := recover(); r != nil {
			logw.Errorf(ctx, "Panic handling %v on conn %v: %v", msg.Kind(), c.id, r)
			c.SendError(ctx, proto.CodeInternalError, "internal error", msg.ID())
		}
	}()

	switch m := msg.(type) {
	case *proto.Connect:
		h.handleConnect(ctx, c, m)
	case *proto.Heartbeat:
		_ = c.Send(ctx, &proto.HeartbeatAck{
			Header:     proto.NewHeader(proto.TypeHeartbeatAck),
			ServerTime: time.Now().UnixMilli(),
		})
	case *proto.Disconnect:
		logw.Debugf(ctx, "Client disconnect on conn %v: %v", c.id, m.Reason)
		c.Close()
	case *proto.Login:
		h.handleLogin(ctx, c, m)
	case *proto.Register:
		h.handleRegister(ctx, c, m)
	case *proto.Logout:
		h.handleLogout(ctx, c, m)
	case *proto.FindMatch:
		h.handleFindMatch(ctx, c, m)
	case *proto.CancelFindMatch:
		h.handleCancelFindMatch(ctx, c, m)
	case *proto.MoveRequest:
		h.handleMoveRequest(ctx, c, m)
	case *proto.Resign:
		h.handleResign(ctx, c, m)
	case *proto.OfferDraw:
		h.handleOfferDraw(ctx, c, m)
	case *proto.AcceptDraw:
		h.handleAcceptDraw(ctx, c, m)
	case *proto.DeclineDraw:
		h.handleDeclineDraw(ctx, c, m)
	default:
		// Server-to-client types are not accepted from clients.
		c.SendError(ctx, proto.CodeUnknownMessage, "unexpected message", msg.ID())
	}
}

func (h *Hub) handleConnect(ctx context.Context, c *Conn, m *proto.Connect) {
	logw.Debugf(ctx, "Connect from %v: %v %v", c, m.ClientName, m.ClientVersion)
	_ = c.Send(ctx, &proto.ConnectResponse{
		Header:        proto.NewHeader(proto.TypeConnectResponse),
		ServerName:    h.name,
		ServerVersion: h.version,
		InMemory:      h.inMemory,
	})
}

func (h *Hub) handleLogin(ctx context.Context, c *Conn, m *proto.Login) {
	fail := func(code string) {
		_ = c.Send(ctx, &proto.LoginResponse{
			Header:  proto.NewHeader(proto.TypeLoginResponse),
			Success: false,
			Message: code,
		})
	}

	player, err := h.players.GetByUsername(ctx, m.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(proto.CodeInvalidCredentials)
		} else {
			logw.Errorf(ctx, "Login lookup failed for %v: %v", m.Username, err)
			fail(proto.CodeDatabaseError)
		}
		return
	}
	if !auth.CheckPassword(player.PasswordHash, m.Password) {
		fail(proto.CodeInvalidCredentials)
		return
	}
	if player.Banned {
		logw.Infof(ctx, "Banned player %v attempted login: %v", player.Username, player.BanReason)
		fail(proto.CodeAccountBanned)
		return
	}

	token, _, err := h.sessions.Create(ctx, player.ID, c.String())
	if err != nil {
		logw.Errorf(ctx, "Session creation failed for %v: %v", player.Username, err)
		fail(proto.CodeSessionError)
		return
	}

	if err := h.players.UpdateLastLogin(ctx, player.ID); err != nil {
		logw.Warningf(ctx, "Last-login update failed for %v: %v", player.ID, err)
	}

	c.setAuthenticated(player.ID, player.Username, token)
	h.bindPlayer(ctx, player.ID, c)

	logw.Infof(ctx, "Player %v logged in on conn %v", player.Username, c.id)
	_ = c.Send(ctx, &proto.LoginResponse{
		Header:   proto.NewHeader(proto.TypeLoginResponse),
		Success:  true,
		Token:    token,
		PlayerID: player.ID,
		Username: player.Username,
		Rating:   player.Rating,
	})

	// Reconnection: hand the live game state back, if any.
	if s, ok := h.mgr.SessionOf(player.ID); ok {
		snap := s.Snapshot()
		last := ""
		if len(snap.History) > 0 {
			last = snap.History[len(snap.History)-1].String()
		}
		_ = c.Send(ctx, &proto.GameState{
			Header:       proto.NewHeader(proto.TypeGameState),
			GameID:       snap.ID,
			FEN:          snap.FEN,
			Turn:         snap.Turn.Name(),
			MoveSequence: snap.MoveSequence,
			WhiteTimeMs:  snap.WhiteTimeMs,
			BlackTimeMs:  snap.BlackTimeMs,
			Status:       snap.Status.String(),
			LastMove:     last,
		})
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Conn, m *proto.Register) {
	fail := func(code string) {
		_ = c.Send(ctx, &proto.RegisterResponse{
			Header:  proto.NewHeader(proto.TypeRegisterResponse),
			Success: false,
			Message: code,
		})
	}

	switch {
	case !auth.ValidUsername(m.Username):
		fail(proto.CodeInvalidUsername)
		return
	case !auth.ValidEmail(m.Email):
		fail(proto.CodeInvalidEmail)
		return
	case !auth.ValidPassword(m.Password):
		fail(proto.CodeInvalidCredentials)
		return
	}

	hash, err := auth.HashPassword(m.Password)
	if err != nil {
		logw.Errorf(ctx, "Password hash failed: %v", err)
		fail(proto.CodeInternalError)
		return
	}

	player, err := h.players.Create(ctx, m.Username, m.Email, hash, h.cfg.Rating.DefaultRating)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUsernameTaken):
			fail(proto.CodeUsernameTaken)
		case errors.Is(err, store.ErrEmailTaken):
			fail(proto.CodeEmailTaken)
		default:
			logw.Errorf(ctx, "Registration failed for %v: %v", m.Username, err)
			fail(proto.CodeDatabaseError)
		}
		return
	}

	logw.Infof(ctx, "Registered player %v (%v)", player.Username, player.ID)
	_ = c.Send(ctx, &proto.RegisterResponse{
		Header:   proto.NewHeader(proto.TypeRegisterResponse),
		Success:  true,
		PlayerID: player.ID,
	})
}

func (h *Hub) handleLogout(ctx context.Context, c *Conn, m *proto.Logout) {
	playerID, token := c.PlayerID(), c.Token()
	if playerID == "" {
		c.SendError(ctx, proto.CodeNotLoggedIn, "not logged in", m.ID())
		return
	}

	if err := h.sessions.Revoke(ctx, token, "logout"); err != nil {
		logw.Warningf(ctx, "Logout revocation failed for %v: %v", playerID, err)
	}
	h.mm.Cancel(playerID)

	h.connMu.Lock()
	if h.byPlayer[playerID] == c {
		delete(h.byPlayer, playerID)
	}
	h.connMu.Unlock()
	c.clearAuthenticated()

	logw.Infof(ctx, "Player %v logged out on conn %v", playerID, c.id)
}

// requireFull authenticates via the full path: token signature, session
// record, revocation and expiry.
func (h *Hub) requireFull(ctx context.Context, c *Conn, relatedID string) (string, bool) {
	playerID, token := c.PlayerID(), c.Token()
	if playerID == "" {
		c.SendError(ctx, proto.CodeNotLoggedIn, "not logged in", relatedID)
		return "", false
	}
	if _, err := h.sessions.VerifyFull(ctx, token); err != nil {
		switch {
		case errors.Is(err, auth.ErrSessionRevoked), errors.Is(err, auth.ErrSessionExpired):
			c.SendError(ctx, proto.CodeSessionError, err.Error(), relatedID)
		case errors.Is(err, auth.ErrInvalidToken):
			c.SendError(ctx, proto.CodeInvalidToken, "invalid token", relatedID)
		default:
			c.SendError(ctx, proto.CodeDatabaseError, "session lookup failed", relatedID)
		}
		return "", false
	}
	return playerID, true
}

// requireQuick authenticates via the quick path: token signature and expiry
// only. Used on the high-frequency move path; revocation is observed on the
// next full check.
func (h *Hub) requireQuick(ctx context.Context, c *Conn, relatedID string) (string, bool) {
	playerID, token := c.PlayerID(), c.Token()
	if playerID == "" {
		c.SendError(ctx, proto.CodeNotLoggedIn, "not logged in", relatedID)
		return "", false
	}
	if _, err := h.sessions.VerifyQuick(token); err != nil {
		c.SendError(ctx, proto.CodeInvalidToken, "invalid token", relatedID)
		return "", false
	}
	return playerID, true
}

func (h *Hub) handleFindMatch(ctx context.Context, c *Conn, m *proto.FindMatch) {
	playerID, ok := h.requireFull(ctx, c, m.ID())
	if !ok {
		return
	}

	player, err := h.players.GetByID(ctx, playerID)
	if err != nil {
		c.SendError(ctx, proto.CodePlayerNotFound, "player not found", m.ID())
		return
	}
	if _, inGame := h.mgr.SessionOf(playerID); inGame {
		c.SendError(ctx, proto.CodeSessionError, "already in a game", m.ID())
		return
	}

	h.mm.Enqueue(match.Request{
		PlayerID:    player.ID,
		Username:    player.Username,
		Rating:      player.Rating,
		TimeControl: m.TimeControl,
		InitialMs:   m.InitialMs,
		IncrementMs: m.IncrementMs,
	})

	pos, band, _ := h.mm.Position(playerID)
	logw.Infof(ctx, "Player %v queued for %v (pos %v)", player.Username, m.TimeControl, pos)
	_ = c.Send(ctx, &proto.QueueStatus{
		Header:     proto.NewHeader(proto.TypeQueueStatus),
		Position:   pos,
		RatingBand: band,
	})
}

func (h *Hub) handleCancelFindMatch(ctx context.Context, c *Conn, m *proto.CancelFindMatch) {
	playerID, ok := h.requireFull(ctx, c, m.ID())
	if !ok {
		return
	}

	h.mm.Cancel(playerID)
	_ = c.Send(ctx, &proto.QueueStatus{
		Header:   proto.NewHeader(proto.TypeQueueStatus),
		Position: 0,
	})
}

func (h *Hub) handleMoveRequest(ctx context.Context, c *Conn, m *proto.MoveRequest) {
	playerID, ok := h.requireQuick(ctx, c, m.ID())
	if !ok {
		return
	}

	outcome, err := h.mgr.ProcessMove(ctx, m.GameID, playerID, m.Move, m.Sequence)
	if err != nil {
		_ = c.Send(ctx, &proto.MoveResponse{
			Header:       proto.NewHeader(proto.TypeMoveResponse),
			Success:      false,
			GameID:       m.GameID,
			Move:         m.Move,
			ErrorCode:    moveErrorCode(err),
			ErrorMessage: err.Error(),
		})
		return
	}

	snap := outcome.Snapshot
	_ = c.Send(ctx, &proto.MoveResponse{
		Header:      proto.NewHeader(proto.TypeMoveResponse),
		Success:     true,
		GameID:      snap.ID,
		Move:        outcome.Move.String(),
		SAN:         outcome.SAN,
		Sequence:    snap.MoveSequence,
		FEN:         snap.FEN,
		WhiteTimeMs: snap.WhiteTimeMs,
		BlackTimeMs: snap.BlackTimeMs,
		IsCheck:     outcome.Move.Is(board.FlagCheck),
		IsCheckmate: outcome.Move.Is(board.FlagCheckmate),
	})

	if opp, ok := sessionOpponent(snap, playerID); ok {
		h.sendTo(ctx, opp, &proto.MoveNotification{
			Header:      proto.NewHeader(proto.TypeMoveNotification),
			GameID:      snap.ID,
			Move:        outcome.Move.String(),
			SAN:         outcome.SAN,
			Sequence:    snap.MoveSequence,
			FEN:         snap.FEN,
			WhiteTimeMs: snap.WhiteTimeMs,
			BlackTimeMs: snap.BlackTimeMs,
			IsCheck:     outcome.Move.Is(board.FlagCheck),
			IsCheckmate: outcome.Move.Is(board.FlagCheckmate),
		})
	}

	update := func() *proto.TimeUpdate {
		return &proto.TimeUpdate{
			Header:      proto.NewHeader(proto.TypeTimeUpdate),
			GameID:      snap.ID,
			WhiteTimeMs: snap.WhiteTimeMs,
			BlackTimeMs: snap.BlackTimeMs,
			Turn:        snap.Turn.Name(),
		}
	}
	h.sendTo(ctx, snap.White.ID, update())
	h.sendTo(ctx, snap.Black.ID, update())
}

func (h *Hub) handleResign(ctx context.Context, c *Conn, m *proto.Resign) {
	playerID, ok := h.requireQuick(ctx, c, m.ID())
	if !ok {
		return
	}
	if err := h.mgr.Resign(ctx, m.GameID, playerID); err != nil {
		c.SendError(ctx, proto.CodeSessionError, err.Error(), m.ID())
	}
}

func (h *Hub) handleOfferDraw(ctx context.Context, c *Conn, m *proto.OfferDraw) {
	playerID, ok := h.requireQuick(ctx, c, m.ID())
	if !ok {
		return
	}

	color, err := h.mgr.OfferDraw(ctx, m.GameID, playerID)
	if err != nil {
		c.SendError(ctx, proto.CodeSessionError, err.Error(), m.ID())
		return
	}

	if s, ok := h.mgr.Session(m.GameID); ok {
		if opp, ok := s.Opponent(playerID); ok {
			h.sendTo(ctx, opp.ID, &proto.DrawOffered{
				Header: proto.NewHeader(proto.TypeDrawOffered),
				GameID: m.GameID,
				From:   color.Name(),
			})
		}
	}
}

func (h *Hub) handleAcceptDraw(ctx context.Context, c *Conn, m *proto.AcceptDraw) {
	playerID, ok := h.requireQuick(ctx, c, m.ID())
	if !ok {
		return
	}
	if err := h.mgr.AcceptDraw(ctx, m.GameID, playerID); err != nil {
		c.SendError(ctx, proto.CodeSessionError, err.Error(), m.ID())
	}
}

func (h *Hub) handleDeclineDraw(ctx context.Context, c *Conn, m *proto.DeclineDraw) {
	playerID, ok := h.requireQuick(ctx, c, m.ID())
	if !ok {
		return
	}

	s, found := h.mgr.Session(m.GameID)
	if _, err := h.mgr.DeclineDraw(ctx, m.GameID, playerID); err != nil {
		c.SendError(ctx, proto.CodeSessionError, err.Error(), m.ID())
		return
	}

	// The offerer learns the offer was declined.
	if found {
		if opp, ok := s.Opponent(playerID); ok {
			if oc := h.connOf(opp.ID); oc != nil {
				oc.SendError(ctx, proto.CodeDrawDeclined, "draw offer declined", "")
			}
		}
	}
}

// moveErrorCode maps a move pipeline error to a stable response code.
func moveErrorCode(err error) string {
	switch {
	case errors.Is(err, rules.ErrInvalidPiece):
		return "INVALID_PIECE"
	case errors.Is(err, rules.ErrNotYourTurn):
		return "NOT_YOUR_TURN"
	case errors.Is(err, rules.ErrPathBlocked):
		return "PATH_BLOCKED"
	case errors.Is(err, rules.ErrInvalidCastling):
		return "INVALID_CASTLING"
	case errors.Is(err, rules.ErrInvalidEnPassant):
		return "INVALID_EN_PASSANT"
	case errors.Is(err, rules.ErrInvalidPromotion):
		return "INVALID_PROMOTION"
	case errors.Is(err, rules.ErrWouldBeInCheck):
		return "WOULD_BE_IN_CHECK"
	case errors.Is(err, rules.ErrIllegalMove):
		return "ILLEGAL_MOVE"
	case errors.Is(err, game.ErrNotInProgress):
		return "GAME_NOT_IN_PROGRESS"
	case errors.Is(err, game.ErrUnknownGame):
		return "UNKNOWN_GAME"
	case errors.Is(err, game.ErrNotInGame):
		return "NOT_IN_GAME"
	default:
		return proto.CodeInternalError
	}
}

func sessionOpponent(snap game.Snapshot, playerID string) (string, bool) {
	switch playerID {
	case snap.White.ID:
		return snap.Black.ID, true
	case snap.Black.ID:
		return snap.White.ID, true
	default:
		return "", false
	}
}
