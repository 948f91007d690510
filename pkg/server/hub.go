package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/herohde/gambit/pkg/auth"
	"github.com/herohde/gambit/pkg/board"
	"github.com/herohde/gambit/pkg/config"
	"github.com/herohde/gambit/pkg/game"
	"github.com/herohde/gambit/pkg/match"
	"github.com/herohde/gambit/pkg/proto"
	"github.com/herohde/gambit/pkg/store"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/util/contextx"
	"github.com/seekerror/stdlib/pkg/util/iox"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// maxFrameSize bounds one JSON frame.
const maxFrameSize = 64 << 10

// replaceFlushDelay is the grace before closing a replaced connection, so
// the SESSION_REPLACED error can flush.
const replaceFlushDelay = 250 * time.Millisecond

// Hub binds the TCP port and owns all connection lifecycles: one accept
// loop, one supervisor loop and one read pump per connection. It dispatches
// messages to the matchmaker and game manager and routes their
// notifications back to the participating connections.
type Hub struct {
	cfg      config.Config
	name     string
	version  string
	inMemory bool

	players  store.PlayerStore
	sessions *auth.Sessions
	mgr      *game.Manager
	mm       *match.Matchmaker

	nextID   atomic.Uint64
	connMu   sync.Mutex
	conns    map[uint64]*Conn
	byPlayer map[string]*Conn // single live connection per player

	quit iox.AsyncCloser
}

// New creates a hub along with its game manager and matchmaker.
func New(ctx context.Context, cfg config.Config, name, version string, players store.PlayerStore, sessions *auth.Sessions, records store.GameStore, inMemory bool) *Hub {
	h := &Hub{
		cfg:      cfg,
		name:     name,
		version:  version,
		inMemory: inMemory,
		players:  players,
		sessions: sessions,
		conns:    map[uint64]*Conn{},
		byPlayer: map[string]*Conn{},
		quit:     iox.NewAsyncCloser(),
	}

	h.mgr = game.NewManager(ctx, players, records, game.RatingLimits{
		K:   cfg.Rating.KFactor,
		Min: cfg.Rating.MinRating,
		Max: cfg.Rating.MaxRating,
	}, h)

	h.mm = match.New(ctx, match.Config{
		DefaultBand:       cfg.Matchmaking.DefaultRatingRange,
		MaxBand:           cfg.Matchmaking.MaxRatingRange,
		ExpansionInterval: cfg.Matchmaking.RatingExpansionInterval(),
		ExpansionAmount:   cfg.Matchmaking.RatingExpansionAmount,
	}, h.onPairing)

	return h
}

// Run serves until the context is cancelled. It returns a non-nil error
// only on startup or accept failure.
func (h *Hub) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%v:%v", h.cfg.Server.BindAddress, h.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %v: %w", addr, err)
	}
	logw.Infof(ctx, "Listening on %v", addr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		h.quit.Close()
		_ = ln.Close()
		h.closeAll(gctx)
		h.mm.Close()
		h.mgr.Close()
		return nil
	})

	g.Go(func() error {
		return h.accept(gctx, ln)
	})

	g.Go(func() error {
		h.supervise(gctx)
		return nil
	})

	err = g.Wait()
	if contextx.IsCancelled(ctx) {
		return nil
	}
	return err
}

func (h *Hub) accept(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if contextx.IsCancelled(ctx) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		h.connMu.Lock()
		count := len(h.conns)
		h.connMu.Unlock()
		if count >= h.cfg.Server.MaxConnections {
			logw.Warningf(ctx, "Connection limit %v reached: rejecting %v", h.cfg.Server.MaxConnections, raw.RemoteAddr())
			_ = raw.Close()
			continue
		}

		c := newConn(h.nextID.Inc(), raw, h.cfg.Server.MaxRequestsPerMinute)
		h.connMu.Lock()
		h.conns[c.id] = c
		h.connMu.Unlock()

		logw.Debugf(ctx, "Connection %v accepted from %v", c.id, c)
		go h.serve(ctx, c)
	}
}

// serve is the per-connection read pump. Messages are processed
// sequentially: read order = dispatch order = response order.
func (h *Hub) serve(ctx context.Context, c *Conn) {
	defer h.onDisconnect(ctx, c)

	scanner := bufio.NewScanner(c.raw)
	scanner.Buffer(make([]byte, 4096), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.touch()

		if !c.rate.Allow() {
			c.SendError(ctx, proto.CodeRateLimited, "too many requests", "")
			continue
		}

		msg, err := proto.Decode(line)
		if err != nil {
			if errors.Is(err, proto.ErrUnknownType) {
				c.SendError(ctx, proto.CodeUnknownMessage, err.Error(), "")
			} else {
				c.SendError(ctx, proto.CodeInternalError, "malformed frame", "")
			}
			continue
		}

		h.dispatch(ctx, c, msg)
	}

	if err := scanner.Err(); err != nil && !c.IsClosed() {
		logw.Debugf(ctx, "Read failed on conn %v: %v", c.id, err)
		c.SendError(ctx, proto.CodeDisconnected, "connection error", "")
	}
}

// supervise closes stale connections and prunes rate-limit counters and
// expired session records every heartbeat interval.
func (h *Hub) supervise(ctx context.Context) {
	t := time.NewTicker(h.cfg.Server.HeartbeatInterval())
	defer t.Stop()

	for {
		select {
		case <-t.C:
		case <-h.quit.Closed():
			return
		case <-ctx.Done():
			return
		}

		timeout := h.cfg.Server.ConnectionTimeout()
		now := time.Now()

		h.connMu.Lock()
		var stale []*Conn
		for _, c := range h.conns {
			c.rate.Prune()
			if now.Sub(c.LastActivity()) > timeout {
				stale = append(stale, c)
			}
		}
		h.connMu.Unlock()

		for _, c := range stale {
			logw.Infof(ctx, "Connection %v timed out (idle since %v)", c.id, c.LastActivity())
			c.Close()
		}

		if n, err := h.sessions.CleanupExpired(ctx); err == nil && n > 0 {
			logw.Debugf(ctx, "Cleaned up %v expired sessions", n)
		}
	}
}

// onDisconnect runs when a connection's read pump exits: the player leaves
// the matchmaking queue, and if in a game, a grace task forfeits unless a
// connection for the player reappears in time.
func (h *Hub) onDisconnect(ctx context.Context, c *Conn) {
	c.Close()

	playerID := c.PlayerID()

	h.connMu.Lock()
	delete(h.conns, c.id)
	if playerID != "" && h.byPlayer[playerID] == c {
		delete(h.byPlayer, playerID)
	}
	h.connMu.Unlock()

	if playerID == "" {
		logw.Debugf(ctx, "Connection %v closed", c.id)
		return
	}
	logw.Infof(ctx, "Player %v disconnected (conn %v)", playerID, c.id)

	h.mm.Cancel(playerID)

	s, ok := h.mgr.SessionOf(playerID)
	if !ok {
		return
	}
	gameID := s.ID()

	go func() {
		select {
		case <-time.After(h.cfg.Server.DisconnectionGracePeriod()):
		case <-h.quit.Closed():
			return
		case <-ctx.Done():
			return
		}

		if h.connOf(playerID) != nil {
			return // player returned
		}
		if err := h.mgr.HandleDisconnection(ctx, gameID, playerID); err != nil && !errors.Is(err, game.ErrUnknownGame) {
			logw.Errorf(ctx, "Disconnection forfeit failed for %v: %v", gameID, err)
		}
	}()
}

// bindPlayer enforces the single session per player: any other live
// connection for the player receives SESSION_REPLACED and is closed after a
// short flush delay. Queue entries and in-progress games are untouched.
func (h *Hub) bindPlayer(ctx context.Context, playerID string, c *Conn) {
	h.connMu.Lock()
	old := h.byPlayer[playerID]
	h.byPlayer[playerID] = c
	h.connMu.Unlock()

	if old == nil || old == c {
		return
	}

	logw.Infof(ctx, "Player %v session replaced: conn %v -> %v", playerID, old.id, c.id)
	old.clearAuthenticated()
	old.SendError(ctx, proto.CodeSessionReplaced, "logged in elsewhere", "")
	go func() {
		time.Sleep(replaceFlushDelay)
		old.Close()
	}()
}

func (h *Hub) connOf(playerID string) *Conn {
	h.connMu.Lock()
	defer h.connMu.Unlock()

	return h.byPlayer[playerID]
}

func (h *Hub) closeAll(ctx context.Context) {
	h.connMu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.connMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	logw.Infof(ctx, "Closed %v connections", len(conns))
}

// sendTo sends to the player's live connection, if any.
func (h *Hub) sendTo(ctx context.Context, playerID string, m proto.Message) {
	if c := h.connOf(playerID); c != nil {
		_ = c.Send(ctx, m)
	}
}

// onPairing consumes matchmaker pairings: it creates the game and
// announces it to both players.
func (h *Hub) onPairing(ctx context.Context, p match.Pairing) {
	white := game.PlayerInfo{ID: p.White.PlayerID, Username: p.White.Username, Rating: p.White.Rating}
	black := game.PlayerInfo{ID: p.Black.PlayerID, Username: p.Black.Username, Rating: p.Black.Rating}

	s, err := h.mgr.CreateGame(ctx, white, black, p.White.InitialMs, p.White.IncrementMs, p.White.TimeControl)
	if err != nil {
		logw.Errorf(ctx, "Game creation failed for %v vs %v: %v", white, black, err)
		for _, id := range []string{white.ID, black.ID} {
			if c := h.connOf(id); c != nil {
				c.SendError(ctx, proto.CodeInternalError, "match could not be started", "")
			}
		}
		return
	}

	snap := s.Snapshot()
	for _, side := range []struct {
		me, them game.PlayerInfo
		color    board.Color
	}{
		{white, black, board.White},
		{black, white, board.Black},
	} {
		h.sendTo(ctx, side.me.ID, &proto.MatchFound{
			Header:         proto.NewHeader(proto.TypeMatchFound),
			GameID:         snap.ID,
			Color:          side.color.Name(),
			OpponentName:   side.them.Username,
			OpponentRating: side.them.Rating,
			TimeControl:    snap.TimeControl,
			InitialMs:      p.White.InitialMs,
			IncrementMs:    p.White.IncrementMs,
		})
		h.sendTo(ctx, side.me.ID, &proto.GameStart{
			Header:      proto.NewHeader(proto.TypeGameStart),
			GameID:      snap.ID,
			White:       gamePlayer(white),
			Black:       gamePlayer(black),
			YourColor:   side.color.Name(),
			FEN:         snap.FEN,
			InitialMs:   p.White.InitialMs,
			IncrementMs: p.White.IncrementMs,
		})
	}
}

// GameEnded implements game.Listener: the terminal broadcast reaches both
// players, including a disconnected-but-still-wired opponent.
func (h *Hub) GameEnded(ctx context.Context, snap game.Snapshot, end game.EndResult) {
	winner := ""
	if c, ok := snap.Winner.V(); ok {
		winner = c.Name()
	}

	msg := func() *proto.GameEnd {
		return &proto.GameEnd{
			Header:      proto.NewHeader(proto.TypeGameEnd),
			GameID:      snap.ID,
			Result:      snap.Status.String(),
			Reason:      snap.Reason.String(),
			Winner:      winner,
			FinalFEN:    snap.FEN,
			PGN:         end.PGN,
			WhiteTimeMs: snap.WhiteTimeMs,
			BlackTimeMs: snap.BlackTimeMs,
			WhiteDelta:  end.WhiteDelta,
			BlackDelta:  end.BlackDelta,
		}
	}
	h.sendTo(ctx, end.WhiteID, msg())
	h.sendTo(ctx, end.BlackID, msg())
}

// TimeWarning implements game.Listener.
func (h *Hub) TimeWarning(ctx context.Context, snap game.Snapshot, c board.Color, remainingMs int64) {
	msg := func() *proto.TimeoutWarning {
		return &proto.TimeoutWarning{
			Header:      proto.NewHeader(proto.TypeTimeoutWarning),
			GameID:      snap.ID,
			Color:       c.Name(),
			RemainingMs: remainingMs,
		}
	}
	h.sendTo(ctx, snap.White.ID, msg())
	h.sendTo(ctx, snap.Black.ID, msg())
}

func gamePlayer(p game.PlayerInfo) proto.GamePlayer {
	return proto.GamePlayer{PlayerID: p.ID, Username: p.Username, Rating: p.Rating}
}
