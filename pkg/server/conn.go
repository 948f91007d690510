// Package server implements the connection hub: TCP accept loop,
// per-connection framed I/O, heartbeat supervision, rate limiting,
// single-session enforcement and message dispatch.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/herohde/gambit/pkg/proto"
	"github.com/seekerror/logw"
	"go.uber.org/atomic"
)

// writeDeadline bounds a single frame write; exceeding it closes the
// connection.
const writeDeadline = 30 * time.Second

// Conn is one accepted client connection. Writes serialize on a single
// mutex so interleaved JSON frames cannot corrupt the stream; reads happen
// on a single goroutine, so per-connection ordering is preserved.
type Conn struct {
	id  uint64
	raw net.Conn

	wmu sync.Mutex

	playerID atomic.String
	username atomic.String
	token    atomic.String

	lastActivity atomic.Int64 // unix ms
	closed       atomic.Bool

	rate *rateLimiter
}

func newConn(id uint64, raw net.Conn, maxRequestsPerMinute int) *Conn {
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c := &Conn{
		id:   id,
		raw:  raw,
		rate: newRateLimiter(maxRequestsPerMinute, time.Minute),
	}
	c.touch()
	return c
}

// Send writes one frame. A failed or timed-out write closes the connection.
func (c *Conn) Send(ctx context.Context, m proto.Message) error {
	data, err := proto.Encode(m)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.raw.SetWriteDeadline(time.Now().Add(writeDeadline))
	if _, err := c.raw.Write(data); err != nil {
		logw.Debugf(ctx, "Write failed on conn %v: %v", c.id, err)
		c.Close()
		return err
	}
	return nil
}

// SendError sends an Error frame. Best-effort.
func (c *Conn) SendError(ctx context.Context, code, message, relatedID string) {
	e := &proto.Error{
		Header:           proto.NewHeader(proto.TypeError),
		Code:             code,
		Message:          message,
		RelatedMessageID: relatedID,
	}
	_ = c.Send(ctx, e)
}

// Close closes the underlying socket once.
func (c *Conn) Close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.raw.Close()
	}
}

// IsClosed returns true once the connection is closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// PlayerID returns the authenticated player id, or "".
func (c *Conn) PlayerID() string {
	return c.playerID.Load()
}

// Token returns the session token presented at login, or "".
func (c *Conn) Token() string {
	return c.token.Load()
}

// LastActivity returns the time of the last received message.
func (c *Conn) LastActivity() time.Time {
	return time.UnixMilli(c.lastActivity.Load())
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

func (c *Conn) setAuthenticated(playerID, username, token string) {
	c.playerID.Store(playerID)
	c.username.Store(username)
	c.token.Store(token)
}

func (c *Conn) clearAuthenticated() {
	c.playerID.Store("")
	c.username.Store("")
	c.token.Store("")
}

func (c *Conn) String() string {
	return c.raw.RemoteAddr().String()
}

// rateLimiter is a rolling-window message counter. Requests beyond the
// limit are answered with RATE_LIMITED but do not close the connection.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

// Allow records a request and returns true iff it is within the limit.
func (r *rateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(time.Now())
	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, time.Now())
	return true
}

// Prune drops stamps outside the window.
func (r *rateLimiter) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(time.Now())
}

func (r *rateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && r.stamps[i].Before(cutoff) {
		i++
	}
	r.stamps = r.stamps[i:]
}
