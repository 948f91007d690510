package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/herohde/gambit/pkg/auth"
	"github.com/herohde/gambit/pkg/config"
	"github.com/herohde/gambit/pkg/proto"
	"github.com/herohde/gambit/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	r := newRateLimiter(3, time.Minute)

	assert.True(t, r.Allow())
	assert.True(t, r.Allow())
	assert.True(t, r.Allow())
	assert.False(t, r.Allow())
	assert.False(t, r.Allow())
}

func TestRateLimiterWindowSlides(t *testing.T) {
	r := newRateLimiter(2, 10*time.Millisecond)

	assert.True(t, r.Allow())
	assert.True(t, r.Allow())
	assert.False(t, r.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, r.Allow())
}

func TestConnSendFraming(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	c := newConn(1, serverSide, 100)
	defer c.Close()

	go func() {
		_ = c.Send(context.Background(), &proto.HeartbeatAck{
			Header:     proto.NewHeader(proto.TypeHeartbeatAck),
			ServerTime: 42,
		})
	}()

	scanner := bufio.NewScanner(clientSide)
	require.True(t, scanner.Scan())

	m, err := proto.Decode(scanner.Bytes())
	require.NoError(t, err)
	ack, ok := m.(*proto.HeartbeatAck)
	require.True(t, ok)
	assert.Equal(t, int64(42), ack.ServerTime)
}

type client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func (c *client) send(t *testing.T, m proto.Message) {
	t.Helper()
	data, err := proto.Encode(m)
	require.NoError(t, err)
	_, err = c.conn.Write(data)
	require.NoError(t, err)
}

func (c *client) recv(t *testing.T) proto.Message {
	t.Helper()
	require.True(t, c.scanner.Scan(), "connection closed: %v", c.scanner.Err())
	m, err := proto.Decode(c.scanner.Bytes())
	require.NoError(t, err)
	return m
}

func newTestHub(t *testing.T) (*Hub, *client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.Security.TokenSecret = "test-secret"

	players := store.NewMemoryPlayers()
	sessions := auth.NewSessions(store.NewMemorySessions(), []byte(cfg.Security.TokenSecret), time.Hour, 5)

	h := New(ctx, cfg, "gambit-test", "0.0.0", players, sessions, store.NewMemoryGames(), true)
	t.Cleanup(func() {
		h.mm.Close()
		h.mgr.Close()
	})

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close() })

	c := newConn(h.nextID.Inc(), serverSide, cfg.Server.MaxRequestsPerMinute)
	h.connMu.Lock()
	h.conns[c.id] = c
	h.connMu.Unlock()
	go h.serve(ctx, c)

	return h, &client{conn: clientSide, scanner: bufio.NewScanner(clientSide)}
}

func TestHandshakeAndHeartbeat(t *testing.T) {
	_, c := newTestHub(t)

	c.send(t, &proto.Connect{Header: proto.NewHeader(proto.TypeConnect), ClientName: "test"})
	resp, ok := c.recv(t).(*proto.ConnectResponse)
	require.True(t, ok)
	assert.Equal(t, "gambit-test", resp.ServerName)
	assert.True(t, resp.InMemory)

	c.send(t, &proto.Heartbeat{Header: proto.NewHeader(proto.TypeHeartbeat)})
	ack, ok := c.recv(t).(*proto.HeartbeatAck)
	require.True(t, ok)
	assert.NotZero(t, ack.ServerTime)
}

func TestRegisterAndLogin(t *testing.T) {
	_, c := newTestHub(t)

	c.send(t, &proto.Register{
		Header:   proto.NewHeader(proto.TypeRegister),
		Username: "alice",
		Email:    "alice@example.com",
		Password: "hunter2222",
	})
	reg, ok := c.recv(t).(*proto.RegisterResponse)
	require.True(t, ok)
	require.True(t, reg.Success, reg.Message)
	assert.NotEmpty(t, reg.PlayerID)

	c.send(t, &proto.Login{
		Header:   proto.NewHeader(proto.TypeLogin),
		Username: "alice",
		Password: "hunter2222",
	})
	login, ok := c.recv(t).(*proto.LoginResponse)
	require.True(t, ok)
	require.True(t, login.Success, login.Message)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, 1200, login.Rating)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, c := newTestHub(t)

	c.send(t, &proto.Login{
		Header:   proto.NewHeader(proto.TypeLogin),
		Username: "ghost",
		Password: "whatever12",
	})
	login, ok := c.recv(t).(*proto.LoginResponse)
	require.True(t, ok)
	assert.False(t, login.Success)
	assert.Equal(t, proto.CodeInvalidCredentials, login.Message)
}

func TestRegisterValidation(t *testing.T) {
	_, c := newTestHub(t)

	tests := []struct {
		username, email, password string
		code                      string
	}{
		{"x", "x@example.com", "hunter2222", proto.CodeInvalidUsername},
		{"alice", "not-an-email", "hunter2222", proto.CodeInvalidEmail},
		{"alice", "alice@example.com", "short", proto.CodeInvalidCredentials},
	}

	for _, tt := range tests {
		c.send(t, &proto.Register{
			Header:   proto.NewHeader(proto.TypeRegister),
			Username: tt.username,
			Email:    tt.email,
			Password: tt.password,
		})
		resp, ok := c.recv(t).(*proto.RegisterResponse)
		require.True(t, ok)
		assert.False(t, resp.Success)
		assert.Equal(t, tt.code, resp.Message)
	}
}

func TestUnknownMessageType(t *testing.T) {
	_, c := newTestHub(t)

	_, err := c.conn.Write([]byte(`{"type":88,"messageId":"0011223344556677","timestamp":1}` + "\n"))
	require.NoError(t, err)

	e, ok := c.recv(t).(*proto.Error)
	require.True(t, ok)
	assert.Equal(t, proto.CodeUnknownMessage, e.Code)
}

func TestUnauthenticatedGameAction(t *testing.T) {
	_, c := newTestHub(t)

	c.send(t, &proto.FindMatch{Header: proto.NewHeader(proto.TypeFindMatch), TimeControl: "blitz", InitialMs: 300_000})
	e, ok := c.recv(t).(*proto.Error)
	require.True(t, ok)
	assert.Equal(t, proto.CodeNotLoggedIn, e.Code)

	c.send(t, &proto.MoveRequest{Header: proto.NewHeader(proto.TypeMoveRequest), GameID: "g", Move: "e2e4"})
	e, ok = c.recv(t).(*proto.Error)
	require.True(t, ok)
	assert.Equal(t, proto.CodeNotLoggedIn, e.Code)
}

func TestFindMatchQueueStatus(t *testing.T) {
	_, c := newTestHub(t)

	c.send(t, &proto.Register{
		Header:   proto.NewHeader(proto.TypeRegister),
		Username: "alice",
		Email:    "alice@example.com",
		Password: "hunter2222",
	})
	_ = c.recv(t)

	c.send(t, &proto.Login{
		Header:   proto.NewHeader(proto.TypeLogin),
		Username: "alice",
		Password: "hunter2222",
	})
	login, ok := c.recv(t).(*proto.LoginResponse)
	require.True(t, ok)
	require.True(t, login.Success)

	c.send(t, &proto.FindMatch{Header: proto.NewHeader(proto.TypeFindMatch), TimeControl: "blitz", InitialMs: 300_000})
	status, ok := c.recv(t).(*proto.QueueStatus)
	require.True(t, ok)
	assert.Equal(t, 1, status.Position)

	c.send(t, &proto.CancelFindMatch{Header: proto.NewHeader(proto.TypeCancelFindMatch)})
	status, ok = c.recv(t).(*proto.QueueStatus)
	require.True(t, ok)
	assert.Equal(t, 0, status.Position)
}
