package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	DefaultBand:       100,
	MaxBand:           500,
	ExpansionInterval: 10 * time.Second,
	ExpansionAmount:   50,
}

type recorder struct {
	mu       sync.Mutex
	pairings []Pairing
}

func (r *recorder) notify(_ context.Context, p Pairing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairings = append(r.pairings, p)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairings)
}

func newTest(t *testing.T) (*Matchmaker, *recorder) {
	t.Helper()

	r := &recorder{}
	m := New(context.Background(), testConfig, r.notify)
	t.Cleanup(m.Close)
	return m, r
}

func request(id string, rating int, queuedAgo time.Duration) Request {
	return Request{
		PlayerID:    id,
		Username:    id,
		Rating:      rating,
		TimeControl: "blitz",
		InitialMs:   300_000,
		QueuedAt:    time.Now().Add(-queuedAgo),
	}
}

func TestPairingWithinBand(t *testing.T) {
	m, r := newTest(t)

	m.Enqueue(request("a", 1500, 0))
	m.Enqueue(request("b", 1550, 0))

	m.sweep(context.Background())

	require.Equal(t, 1, r.count())
	p := r.pairings[0]
	assert.ElementsMatch(t,
		[]string{"a", "b"},
		[]string{p.White.PlayerID, p.Black.PlayerID})
	assert.Equal(t, 0, m.Size())
}

func TestNoPairingOutsideBand(t *testing.T) {
	m, r := newTest(t)

	m.Enqueue(request("a", 1500, 0))
	m.Enqueue(request("b", 1650, 0))

	m.sweep(context.Background())
	assert.Equal(t, 0, r.count())
	assert.Equal(t, 2, m.Size())
}

func TestBandExpansion(t *testing.T) {
	m, r := newTest(t)

	// 150 apart with initial band 100: no pair until both bands reach 150
	// after one expansion interval.
	m.Enqueue(request("a", 1500, testConfig.ExpansionInterval))
	m.Enqueue(request("b", 1650, testConfig.ExpansionInterval))

	m.sweep(context.Background())

	require.Equal(t, 1, r.count())
}

func TestBandExpansionCapped(t *testing.T) {
	m, _ := newTest(t)

	m.Enqueue(request("a", 1500, time.Hour))
	m.sweep(context.Background())

	_, band, ok := m.Position("a")
	require.True(t, ok)
	assert.Equal(t, testConfig.MaxBand, band)
}

func TestDifferentTimeControlsDoNotPair(t *testing.T) {
	m, r := newTest(t)

	a := request("a", 1500, 0)
	b := request("b", 1500, 0)
	b.TimeControl = "rapid"
	m.Enqueue(a)
	m.Enqueue(b)

	m.sweep(context.Background())
	assert.Equal(t, 0, r.count())
}

func TestBestPeerSelection(t *testing.T) {
	m, r := newTest(t)

	// The oldest request pairs with the minimum-rating-difference peer.
	m.Enqueue(request("old", 1500, 3*time.Second))
	m.Enqueue(request("far", 1580, 2*time.Second))
	m.Enqueue(request("near", 1510, time.Second))

	m.sweep(context.Background())

	require.Equal(t, 1, r.count())
	p := r.pairings[0]
	assert.ElementsMatch(t,
		[]string{"old", "near"},
		[]string{p.White.PlayerID, p.Black.PlayerID})
}

func TestNoDoublePairing(t *testing.T) {
	m, r := newTest(t)

	for _, id := range []string{"a", "b", "c", "d"} {
		m.Enqueue(request(id, 1500, 0))
	}

	m.sweep(context.Background())

	require.Equal(t, 2, r.count())
	seen := map[string]bool{}
	for _, p := range r.pairings {
		for _, id := range []string{p.White.PlayerID, p.Black.PlayerID} {
			assert.False(t, seen[id], "player %v paired twice", id)
			seen[id] = true
		}
	}
	assert.Equal(t, 0, m.Size())
}

func TestReEnqueueReplaces(t *testing.T) {
	m, _ := newTest(t)

	m.Enqueue(request("a", 1500, 0))
	m.Enqueue(request("a", 1600, 0))

	assert.Equal(t, 1, m.Size())
}

func TestCancel(t *testing.T) {
	m, r := newTest(t)

	m.Enqueue(request("a", 1500, 0))
	assert.True(t, m.Cancel("a"))
	assert.False(t, m.Cancel("a"))

	m.Enqueue(request("b", 1500, 0))
	m.sweep(context.Background())
	assert.Equal(t, 0, r.count())
}

func TestPosition(t *testing.T) {
	m, _ := newTest(t)

	m.Enqueue(request("a", 1500, 2*time.Second))
	m.Enqueue(request("b", 2500, time.Second))

	pos, band, ok := m.Position("a")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.Equal(t, testConfig.DefaultBand, band)

	pos, _, ok = m.Position("b")
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	_, _, ok = m.Position("missing")
	assert.False(t, ok)
}

func TestRandomColors(t *testing.T) {
	m, r := newTest(t)

	// Colors are assigned randomly; over many pairings both assignments
	// appear.
	whiteFirst := 0
	for i := 0; i < 50; i++ {
		m.Enqueue(request("a", 1500, 0))
		m.Enqueue(request("b", 1500, 0))
		m.sweep(context.Background())

		p := r.pairings[len(r.pairings)-1]
		if p.White.PlayerID == "a" {
			whiteFirst++
		}
	}

	assert.Greater(t, whiteFirst, 0)
	assert.Less(t, whiteFirst, 50)
}
