// Package match implements the rating-banded matchmaking queue with
// time-based band expansion.
package match

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/util/contextx"
	"github.com/seekerror/stdlib/pkg/util/iox"
)

// Config holds the matchmaking parameters.
type Config struct {
	// DefaultBand is the initial acceptable rating difference.
	DefaultBand int
	// MaxBand caps band expansion.
	MaxBand int
	// ExpansionInterval is the queue time after which the band widens by
	// ExpansionAmount, repeatedly.
	ExpansionInterval time.Duration
	ExpansionAmount   int
}

// Request is one queue entry. A player has at most one entry; re-enqueueing
// replaces it.
type Request struct {
	PlayerID string
	Username string
	Rating   int

	TimeControl string
	InitialMs   int64
	IncrementMs int64

	InitialBand int
	Band        int // current (expanded) band
	QueuedAt    time.Time
}

// Pairing is an emitted match with colors assigned.
type Pairing struct {
	White, Black Request
}

// Matchmaker holds the queue and runs a 1s pairing sweep: bands expand
// with queue time, requests partition by time control and pair FIFO with
// the minimum-rating-difference peer within both bands. Pairings are
// pushed to the consumer callback.
type Matchmaker struct {
	cfg    Config
	notify func(context.Context, Pairing)

	mu    sync.Mutex
	queue map[string]*Request
	rnd   *rand.Rand

	quit iox.AsyncCloser
}

// New creates a matchmaker and starts its sweep loop.
func New(ctx context.Context, cfg Config, notify func(context.Context, Pairing)) *Matchmaker {
	m := &Matchmaker{
		cfg:    cfg,
		notify: notify,
		queue:  map[string]*Request{},
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		quit:   iox.NewAsyncCloser(),
	}
	go m.run(ctx)
	return m
}

// Close stops the sweep loop.
func (m *Matchmaker) Close() {
	m.quit.Close()
}

// Enqueue adds a request to the queue, replacing any prior request for the
// same player.
func (m *Matchmaker) Enqueue(req Request) {
	if req.QueuedAt.IsZero() {
		req.QueuedAt = time.Now()
	}
	if req.InitialBand == 0 {
		req.InitialBand = m.cfg.DefaultBand
	}
	req.Band = req.InitialBand

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue[req.PlayerID] = &req
}

// Cancel removes the player's request, if any.
func (m *Matchmaker) Cancel(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.queue[playerID]
	delete(m.queue, playerID)
	return ok
}

// Position returns the player's 1-based queue rank among requests with
// equal or earlier queue time, and the current band.
func (m *Matchmaker) Position(playerID string) (int, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.queue[playerID]
	if !ok {
		return 0, 0, false
	}

	rank := 0
	for _, r := range m.queue {
		if !r.QueuedAt.After(req.QueuedAt) {
			rank++
		}
	}
	return rank, req.Band, true
}

// Size returns the number of queued requests.
func (m *Matchmaker) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}

func (m *Matchmaker) run(ctx context.Context) {
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

// sweep expands bands and emits pairings. The pairer operates on a local
// snapshot; both sides must still be queued at emission time.
func (m *Matchmaker) sweep(ctx context.Context) {
	now := time.Now()

	// (1) Band expansion, and a snapshot for pairing.

	m.mu.Lock()
	snapshot := make([]Request, 0, len(m.queue))
	for _, r := range m.queue {
		expansions := 0
		if m.cfg.ExpansionInterval > 0 {
			expansions = int(now.Sub(r.QueuedAt) / m.cfg.ExpansionInterval)
		}
		band := r.InitialBand + expansions*m.cfg.ExpansionAmount
		if band > m.cfg.MaxBand {
			band = m.cfg.MaxBand
		}
		r.Band = band
		snapshot = append(snapshot, *r)
	}
	m.mu.Unlock()

	// (2) Pairing: FIFO per time control, best peer by rating difference.

	buckets := map[string][]Request{}
	for _, r := range snapshot {
		buckets[r.TimeControl] = append(buckets[r.TimeControl], r)
	}

	for _, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool {
			return bucket[i].QueuedAt.Before(bucket[j].QueuedAt)
		})

		matched := make([]bool, len(bucket))
		for i := range bucket {
			if matched[i] {
				continue
			}

			best := -1
			bestDiff := 0
			for j := i + 1; j < len(bucket); j++ {
				if matched[j] {
					continue
				}
				diff := bucket[i].Rating - bucket[j].Rating
				if diff < 0 {
					diff = -diff
				}
				limit := bucket[i].Band
				if bucket[j].Band < limit {
					limit = bucket[j].Band
				}
				if diff > limit {
					continue
				}
				if best < 0 || diff < bestDiff {
					best, bestDiff = j, diff
				}
			}
			if best < 0 {
				continue
			}

			matched[i], matched[best] = true, true
			m.emit(ctx, bucket[i], bucket[best])
		}
	}
}

// emit removes both requests and notifies the consumer, with colors
// assigned uniformly at random. A request cancelled since the snapshot
// aborts the pairing.
func (m *Matchmaker) emit(ctx context.Context, a, b Request) {
	m.mu.Lock()
	_, okA := m.queue[a.PlayerID]
	_, okB := m.queue[b.PlayerID]
	if !okA || !okB {
		m.mu.Unlock()
		return
	}
	delete(m.queue, a.PlayerID)
	delete(m.queue, b.PlayerID)
	flip := m.rnd.Intn(2) == 0
	m.mu.Unlock()

	pairing := Pairing{White: a, Black: b}
	if flip {
		pairing = Pairing{White: b, Black: a}
	}

	logw.Infof(ctx, "Paired %v (%v) vs %v (%v), diff=%v",
		pairing.White.Username, pairing.White.Rating, pairing.Black.Username, pairing.Black.Rating,
		abs(pairing.White.Rating-pairing.Black.Rating))

	if contextx.IsCancelled(ctx) {
		return
	}
	m.notify(ctx, pairing)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
