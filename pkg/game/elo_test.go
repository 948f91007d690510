package game_test

import (
	"testing"

	"github.com/herohde/gambit/pkg/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEloUpdate(t *testing.T) {
	limits := game.RatingLimits{K: 32, Min: 100, Max: 3000}

	tests := []struct {
		rating, opponent int
		score            float64
		delta            int
	}{
		{1500, 1500, 1, 16},
		{1500, 1500, 0, -16},
		{1500, 1500, 0.5, 0},
		{1500, 1650, 1, 23}, // underdog wins big
		{1650, 1500, 1, 9},  // favorite wins small
		{1200, 1200, 1, 16},
	}

	for _, tt := range tests {
		next, delta := limits.Update(tt.rating, tt.opponent, tt.score)
		assert.Equal(t, tt.delta, delta, "%v vs %v score %v", tt.rating, tt.opponent, tt.score)
		assert.Equal(t, tt.rating+tt.delta, next)
	}
}

func TestEloClamp(t *testing.T) {
	limits := game.RatingLimits{K: 32, Min: 100, Max: 3000}

	next, delta := limits.Update(2995, 2995, 1)
	assert.Equal(t, 3000, next)
	assert.Equal(t, 5, delta)

	next, delta = limits.Update(105, 105, 0)
	assert.Equal(t, 100, next)
	assert.Equal(t, -5, delta)
}

func TestEloBounded(t *testing.T) {
	limits := game.RatingLimits{K: 32, Min: 100, Max: 3000}

	// Ratings stay within bounds under any run of results.
	rating, opponent := 1500, 1500
	for i := 0; i < 200; i++ {
		rating, _ = limits.Update(rating, opponent, 1)
		require.LessOrEqual(t, rating, 3000)
	}
	assert.Equal(t, 3000, rating)

	for i := 0; i < 200; i++ {
		rating, _ = limits.Update(rating, opponent, 0)
		require.GreaterOrEqual(t, rating, 100)
	}
	assert.Equal(t, 100, rating)
}

func TestScores(t *testing.T) {
	tests := []struct {
		status game.Status
		white  float64
		black  float64
		ok     bool
	}{
		{game.WhiteWon, 1, 0, true},
		{game.BlackWon, 0, 1, true},
		{game.Draw, 0.5, 0.5, true},
		{game.Aborted, 0, 0, false},
		{game.InProgress, 0, 0, false},
	}

	for _, tt := range tests {
		w, b, ok := game.Scores(tt.status)
		assert.Equal(t, tt.ok, ok)
		if ok {
			assert.Equal(t, tt.white, w)
			assert.Equal(t, tt.black, b)
		}
	}
}
