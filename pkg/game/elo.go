package game

import "math"

// RatingLimits hold the Elo parameters: the K-factor and the rating floor
// and ceiling.
type RatingLimits struct {
	K        int
	Min, Max int
}

// Scores returns the white and black game scores for a terminal status:
// 1 for a win, 0.5 for a draw, 0 for a loss.
func Scores(status Status) (white, black float64, ok bool) {
	switch status {
	case WhiteWon:
		return 1, 0, true
	case BlackWon:
		return 0, 1, true
	case Draw:
		return 0.5, 0.5, true
	default:
		return 0, 0, false
	}
}

// Update returns the new rating and the applied delta for a player with the
// given score against the opponent. The new rating is clamped to
// [Min, Max].
func (l RatingLimits) Update(rating, opponent int, score float64) (next, delta int) {
	expected := 1 / (1 + math.Pow(10, float64(opponent-rating)/400))
	next = rating + int(math.Round(float64(l.K)*(score-expected)))

	if next < l.Min {
		next = l.Min
	}
	if next > l.Max {
		next = l.Max
	}
	return next, next - rating
}
