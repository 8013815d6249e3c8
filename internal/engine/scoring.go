package engine

import (
	"math"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/session"
)

const (
	BasePoints   = 500
	MaxTimeBonus = 500
	StreakBonus  = 100
	SmashPoints  = 10
)

// ClassicReward scores a correct CLASSIC answer given at elapsed into a
// countdown of limit, by a player whose streak before this answer was streak.
// An instant answer earns the full time bonus, one at (or past) the limit earns none.
func ClassicReward(elapsed, limit time.Duration, streak int) int {
	frac := 1.0
	if limit > 0 {
		frac = float64(elapsed) / float64(limit)
	}
	frac = math.Min(math.Max(frac, 0), 1)

	timeBonus := int(math.Round(MaxTimeBonus * (1 - frac)))
	return BasePoints + timeBonus + StreakBonus*max(streak, 0)
}

// addScore applies delta and floors the result at zero.
func addScore(p *session.Player, delta int) {
	p.Score = max(p.Score+delta, 0)
}
