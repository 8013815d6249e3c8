package host

import (
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
)

const (
	botMinTaps = 3
	botMaxTaps = 8
)

// scheduleBots arms every bot's actions for the question that just started.
// Delays fall in [10%, 90%] of the countdown.
func (r *Room) scheduleBots(limit time.Duration) {
	q, ok := r.state.Current()
	if !ok {
		return
	}
	for _, bot := range r.state.Roster.Bots() {
		switch r.state.Settings.Mode {
		case engine.ModeSmash:
			taps := botMinTaps + r.rng.IntN(botMaxTaps-botMinTaps+1)
			for range taps {
				r.after(r.botDelay(limit), botAction{gen: r.gen, msg: types.Smash{
					PlayerID:    bot.ID,
					OptionIndex: r.botOption(q),
				}})
			}
		default:
			delay := r.botDelay(limit)
			r.after(delay, botAction{gen: r.gen, msg: types.Answer{
				PlayerID:    bot.ID,
				OptionIndex: r.botOption(q),
				ElapsedMs:   delay.Milliseconds(),
			}})
		}
	}
}

func (r *Room) botDelay(limit time.Duration) time.Duration {
	return time.Duration(float64(limit) * (0.1 + 0.8*r.rng.Float64()))
}

// botOption picks the correct option with probability botAccuracy, otherwise
// a uniformly random wrong one.
func (r *Room) botOption(q engine.Question) int {
	n := len(q.Options)
	if n <= 1 || r.rng.Float64() < r.botAccuracy {
		return q.CorrectIndex
	}
	wrong := r.rng.IntN(n - 1)
	if wrong >= q.CorrectIndex {
		wrong++
	}
	return wrong
}
