package host

import (
	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
)

// snapshot builds the full STATE_UPDATE for the current state. Its version
// is that of the last broadcast; broadcast stamps a new one.
func (r *Room) snapshot() types.StateUpdate {
	s := &r.state
	update := r.header()

	settings := types.Settings{
		Mode:         string(s.Settings.Mode),
		CountdownSec: s.Settings.CountdownSec,
		AutoPlay:     s.Settings.AutoPlay,
	}
	update.Settings = &settings

	players := s.Roster.Players()
	update.Roster = make([]types.PlayerView, 0, len(players))
	for _, p := range players {
		update.Roster = append(update.Roster, types.PlayerView{
			ID:            p.ID,
			Name:          p.Name,
			Avatar:        p.Avatar,
			Score:         p.Score,
			Streak:        p.Streak,
			Rank:          p.Rank,
			PrevRank:      p.PrevRank,
			LastOutcome:   string(p.LastOutcome),
			LastLatencyMs: p.LastLatency,
			Bot:           p.Bot,
		})
	}

	if q, ok := s.Current(); ok && s.Phase != engine.PhasePodium {
		view := &types.QuestionView{
			ID:           q.ID,
			Prompt:       q.Prompt,
			Options:      append([]string(nil), q.Options...),
			TimeLimitSec: int(s.Limit().Seconds()),
		}
		if s.Phase != engine.PhaseQuestion {
			correct := q.CorrectIndex
			view.CorrectIndex = &correct
		}
		update.Question = view
	}
	return update
}

// countdownUpdate carries only the phase header and the remaining seconds.
func (r *Room) countdownUpdate() types.StateUpdate {
	return r.header()
}

func (r *Room) header() types.StateUpdate {
	s := &r.state
	update := types.StateUpdate{
		Version:       r.version,
		Phase:         string(s.Phase),
		QuestionIndex: s.QuestionIndex,
		QuestionCount: len(s.Questions),
	}
	if s.Phase == engine.PhaseQuestion {
		remaining := max(r.remaining, 0)
		update.CountdownRemaining = &remaining
	}
	return update
}
