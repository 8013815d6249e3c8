package engine

import (
	"sort"

	"github.com/DoyleJ11/quizroom-backend/internal/session"
)

// RankPlayers orders players by score, highest first, ties broken by arrival
// order, and assigns ranks 1..N. The previous rank is kept for movement arrows.
func RankPlayers(players []*session.Player) []*session.Player {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].Seq < players[j].Seq
	})
	for i, p := range players {
		p.PrevRank = p.Rank
		p.Rank = i + 1
	}
	return players
}
