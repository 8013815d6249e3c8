package session

import (
	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeMissed    Outcome = "missed"
)

type Player struct {
	ID       string
	Name     string
	Avatar   string
	Bot      bool
	Seq      int // arrival order, used as the leaderboard tie-break
	Score    int
	Streak   int
	Rank     int
	PrevRank int

	LastOutcome Outcome
	LastLatency int64 // milliseconds
}

// Registry is the host-side roster of one room. It is not safe for concurrent
// use; the room goroutine owns it.
type Registry struct {
	players map[string]*Player
	order   []*Player
	nextSeq int
}

func NewRegistry() *Registry {
	return &Registry{players: make(map[string]*Player)}
}

// AdmitPlayer adds a player, or returns the existing entry when id is already known.
// The bool reports whether a new entry was created.
func (r *Registry) AdmitPlayer(id, name, avatar string) (*Player, bool) {
	if p, ok := r.players[id]; ok {
		return p, false
	}
	p := &Player{ID: id, Name: name, Avatar: avatar, Seq: r.nextSeq}
	r.nextSeq++
	r.players[id] = p
	r.order = append(r.order, p)
	return p, true
}

// AddSimulatedPlayer adds a bot. Bots have the same shape as real players.
func (r *Registry) AddSimulatedPlayer(name string) *Player {
	p, _ := r.AdmitPlayer("bot-"+uuid.NewString(), name, "bot")
	p.Bot = true
	return p
}

func (r *Registry) Get(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Players returns the roster in arrival order. The slice is a copy; the
// players are not.
func (r *Registry) Players() []*Player {
	out := make([]*Player, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Bots() []*Player {
	var out []*Player
	for _, p := range r.order {
		if p.Bot {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

func (r *Registry) Purge(id string) {
	if _, ok := r.players[id]; !ok {
		return
	}
	delete(r.players, id)
	for i, p := range r.order {
		if p.ID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
