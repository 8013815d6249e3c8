// Package client derives a player's local view of a room from the host's
// broadcasts. Scores, ranks and correctness are only ever copied from the
// host, never computed here.
package client

import (
	"time"

	"github.com/DoyleJ11/quizroom-backend/pkg/types"
)

const (
	PhaseLobby    = "LOBBY"
	PhaseQuestion = "QUESTION"
	PhasePodium   = "PODIUM"
)

type Projection struct {
	PlayerID string

	Version            int
	Phase              string
	QuestionIndex      int
	QuestionCount      int
	CountdownRemaining int
	Question           *types.QuestionView
	Roster             []types.PlayerView
	Settings           types.Settings

	// Local-only fields.
	Answered      bool
	Taps          int
	QuestionSeen  time.Time
	LastMessageAt time.Time
	LastError     *types.Error
	Closed        bool // the host left or the room was closed
}

func New(playerID string) Projection {
	return Projection{PlayerID: playerID, QuestionIndex: -1}
}

// Reduce folds one inbound message into p. It never mutates p's slices in
// place, so earlier projections stay valid.
func Reduce(p Projection, msg types.Message, now time.Time) Projection {
	p.LastMessageAt = now

	switch m := msg.(type) {
	case types.StateUpdate:
		if m.Version != 0 && m.Version <= p.Version {
			return p
		}
		p.Version = m.Version

		if m.Phase == PhaseQuestion && (p.Phase != PhaseQuestion || m.QuestionIndex != p.QuestionIndex) {
			p.Answered = false
			p.Taps = 0
			p.QuestionSeen = now
		}
		p.Phase = m.Phase
		p.QuestionIndex = m.QuestionIndex
		p.QuestionCount = m.QuestionCount

		// Full snapshots carry settings; countdown ticks carry only the header.
		full := m.Settings != nil
		if full {
			p.Settings = *m.Settings
			p.CountdownRemaining = 0
			p.Question = nil
		}
		if m.CountdownRemaining != nil {
			p.CountdownRemaining = *m.CountdownRemaining
		}
		if m.Roster != nil || full {
			p.Roster = append([]types.PlayerView(nil), m.Roster...)
		}
		if m.Question != nil {
			q := *m.Question
			p.Question = &q
		}

	case types.Error:
		e := m
		p.LastError = &e
		switch m.Code {
		case types.CodeHostDisconnected, types.CodeRoomClosed:
			p.Closed = true
		}
	}
	return p
}

// Answer records a CLASSIC answer and returns the message to send. ok is
// false when no answer may be sent: wrong phase or mode, an option out of
// range, or an answer already given for this question.
func (p Projection) Answer(option int, now time.Time) (Projection, types.Answer, bool) {
	if p.Phase != PhaseQuestion || p.Settings.Mode == "SMASH" || p.Answered || !p.validOption(option) {
		return p, types.Answer{}, false
	}
	p.Answered = true
	elapsed := now.Sub(p.QuestionSeen)
	if p.QuestionSeen.IsZero() || elapsed < 0 {
		elapsed = 0
	}
	return p, types.Answer{PlayerID: p.PlayerID, OptionIndex: option, ElapsedMs: elapsed.Milliseconds()}, true
}

// Smash returns a tap for SMASH mode. Any number may be sent.
func (p Projection) Smash(option int) (Projection, types.Smash, bool) {
	if p.Phase != PhaseQuestion || p.Settings.Mode != "SMASH" || !p.validOption(option) {
		return p, types.Smash{}, false
	}
	p.Taps++
	return p, types.Smash{PlayerID: p.PlayerID, OptionIndex: option}, true
}

func (p Projection) validOption(option int) bool {
	if option < 0 {
		return false
	}
	return p.Question == nil || option < len(p.Question.Options)
}

// Me returns this player's row of the last broadcast roster.
func (p Projection) Me() (types.PlayerView, bool) {
	for _, v := range p.Roster {
		if v.ID == p.PlayerID {
			return v, true
		}
	}
	return types.PlayerView{}, false
}

// HostSilent reports whether the countdown of the open question has stopped
// arriving for longer than timeout. Outside QUESTION the host only speaks on
// transitions, so silence there means nothing; the carrier's own liveness
// (Done) covers those phases.
func (p Projection) HostSilent(now time.Time, timeout time.Duration) bool {
	if p.LastMessageAt.IsZero() || p.Phase != PhaseQuestion {
		return false
	}
	return now.Sub(p.LastMessageAt) > timeout
}

// ErrorText is the user-facing text of the last error, if any.
func (p Projection) ErrorText() string {
	if p.LastError == nil {
		return ""
	}
	switch p.LastError.Code {
	case types.CodeRoomNotFound:
		return "room not found"
	case types.CodeHostDisconnected:
		return "the host left the game"
	case types.CodeRoomClosed:
		return "the room was closed"
	default:
		if p.LastError.Message != "" {
			return p.LastError.Message
		}
		return string(p.LastError.Code)
	}
}
