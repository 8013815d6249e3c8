package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/session"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
)

// ErrStalePhase is returned for answers and taps that arrive after their
// question has resolved. Latency makes this expected, so callers drop them quietly.
var ErrStalePhase = types.NewCoded(types.CodeStalePhaseMessage, "message is stale for the current phase")

var ErrWrongPhase = errors.New("command not allowed in current phase")
var ErrWrongMode = errors.New("command not allowed in current mode")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrInvalidPlayer = errors.New("player id and name are required")
var ErrAlreadyAnswered = errors.New("player already answered this question")
var ErrSettingsLocked = errors.New("settings can only change in the lobby")
var ErrInvalidSettings = errors.New("invalid settings")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseLobby       Phase = "LOBBY"
	PhaseQuestion    Phase = "QUESTION"
	PhaseResult      Phase = "RESULT"
	PhaseLeaderboard Phase = "LEADERBOARD"
	PhasePodium      Phase = "PODIUM"
)

type Mode string

const (
	ModeClassic Mode = "CLASSIC"
	ModeSmash   Mode = "SMASH"
)

const (
	MinCountdownSec = 1
	MaxCountdownSec = 300
)

type Settings struct {
	Mode         Mode
	CountdownSec int
	AutoPlay     bool
}

func DefaultSettings() Settings {
	return Settings{Mode: ModeClassic, CountdownSec: 20}
}

func (s Settings) Validate() error {
	if s.Mode != ModeClassic && s.Mode != ModeSmash {
		return fmt.Errorf("%w: mode %q", ErrInvalidSettings, s.Mode)
	}
	if s.CountdownSec < MinCountdownSec || s.CountdownSec > MaxCountdownSec {
		return fmt.Errorf("%w: countdown %ds outside [%d, %d]", ErrInvalidSettings, s.CountdownSec, MinCountdownSec, MaxCountdownSec)
	}
	return nil
}

type Question struct {
	ID           string
	Prompt       string
	Options      []string
	CorrectIndex int
	TimeLimitSec int // 0 means use Settings.CountdownSec
}

type State struct {
	Phase         Phase
	QuestionIndex int // -1 until the first question starts
	Questions     []Question
	Settings      Settings
	Roster        *session.Registry

	// Per-question transient fields, reset on entering QUESTION.
	Answered    map[string]bool
	Taps        map[string]int
	CorrectTaps map[string]int
}

func NewState(questions []Question, settings Settings) State {
	return State{
		Phase:         PhaseLobby,
		QuestionIndex: -1,
		Questions:     questions,
		Settings:      settings,
		Roster:        session.NewRegistry(),
		Answered:      map[string]bool{},
		Taps:          map[string]int{},
		CorrectTaps:   map[string]int{},
	}
}

type CommandType string

const (
	CmdAdmitPlayer      CommandType = "AdmitPlayer"
	CmdAddBot           CommandType = "AddBot"
	CmdConfigure        CommandType = "Configure"
	CmdStartQuiz        CommandType = "StartQuiz"
	CmdSubmitAnswer     CommandType = "SubmitAnswer"
	CmdSmash            CommandType = "Smash"
	CmdCountdownExpired CommandType = "CountdownExpired"
	CmdAdvance          CommandType = "Advance"
)

/*
	CmdAdmitPlayer      -> EvtPlayerJoined (only for a new id)
	CmdAddBot           -> EvtPlayerJoined
	CmdConfigure        -> EvtSettingsChanged
	CmdStartQuiz        -> EvtQuestionStarted, or EvtLeaderboardShown + EvtPodiumReached when there is no content
	CmdSubmitAnswer     -> EvtAnswerScored [-> EvtQuestionResolved when everyone has answered]
	CmdSmash            -> EvtTapScored
	CmdCountdownExpired -> EvtQuestionResolved
	CmdAdvance          -> RESULT: EvtLeaderboardShown; LEADERBOARD: EvtQuestionStarted or EvtPodiumReached
*/

type Command struct {
	Type     CommandType
	PlayerID string
	Name     string
	Avatar   string
	Option   int
	Elapsed  time.Duration
	Settings Settings
}

type EventType string

const (
	EvtPlayerJoined     EventType = "PlayerJoined"
	EvtSettingsChanged  EventType = "SettingsChanged"
	EvtQuestionStarted  EventType = "QuestionStarted"
	EvtAnswerScored     EventType = "AnswerScored"
	EvtTapScored        EventType = "TapScored"
	EvtQuestionResolved EventType = "QuestionResolved"
	EvtLeaderboardShown EventType = "LeaderboardShown"
	EvtPodiumReached    EventType = "PodiumReached"
)

type Event struct {
	Type          EventType
	PlayerID      string
	Correct       bool
	Points        int
	QuestionIndex int
	Limit         time.Duration
}

// Apply runs one command against s. It mutates s in place and returns the
// events the room needs to react to (timers, broadcasts). On error s is unchanged.
func Apply(s *State, cmd Command) ([]Event, error) {
	switch cmd.Type {
	case CmdAdmitPlayer:
		if cmd.PlayerID == "" || cmd.Name == "" {
			return nil, ErrInvalidPlayer
		}
		if _, created := s.Roster.AdmitPlayer(cmd.PlayerID, cmd.Name, cmd.Avatar); !created {
			return nil, nil
		}
		return []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID}}, nil

	case CmdAddBot:
		p := s.Roster.AddSimulatedPlayer(cmd.Name)
		return []Event{{Type: EvtPlayerJoined, PlayerID: p.ID}}, nil

	case CmdConfigure:
		if s.Phase != PhaseLobby {
			return nil, ErrSettingsLocked
		}
		if err := cmd.Settings.Validate(); err != nil {
			return nil, err
		}
		s.Settings = cmd.Settings
		return []Event{{Type: EvtSettingsChanged}}, nil

	case CmdStartQuiz:
		if s.Phase != PhaseLobby {
			return nil, ErrWrongPhase
		}
		if len(s.Questions) == 0 {
			// Nothing to play: straight to the podium rather than an error.
			RankPlayers(s.Roster.Players())
			s.Phase = PhasePodium
			return []Event{{Type: EvtLeaderboardShown}, {Type: EvtPodiumReached}}, nil
		}
		return []Event{enterQuestion(s, 0)}, nil

	case CmdSubmitAnswer:
		if s.Phase != PhaseQuestion {
			return nil, ErrStalePhase
		}
		if s.Settings.Mode != ModeClassic {
			return nil, ErrWrongMode
		}
		p, ok := s.Roster.Get(cmd.PlayerID)
		if !ok {
			return nil, ErrUnknownPlayer
		}
		if s.Answered[p.ID] {
			return nil, ErrAlreadyAnswered
		}

		q := s.Questions[s.QuestionIndex]
		correct := cmd.Option == q.CorrectIndex
		points := 0
		if correct {
			points = ClassicReward(cmd.Elapsed, s.Limit(), p.Streak)
			p.Streak++
			p.LastOutcome = session.OutcomeCorrect
		} else {
			p.Streak = 0
			p.LastOutcome = session.OutcomeIncorrect
		}
		addScore(p, points)
		p.LastLatency = cmd.Elapsed.Milliseconds()
		s.Answered[p.ID] = true

		events := []Event{{Type: EvtAnswerScored, PlayerID: p.ID, Correct: correct, Points: points, QuestionIndex: s.QuestionIndex}}
		if everyoneAnswered(s) {
			events = append(events, resolveQuestion(s))
		}
		return events, nil

	case CmdSmash:
		if s.Phase != PhaseQuestion {
			return nil, ErrStalePhase
		}
		if s.Settings.Mode != ModeSmash {
			return nil, ErrWrongMode
		}
		p, ok := s.Roster.Get(cmd.PlayerID)
		if !ok {
			return nil, ErrUnknownPlayer
		}

		q := s.Questions[s.QuestionIndex]
		correct := cmd.Option == q.CorrectIndex
		points := 0
		s.Taps[p.ID]++
		if correct {
			points = SmashPoints
			s.CorrectTaps[p.ID]++
		}
		addScore(p, points)
		return []Event{{Type: EvtTapScored, PlayerID: p.ID, Correct: correct, Points: points, QuestionIndex: s.QuestionIndex}}, nil

	case CmdCountdownExpired:
		if s.Phase != PhaseQuestion {
			return nil, ErrStalePhase
		}
		return []Event{resolveQuestion(s)}, nil

	case CmdAdvance:
		switch s.Phase {
		case PhaseResult:
			RankPlayers(s.Roster.Players())
			s.Phase = PhaseLeaderboard
			return []Event{{Type: EvtLeaderboardShown, QuestionIndex: s.QuestionIndex}}, nil
		case PhaseLeaderboard:
			if s.QuestionIndex+1 < len(s.Questions) {
				return []Event{enterQuestion(s, s.QuestionIndex+1)}, nil
			}
			s.Phase = PhasePodium
			return []Event{{Type: EvtPodiumReached, QuestionIndex: s.QuestionIndex}}, nil
		default:
			return nil, ErrWrongPhase
		}

	default:
		return nil, ErrUnsupportedCommand
	}
}

// Limit is the countdown of the current question.
func (s *State) Limit() time.Duration {
	if s.QuestionIndex >= 0 && s.QuestionIndex < len(s.Questions) {
		if sec := s.Questions[s.QuestionIndex].TimeLimitSec; sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return time.Duration(s.Settings.CountdownSec) * time.Second
}

// Current returns the active question, if any.
func (s *State) Current() (Question, bool) {
	if s.QuestionIndex < 0 || s.QuestionIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.QuestionIndex], true
}

func enterQuestion(s *State, idx int) Event {
	s.Phase = PhaseQuestion
	s.QuestionIndex = idx
	clear(s.Answered)
	clear(s.Taps)
	clear(s.CorrectTaps)
	for _, p := range s.Roster.Players() {
		p.LastOutcome = session.OutcomeNone
		p.LastLatency = 0
	}
	return Event{Type: EvtQuestionStarted, QuestionIndex: idx, Limit: s.Limit()}
}

func resolveQuestion(s *State) Event {
	for _, p := range s.Roster.Players() {
		switch s.Settings.Mode {
		case ModeSmash:
			switch {
			case s.CorrectTaps[p.ID] > 0:
				p.LastOutcome = session.OutcomeCorrect
			case s.Taps[p.ID] > 0:
				p.LastOutcome = session.OutcomeIncorrect
			default:
				p.LastOutcome = session.OutcomeMissed
			}
		default:
			if !s.Answered[p.ID] {
				p.Streak = 0
				p.LastOutcome = session.OutcomeMissed
			}
		}
	}
	s.Phase = PhaseResult
	return Event{Type: EvtQuestionResolved, QuestionIndex: s.QuestionIndex}
}

func everyoneAnswered(s *State) bool {
	for _, p := range s.Roster.Players() {
		if !s.Answered[p.ID] {
			return false
		}
	}
	return true
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
