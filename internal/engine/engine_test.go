package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuestions(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{
			ID:           fmt.Sprintf("q%d", i+1),
			Prompt:       fmt.Sprintf("Question %d", i+1),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 2,
		}
	}
	return qs
}

func mustApply(t *testing.T, s *State, cmd Command) []Event {
	t.Helper()
	events, err := Apply(s, cmd)
	require.NoError(t, err, "command %s", cmd.Type)
	return events
}

func admit(t *testing.T, s *State, id, name string) {
	t.Helper()
	mustApply(t, s, Command{Type: CmdAdmitPlayer, PlayerID: id, Name: name})
}

func TestClassic_AlexAndSam(t *testing.T) {
	s := NewState(sampleQuestions(3), Settings{Mode: ModeClassic, CountdownSec: 20})
	admit(t, &s, "alex", "Alex")
	admit(t, &s, "sam", "Sam")

	events := mustApply(t, &s, Command{Type: CmdStartQuiz})
	require.True(t, ContainsEvent(events, EvtQuestionStarted))
	require.Equal(t, PhaseQuestion, s.Phase)
	require.Equal(t, 20*time.Second, events[0].Limit)

	events = mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "alex", Option: 2, Elapsed: 2000 * time.Millisecond})
	require.False(t, ContainsEvent(events, EvtQuestionResolved), "Sam has not answered yet")
	require.Equal(t, PhaseQuestion, s.Phase)

	events = mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "sam", Option: 1, Elapsed: 5000 * time.Millisecond})
	require.True(t, ContainsEvent(events, EvtQuestionResolved), "both answered, resolve before the timer")
	require.Equal(t, PhaseResult, s.Phase)

	alex, _ := s.Roster.Get("alex")
	sam, _ := s.Roster.Get("sam")
	assert.Greater(t, alex.Score, 0)
	assert.Equal(t, 1, alex.Streak)
	assert.Equal(t, session.OutcomeCorrect, alex.LastOutcome)
	assert.Equal(t, int64(2000), alex.LastLatency)
	assert.Equal(t, 0, sam.Score)
	assert.Equal(t, 0, sam.Streak)
	assert.Equal(t, session.OutcomeIncorrect, sam.LastOutcome)
}

func TestSmash_ScoreIsCorrectTapsTimesIncrement(t *testing.T) {
	taps := []int{2, 2, 0, 2, 2, 3, 2, 1, 2, 2} // 7 correct, 3 incorrect

	for seed := range uint64(5) {
		t.Run(fmt.Sprintf("order %d", seed), func(t *testing.T) {
			s := NewState(sampleQuestions(1), Settings{Mode: ModeSmash, CountdownSec: 10})
			admit(t, &s, "p1", "Alex")
			mustApply(t, &s, Command{Type: CmdStartQuiz})

			order := append([]int(nil), taps...)
			rand.New(rand.NewPCG(seed, seed)).Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

			for _, opt := range order {
				events := mustApply(t, &s, Command{Type: CmdSmash, PlayerID: "p1", Option: opt})
				require.False(t, ContainsEvent(events, EvtQuestionResolved), "smash never resolves early")
			}
			require.Equal(t, PhaseQuestion, s.Phase)

			mustApply(t, &s, Command{Type: CmdCountdownExpired})
			p, _ := s.Roster.Get("p1")
			assert.Equal(t, 7*SmashPoints, p.Score)
			assert.Equal(t, 0, p.Streak, "smash does not track streaks")
			assert.Equal(t, session.OutcomeCorrect, p.LastOutcome)
		})
	}
}

func TestClassic_IncorrectResetsStreakAndScoresZero(t *testing.T) {
	s := NewState(sampleQuestions(4), Settings{Mode: ModeClassic, CountdownSec: 10})
	admit(t, &s, "p1", "Alex")
	mustApply(t, &s, Command{Type: CmdStartQuiz})

	answers := []struct {
		option     int
		wantStreak int
		wantPoints int
	}{
		{option: 2, wantStreak: 1, wantPoints: ClassicReward(time.Second, 10*time.Second, 0)},
		{option: 2, wantStreak: 2, wantPoints: ClassicReward(time.Second, 10*time.Second, 1)},
		{option: 0, wantStreak: 0, wantPoints: 0},
		{option: 2, wantStreak: 1, wantPoints: ClassicReward(time.Second, 10*time.Second, 0)},
	}

	for i, a := range answers {
		p, _ := s.Roster.Get("p1")
		before := p.Score

		events := mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "p1", Option: a.option, Elapsed: time.Second})
		require.Equal(t, a.wantPoints, events[0].Points, "round %d", i)
		require.Equal(t, a.wantStreak, p.Streak, "round %d", i)
		require.Equal(t, before+a.wantPoints, p.Score, "round %d", i)

		if i < len(answers)-1 {
			mustApply(t, &s, Command{Type: CmdAdvance})
			mustApply(t, &s, Command{Type: CmdAdvance})
		}
	}
}

func TestClassic_RejectsDuplicateAndStaleAnswers(t *testing.T) {
	s := NewState(sampleQuestions(2), Settings{Mode: ModeClassic, CountdownSec: 10})
	admit(t, &s, "p1", "Alex")
	admit(t, &s, "p2", "Sam")

	_, err := Apply(&s, Command{Type: CmdSubmitAnswer, PlayerID: "p1", Option: 2})
	require.ErrorIs(t, err, ErrStalePhase, "answers in the lobby are stale")

	mustApply(t, &s, Command{Type: CmdStartQuiz})
	mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "p1", Option: 2, Elapsed: time.Second})

	p, _ := s.Roster.Get("p1")
	score := p.Score

	_, err = Apply(&s, Command{Type: CmdSubmitAnswer, PlayerID: "p1", Option: 2})
	require.ErrorIs(t, err, ErrAlreadyAnswered)
	require.Equal(t, score, p.Score)

	_, err = Apply(&s, Command{Type: CmdSubmitAnswer, PlayerID: "ghost", Option: 2})
	require.ErrorIs(t, err, ErrUnknownPlayer)

	_, err = Apply(&s, Command{Type: CmdSmash, PlayerID: "p1", Option: 2})
	require.ErrorIs(t, err, ErrWrongMode)

	mustApply(t, &s, Command{Type: CmdCountdownExpired})
	_, err = Apply(&s, Command{Type: CmdSubmitAnswer, PlayerID: "p2", Option: 2})
	require.ErrorIs(t, err, ErrStalePhase)

	_, err = Apply(&s, Command{Type: CmdCountdownExpired})
	require.ErrorIs(t, err, ErrStalePhase, "a second expiry for the same question is stale")
}

func TestCountdownExpiry_ResolvesWithNoAnswers(t *testing.T) {
	for _, mode := range []Mode{ModeClassic, ModeSmash} {
		t.Run(string(mode), func(t *testing.T) {
			s := NewState(sampleQuestions(1), Settings{Mode: mode, CountdownSec: 5})
			admit(t, &s, "p1", "Alex")
			admit(t, &s, "p2", "Sam")
			mustApply(t, &s, Command{Type: CmdStartQuiz})

			events := mustApply(t, &s, Command{Type: CmdCountdownExpired})
			require.True(t, ContainsEvent(events, EvtQuestionResolved))
			require.Equal(t, PhaseResult, s.Phase)
			for _, p := range s.Roster.Players() {
				assert.Equal(t, session.OutcomeMissed, p.LastOutcome)
				assert.Equal(t, 0, p.Score)
			}
		})
	}
}

func TestClassic_MissedAnswerResetsStreak(t *testing.T) {
	s := NewState(sampleQuestions(2), Settings{Mode: ModeClassic, CountdownSec: 5})
	admit(t, &s, "p1", "Alex")
	admit(t, &s, "p2", "Sam")
	mustApply(t, &s, Command{Type: CmdStartQuiz})
	mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "p1", Option: 2})
	mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "p2", Option: 2})
	mustApply(t, &s, Command{Type: CmdAdvance})
	mustApply(t, &s, Command{Type: CmdAdvance})

	mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "p2", Option: 2})
	mustApply(t, &s, Command{Type: CmdCountdownExpired})

	p1, _ := s.Roster.Get("p1")
	p2, _ := s.Roster.Get("p2")
	assert.Equal(t, 0, p1.Streak)
	assert.Equal(t, session.OutcomeMissed, p1.LastOutcome)
	assert.Equal(t, 2, p2.Streak)
}

func TestFullCycle_EndsOnPodium(t *testing.T) {
	s := NewState(sampleQuestions(2), Settings{Mode: ModeClassic, CountdownSec: 5})
	admit(t, &s, "p1", "Alex")

	_, err := Apply(&s, Command{Type: CmdAdvance})
	require.ErrorIs(t, err, ErrWrongPhase)

	mustApply(t, &s, Command{Type: CmdStartQuiz})
	_, err = Apply(&s, Command{Type: CmdStartQuiz})
	require.ErrorIs(t, err, ErrWrongPhase)

	wantPhases := []Phase{PhaseResult, PhaseLeaderboard, PhaseQuestion, PhaseResult, PhaseLeaderboard, PhasePodium}
	cmds := []Command{
		{Type: CmdCountdownExpired},
		{Type: CmdAdvance},
		{Type: CmdAdvance},
		{Type: CmdSubmitAnswer, PlayerID: "p1", Option: 2},
		{Type: CmdAdvance},
		{Type: CmdAdvance},
	}
	for i, cmd := range cmds {
		mustApply(t, &s, cmd)
		require.Equal(t, wantPhases[i], s.Phase, "step %d (%s)", i, cmd.Type)
	}
	require.Equal(t, 1, s.QuestionIndex)

	_, err = Apply(&s, Command{Type: CmdAdvance})
	require.ErrorIs(t, err, ErrWrongPhase, "podium is terminal")
}

func TestStartWithoutQuestions_GoesToPodium(t *testing.T) {
	s := NewState(nil, DefaultSettings())
	admit(t, &s, "p1", "Alex")

	events := mustApply(t, &s, Command{Type: CmdStartQuiz})
	require.True(t, ContainsEvent(events, EvtPodiumReached))
	require.Equal(t, PhasePodium, s.Phase)
	p, _ := s.Roster.Get("p1")
	require.Equal(t, 1, p.Rank)
}

func TestConfigure_OnlyInLobby(t *testing.T) {
	s := NewState(sampleQuestions(1), DefaultSettings())

	_, err := Apply(&s, Command{Type: CmdConfigure, Settings: Settings{Mode: "TURBO", CountdownSec: 10}})
	require.ErrorIs(t, err, ErrInvalidSettings)
	_, err = Apply(&s, Command{Type: CmdConfigure, Settings: Settings{Mode: ModeSmash, CountdownSec: 0}})
	require.ErrorIs(t, err, ErrInvalidSettings)

	mustApply(t, &s, Command{Type: CmdConfigure, Settings: Settings{Mode: ModeSmash, CountdownSec: 15, AutoPlay: true}})
	require.Equal(t, Settings{Mode: ModeSmash, CountdownSec: 15, AutoPlay: true}, s.Settings)

	mustApply(t, &s, Command{Type: CmdStartQuiz})
	_, err = Apply(&s, Command{Type: CmdConfigure, Settings: DefaultSettings()})
	require.ErrorIs(t, err, ErrSettingsLocked)
}

func TestAdmit_IsIdempotentAndLateJoinsCount(t *testing.T) {
	s := NewState(sampleQuestions(1), DefaultSettings())

	events := mustApply(t, &s, Command{Type: CmdAdmitPlayer, PlayerID: "p1", Name: "Alex"})
	require.True(t, ContainsEvent(events, EvtPlayerJoined))
	events = mustApply(t, &s, Command{Type: CmdAdmitPlayer, PlayerID: "p1", Name: "Alex"})
	require.Empty(t, events)
	require.Equal(t, 1, s.Roster.Len())

	_, err := Apply(&s, Command{Type: CmdAdmitPlayer, PlayerID: "p2"})
	require.ErrorIs(t, err, ErrInvalidPlayer)

	mustApply(t, &s, Command{Type: CmdStartQuiz})
	mustApply(t, &s, Command{Type: CmdAdmitPlayer, PlayerID: "late", Name: "Late"})
	events = mustApply(t, &s, Command{Type: CmdSubmitAnswer, PlayerID: "p1", Option: 2})
	require.False(t, ContainsEvent(events, EvtQuestionResolved), "a late joiner is a known player too")
}

func TestQuestionTimeLimitOverride(t *testing.T) {
	qs := sampleQuestions(2)
	qs[1].TimeLimitSec = 45
	s := NewState(qs, Settings{Mode: ModeClassic, CountdownSec: 20})
	mustApply(t, &s, Command{Type: CmdStartQuiz})
	require.Equal(t, 20*time.Second, s.Limit())

	mustApply(t, &s, Command{Type: CmdCountdownExpired})
	mustApply(t, &s, Command{Type: CmdAdvance})
	events := mustApply(t, &s, Command{Type: CmdAdvance})
	require.Equal(t, 45*time.Second, events[0].Limit)
}

func TestUnsupportedCommand(t *testing.T) {
	s := NewState(nil, DefaultSettings())
	_, err := Apply(&s, Command{Type: "Dance"})
	if err == nil || !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
}
