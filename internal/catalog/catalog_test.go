package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
subjects:
  geography:
    - id: g1
      prompt: Capital of France?
      options: [Berlin, Madrid, Paris, Rome]
      correct: 2
      timeLimitSec: 15
    - prompt: Longest river?
      options: [Nile, Danube]
      correct: 0
  empty: []
`

func TestStatic_Questions(t *testing.T) {
	cat := Static{"math": {{ID: "m1", Prompt: "1+1", Options: []string{"1", "2"}, CorrectIndex: 1}}}

	qs, err := cat.Questions(context.Background(), "math")
	require.NoError(t, err)
	require.Len(t, qs, 1)

	qs[0].Prompt = "changed"
	again, _ := cat.Questions(context.Background(), "math")
	assert.Equal(t, "1+1", again[0].Prompt, "callers get their own slice")

	_, err = cat.Questions(context.Background(), "history")
	require.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestParseYAML(t *testing.T) {
	cat, err := ParseYAML([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "geography"}, cat.Subjects())

	qs, err := cat.Questions(context.Background(), "geography")
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, engine.Question{ID: "g1", Prompt: "Capital of France?", Options: []string{"Berlin", "Madrid", "Paris", "Rome"}, CorrectIndex: 2, TimeLimitSec: 15}, qs[0])
	assert.Equal(t, "geography-2", qs[1].ID)

	empty, err := cat.Questions(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseYAML_RejectsUnplayableQuestions(t *testing.T) {
	tests := map[string]string{
		"correct out of range": "subjects:\n  s:\n    - prompt: p\n      options: [a, b]\n      correct: 2\n",
		"single option":        "subjects:\n  s:\n    - prompt: p\n      options: [a]\n      correct: 0\n",
		"no prompt":            "subjects:\n  s:\n    - options: [a, b]\n      correct: 0\n",
		"time limit too long":  "subjects:\n  s:\n    - prompt: p\n      options: [a, b]\n      correct: 0\n      timeLimitSec: 301\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseYAML([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidQuestion)
		})
	}

	_, err := ParseYAML([]byte("subjects: [not, a, map]"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cat, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cat["geography"], 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestGormRows_CorrectIndexFromFlags(t *testing.T) {
	s := Subject{Name: "geography", Questions: []Question{
		{ID: 7, Prompt: "Capital of France?", Options: []Option{
			{Text: "Berlin"}, {Text: "Paris", IsCorrect: true}, {Text: "Rome"},
		}},
	}}
	qs, err := toEngine(s)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "7", qs[0].ID, "database id stands in for a missing external id")
	assert.Equal(t, 1, qs[0].CorrectIndex)

	s.Questions[0].Options[2].IsCorrect = true
	_, err = toEngine(s)
	require.ErrorIs(t, err, ErrInvalidQuestion)

	s.Questions[0].Options[1].IsCorrect = false
	s.Questions[0].Options[2].IsCorrect = false
	_, err = toEngine(s)
	require.ErrorIs(t, err, ErrInvalidQuestion, "no correct option")
}

func TestGormRows_SeedShapeKeepsOrder(t *testing.T) {
	cat, err := ParseYAML([]byte(sample))
	require.NoError(t, err)

	row := fromEngine("geography", cat["geography"])
	require.Len(t, row.Questions, 2)
	assert.Equal(t, 0, row.Questions[0].OrderNum)
	assert.Equal(t, 1, row.Questions[1].OrderNum)
	assert.True(t, row.Questions[0].Options[2].IsCorrect)

	back, err := toEngine(row)
	require.NoError(t, err)
	assert.Equal(t, cat["geography"], back)
}

func TestSample_IsPlayable(t *testing.T) {
	qs, err := Sample().Questions(context.Background(), SampleSubject)
	require.NoError(t, err)
	require.NotEmpty(t, qs)
	for _, q := range qs {
		assert.NoError(t, Validate(q), q.ID)
	}
}
