// Package catalog supplies the ordered questions of a subject. Rooms load
// their content once, at creation.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/DoyleJ11/quizroom-backend/internal/engine"
)

var ErrSubjectNotFound = errors.New("subject not found")
var ErrInvalidQuestion = errors.New("invalid question")

type Catalog interface {
	Questions(ctx context.Context, subject string) ([]engine.Question, error)
}

// Static is an in-memory catalog keyed by subject.
type Static map[string][]engine.Question

func (s Static) Questions(_ context.Context, subject string) ([]engine.Question, error) {
	qs, ok := s[subject]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSubjectNotFound, subject)
	}
	out := make([]engine.Question, len(qs))
	copy(out, qs)
	return out, nil
}

// Subjects lists the subject names in lexical order.
func (s Static) Subjects() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that q can be played.
func Validate(q engine.Question) error {
	switch {
	case q.Prompt == "":
		return fmt.Errorf("%w %q: empty prompt", ErrInvalidQuestion, q.ID)
	case len(q.Options) < 2:
		return fmt.Errorf("%w %q: needs at least two options", ErrInvalidQuestion, q.ID)
	case q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options):
		return fmt.Errorf("%w %q: correct index %d out of range", ErrInvalidQuestion, q.ID, q.CorrectIndex)
	case q.TimeLimitSec < 0 || q.TimeLimitSec > engine.MaxCountdownSec:
		return fmt.Errorf("%w %q: time limit %ds out of range", ErrInvalidQuestion, q.ID, q.TimeLimitSec)
	}
	return nil
}
