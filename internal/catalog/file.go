package catalog

import (
	"fmt"
	"os"

	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"gopkg.in/yaml.v3"
)

// fileDoc is the YAML layout:
//
//	subjects:
//	  geography:
//	    - id: g1
//	      prompt: Capital of France?
//	      options: [Berlin, Madrid, Paris, Rome]
//	      correct: 2
//	      timeLimitSec: 15
type fileDoc struct {
	Subjects map[string][]fileQuestion `yaml:"subjects"`
}

type fileQuestion struct {
	ID           string   `yaml:"id"`
	Prompt       string   `yaml:"prompt"`
	Options      []string `yaml:"options"`
	Correct      int      `yaml:"correct"`
	TimeLimitSec int      `yaml:"timeLimitSec"`
}

// LoadFile reads a YAML question file into a Static catalog.
func LoadFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseYAML(data)
}

func ParseYAML(data []byte) (Static, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	out := make(Static, len(doc.Subjects))
	for subject, raw := range doc.Subjects {
		qs := make([]engine.Question, 0, len(raw))
		for i, fq := range raw {
			q := engine.Question{
				ID:           fq.ID,
				Prompt:       fq.Prompt,
				Options:      fq.Options,
				CorrectIndex: fq.Correct,
				TimeLimitSec: fq.TimeLimitSec,
			}
			if q.ID == "" {
				q.ID = fmt.Sprintf("%s-%d", subject, i+1)
			}
			if err := Validate(q); err != nil {
				return nil, fmt.Errorf("subject %q: %w", subject, err)
			}
			qs = append(qs, q)
		}
		out[subject] = qs
	}
	return out, nil
}
