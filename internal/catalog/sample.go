package catalog

import "github.com/DoyleJ11/quizroom-backend/internal/engine"

// SampleSubject is served when no catalog file or database is configured.
const SampleSubject = "general"

func Sample() Static {
	return Static{
		SampleSubject: {
			{ID: "general-1", Prompt: "What is the largest planet in the solar system?", Options: []string{"Mars", "Jupiter", "Saturn", "Neptune"}, CorrectIndex: 1},
			{ID: "general-2", Prompt: "Which element has the chemical symbol O?", Options: []string{"Gold", "Osmium", "Oxygen", "Iron"}, CorrectIndex: 2},
			{ID: "general-3", Prompt: "How many continents are there?", Options: []string{"5", "6", "7", "8"}, CorrectIndex: 2},
			{ID: "general-4", Prompt: "Who painted the Mona Lisa?", Options: []string{"Leonardo da Vinci", "Michelangelo", "Raphael", "Donatello"}, CorrectIndex: 0, TimeLimitSec: 15},
			{ID: "general-5", Prompt: "What is the boiling point of water at sea level in Celsius?", Options: []string{"90", "100", "110", "120"}, CorrectIndex: 1},
		},
	}
}
