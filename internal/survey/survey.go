// Package survey serves the pre- and post-experiment questionnaires and
// persists responses. Post-experiment questions differ by parity: the AI
// track is asked about the assistant, the colleague track about teamwork.
package survey

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Question is one survey item.
type Question struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	Type        string   `json:"type"` // "text" or "multiple"
	Required    bool     `json:"required"`
	Placeholder string   `json:"placeholder,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// Sets holds the loaded question sets.
type Sets struct {
	Pre  []Question
	Post map[protocol.Parity][]Question
}

const (
	preFile  = "pre-experiment-survey.json"
	postFile = "post-experiment-survey.json"
)

// Load reads question files from dir, falling back to the built-in defaults
// per file.
func Load(dir string, logger *slog.Logger) (*Sets, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sets{Pre: defaultPre(), Post: defaultPost()}

	if dir != "" {
		if raw, err := os.ReadFile(filepath.Join(dir, preFile)); err == nil {
			var qs []Question
			if err := json.Unmarshal(raw, &qs); err != nil {
				return nil, fmt.Errorf("survey: parse %s: %w", preFile, err)
			}
			s.Pre = qs
			logger.Info("pre-experiment questions loaded", "count", len(qs))
		}
		if raw, err := os.ReadFile(filepath.Join(dir, postFile)); err == nil {
			var byParity map[protocol.Parity][]Question
			if err := json.Unmarshal(raw, &byParity); err != nil {
				return nil, fmt.Errorf("survey: parse %s: %w", postFile, err)
			}
			s.Post = byParity
			logger.Info("post-experiment questions loaded",
				"even", len(byParity[protocol.ParityEven]), "odd", len(byParity[protocol.ParityOdd]))
		}
	}
	return s, nil
}

// PostFor returns the post-experiment questions for a parity track.
func (s *Sets) PostFor(parity protocol.Parity) ([]Question, bool) {
	qs, ok := s.Post[parity]
	return qs, ok
}

func defaultPre() []Question {
	return []Question{
		{ID: "pre_1", Question: "What is your age?", Type: "text", Required: true, Placeholder: "Enter your age"},
		{ID: "pre_2", Question: "What is your gender?", Type: "multiple", Required: true, Options: []string{"Male", "Female", "Other", "Prefer not to say"}},
		{ID: "pre_3", Question: "What is your highest level of education?", Type: "multiple", Required: true, Options: []string{"High School", "Bachelor's Degree", "Master's Degree", "PhD", "Other"}},
		{ID: "pre_4", Question: "How familiar are you with IT support systems?", Type: "multiple", Required: true, Options: []string{"Not familiar at all", "Slightly familiar", "Moderately familiar", "Very familiar", "Expert"}},
		{ID: "pre_5", Question: "Have you ever worked in IT support or a similar role?", Type: "multiple", Required: true, Options: []string{"Yes, professionally", "Yes, informally", "No, never"}},
	}
}

func defaultPost() map[protocol.Parity][]Question {
	scale := []string{"Not helpful at all", "Slightly helpful", "Moderately helpful", "Very helpful", "Extremely helpful"}
	improvement := []string{"Not at all", "Slightly improved", "Moderately improved", "Significantly improved", "Extremely improved"}
	preference := []string{"Definitely not", "Probably not", "Neutral", "Probably yes", "Definitely yes"}

	return map[protocol.Parity][]Question{
		protocol.ParityEven: {
			{ID: "post_even_1", Question: "How helpful was the AI assistant?", Type: "multiple", Required: true, Options: scale},
			{ID: "post_even_2", Question: "Did the AI assistant improve your efficiency?", Type: "multiple", Required: true, Options: improvement},
			{ID: "post_even_3", Question: "Would you prefer to work with AI assistance in the future?", Type: "multiple", Required: true, Options: preference},
			{ID: "post_even_4", Question: "What aspects of the AI assistant could be improved?", Type: "text", Required: false, Placeholder: "Enter your suggestions"},
		},
		protocol.ParityOdd: {
			{ID: "post_odd_1", Question: "How helpful were your colleagues?", Type: "multiple", Required: true, Options: scale},
			{ID: "post_odd_2", Question: "Did working with colleagues improve your efficiency?", Type: "multiple", Required: true, Options: improvement},
			{ID: "post_odd_3", Question: "Would you prefer to work with colleagues in the future?", Type: "multiple", Required: true, Options: preference},
			{ID: "post_odd_4", Question: "What aspects of teamwork could be improved?", Type: "text", Required: false, Placeholder: "Enter your suggestions"},
		},
	}
}
