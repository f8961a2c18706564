package survey

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Response is one answered question.
type Response struct {
	QuestionID   string `json:"questionId"`
	QuestionText string `json:"questionText"`
	Answer       string `json:"answer"`
}

// Store persists survey responses. It shares the audit database handle so
// all experiment records live in one file.
type Store struct {
	db *sql.DB
}

// NewStore runs migrations on the shared database.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS survey_responses (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			parity         TEXT NOT NULL,
			stage          INTEGER NOT NULL,
			question_id    TEXT NOT NULL,
			question_text  TEXT NOT NULL,
			answer         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS post_experiment_survey (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			parity         TEXT NOT NULL,
			question_id    TEXT NOT NULL,
			question_text  TEXT NOT NULL,
			answer         TEXT NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("survey store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SavePre stores pre-experiment responses (recorded as stage 0).
func (s *Store) SavePre(participantID string, parity protocol.Parity, responses []Response) error {
	now := time.Now().Format(time.RFC3339)
	for _, r := range responses {
		_, err := s.db.Exec(
			`INSERT INTO survey_responses (timestamp, participant_id, parity, stage, question_id, question_text, answer) VALUES (?, ?, ?, 0, ?, ?, ?)`,
			now, participantID, string(parity), r.QuestionID, r.QuestionText, r.Answer,
		)
		if err != nil {
			return fmt.Errorf("survey store: save pre: %w", err)
		}
	}
	return nil
}

// SavePost stores post-experiment responses.
func (s *Store) SavePost(participantID string, parity protocol.Parity, responses []Response) error {
	now := time.Now().Format(time.RFC3339)
	for _, r := range responses {
		_, err := s.db.Exec(
			`INSERT INTO post_experiment_survey (timestamp, participant_id, parity, question_id, question_text, answer) VALUES (?, ?, ?, ?, ?, ?)`,
			now, participantID, string(parity), r.QuestionID, r.QuestionText, r.Answer,
		)
		if err != nil {
			return fmt.Errorf("survey store: save post: %w", err)
		}
	}
	return nil
}
