// Package participant assigns and persists participant identities. Parity
// alternates with registration order: the Nth registered participant is odd
// when N is odd. Parity is fixed for the participant's lifetime and decides
// the experimental track.
package participant

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Participant is a registered participant identity.
type Participant struct {
	ID     string          `json:"participant_id"`
	Parity protocol.Parity `json:"parity"`
	IsNew  bool            `json:"is_new"`
}

// Store persists participants in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the participant database.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("participant store: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("participant store: wal: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS participants (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid         TEXT UNIQUE NOT NULL,
			parity       TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			last_seen_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("participant store: migrate: %w", err)
	}
	return nil
}

// GetOrCreate returns the participant with the given ID, creating a new one
// when the ID is empty or unknown. New participants get parity from their
// registration order.
func (s *Store) GetOrCreate(id string) (Participant, error) {
	if id != "" {
		p, err := s.Get(id)
		if err == nil {
			return p, nil
		}
		if err != sql.ErrNoRows {
			return Participant{}, err
		}
	}

	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().Format(time.RFC3339)
	res, err := s.db.Exec(
		`INSERT INTO participants (uuid, parity, created_at, last_seen_at) VALUES (?, '', ?, ?)`,
		id, now, now,
	)
	if err != nil {
		return Participant{}, fmt.Errorf("participant store: insert: %w", err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return Participant{}, fmt.Errorf("participant store: rowid: %w", err)
	}

	parity := protocol.ParityEven
	if rowid%2 == 1 {
		parity = protocol.ParityOdd
	}
	if _, err := s.db.Exec(`UPDATE participants SET parity = ? WHERE id = ?`, string(parity), rowid); err != nil {
		return Participant{}, fmt.Errorf("participant store: set parity: %w", err)
	}

	s.logger.Info("participant created", "participant", id, "parity", parity)
	return Participant{ID: id, Parity: parity, IsNew: true}, nil
}

// Get returns a known participant and refreshes its last-seen timestamp.
// Unknown IDs return sql.ErrNoRows.
func (s *Store) Get(id string) (Participant, error) {
	var parity string
	err := s.db.QueryRow(`SELECT parity FROM participants WHERE uuid = ?`, id).Scan(&parity)
	if err != nil {
		if err == sql.ErrNoRows {
			return Participant{}, err
		}
		return Participant{}, fmt.Errorf("participant store: get: %w", err)
	}
	s.db.Exec(`UPDATE participants SET last_seen_at = ? WHERE uuid = ?`, time.Now().Format(time.RFC3339), id)
	return Participant{ID: id, Parity: protocol.Parity(parity)}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
