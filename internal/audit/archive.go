package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/astarch-code/shiftdesk/pkg/protocol"
)

// Archiver writes a compressed export of a finished session so experiment
// data survives the in-memory session's teardown.
type Archiver struct {
	dir    string
	logger *slog.Logger
}

// NewArchiver creates the archive directory if needed.
func NewArchiver(dir string, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir %s: %w", dir, err)
	}
	return &Archiver{dir: dir, logger: logger}, nil
}

// sessionExport is the archived document.
type sessionExport struct {
	ParticipantID string             `json:"participant_id"`
	Parity        protocol.Parity    `json:"parity"`
	Stage         protocol.Stage     `json:"stage"`
	ArchivedAt    time.Time          `json:"archived_at"`
	Tickets       []*protocol.Ticket `json:"tickets"`
}

// Archive writes the session's tickets as zstd-compressed JSON. Failures
// are logged, never propagated: archiving must not block a reset.
func (a *Archiver) Archive(participantID string, parity protocol.Parity, stage protocol.Stage, tickets []*protocol.Ticket) {
	export := sessionExport{
		ParticipantID: participantID,
		Parity:        parity,
		Stage:         stage,
		ArchivedAt:    time.Now(),
		Tickets:       tickets,
	}

	name := fmt.Sprintf("%s-%d.json.zst", participantID, export.ArchivedAt.UnixMilli())
	path := filepath.Join(a.dir, name)

	f, err := os.Create(path)
	if err != nil {
		a.logger.Error("archive create failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		a.logger.Error("archive encoder failed", "path", path, "error", err)
		return
	}
	if err := json.NewEncoder(enc).Encode(export); err != nil {
		enc.Close()
		a.logger.Error("archive encode failed", "path", path, "error", err)
		return
	}
	if err := enc.Close(); err != nil {
		a.logger.Error("archive flush failed", "path", path, "error", err)
		return
	}
	a.logger.Info("session archived", "participant", participantID, "tickets", len(tickets), "path", path)
}
