package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const queueSize = 256

// SQLiteLogger persists entries to a local SQLite database from a single
// writer goroutine fed by a bounded queue. When the queue is full, entries
// are dropped with a warning rather than blocking the simulation.
type SQLiteLogger struct {
	db      *sql.DB
	queue   chan Entry
	done    chan struct{}
	stopped chan struct{}
	closed  sync.Once
	logger  *slog.Logger
}

// NewSQLiteLogger opens (or creates) the audit database and starts the
// writer goroutine.
func NewSQLiteLogger(path string, logger *slog.Logger) (*SQLiteLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: wal: %w", err)
	}

	l := &SQLiteLogger{
		db:      db,
		queue:   make(chan Entry, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	go l.run()
	return l, nil
}

func (l *SQLiteLogger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS action_logs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			stage          INTEGER NOT NULL,
			action_type    TEXT NOT NULL,
			ticket_id      TEXT NOT NULL DEFAULT '',
			details        TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_action_logs_participant ON action_logs(participant_id);
		CREATE INDEX IF NOT EXISTS idx_action_logs_timestamp ON action_logs(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Log enqueues an entry. It never blocks; a full queue drops the entry.
func (l *SQLiteLogger) Log(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("audit queue full, dropping entry", "action", e.Action, "participant", e.ParticipantID)
	}
}

func (l *SQLiteLogger) run() {
	defer close(l.stopped)
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *SQLiteLogger) write(e Entry) {
	details, _ := json.Marshal(e.Details)
	_, err := l.db.Exec(
		`INSERT INTO action_logs (timestamp, participant_id, stage, action_type, ticket_id, details) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.Format(time.RFC3339Nano), e.ParticipantID, e.Stage, e.Action, e.TicketID, string(details),
	)
	if err != nil {
		l.logger.Error("audit write failed", "action", e.Action, "error", err)
	}
}

// Recent returns the newest entries, newest first.
func (l *SQLiteLogger) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT timestamp, participant_id, stage, action_type, ticket_id, details FROM action_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, details string
		if err := rows.Scan(&ts, &e.ParticipantID, &e.Stage, &e.Action, &e.TicketID, &details); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		json.Unmarshal([]byte(details), &e.Details)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DB returns the underlying handle so sibling stores (surveys) can share
// one database file.
func (l *SQLiteLogger) DB() *sql.DB { return l.db }

// Close stops the writer, waits for queued entries to drain, and closes
// the database.
func (l *SQLiteLogger) Close() error {
	l.closed.Do(func() { close(l.done) })
	<-l.stopped
	return l.db.Close()
}
