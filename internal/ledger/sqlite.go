package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// SQLiteJournal persists ledger pairs in an embedded SQLite database, for
// study stations that run without a database server.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal opens (or creates) the database file at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer connection keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	j, err := NewSQLiteJournal(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// NewSQLiteJournal wraps an open database and creates the table if missing.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("migrate sqlite journal: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		session_id    TEXT    NOT NULL,
		seq           INTEGER NOT NULL,
		event_id      TEXT    NOT NULL,
		event_type    TEXT    NOT NULL,
		timestamp     TEXT    NOT NULL,
		payload       TEXT    NOT NULL,
		content_hash  TEXT    NOT NULL,
		previous_hash TEXT    NOT NULL,
		chain_hash    TEXT    NOT NULL,
		PRIMARY KEY (session_id, seq)
	);`
	_, err := j.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Write implements Journal.
func (j *SQLiteJournal) Write(ctx context.Context, sessionID string, evt Event, entry Entry) error {
	payload, err := evt.Payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `INSERT INTO ledger_entries (
		session_id, seq, event_id, event_type, timestamp, payload,
		content_hash, previous_hash, chain_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, entry.Seq, evt.ID, evt.Type, evt.Timestamp, string(payload),
		entry.ContentHash, entry.PreviousHash, entry.ChainHash,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: session %s seq %d", ErrDuplicateSeq, sessionID, entry.Seq)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Load implements Journal.
func (j *SQLiteJournal) Load(ctx context.Context, sessionID string) ([]Event, []Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, event_id, event_type, timestamp, payload,
		       content_hash, previous_hash, chain_hash
		FROM ledger_entries
		WHERE session_id = ?
		ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	var entries []Entry
	for rows.Next() {
		var evt Event
		var entry Entry
		var payload string
		if err := rows.Scan(
			&entry.Seq, &evt.ID, &evt.Type, &evt.Timestamp, &payload,
			&entry.ContentHash, &entry.PreviousHash, &entry.ChainHash,
		); err != nil {
			return nil, nil, fmt.Errorf("scan ledger row: %w", err)
		}
		if evt.Payload, err = canonical.Parse([]byte(payload)); err != nil {
			return nil, nil, fmt.Errorf("decode payload of seq %d: %w", entry.Seq, err)
		}
		evt.Seq = entry.Seq
		entry.EventID = evt.ID
		entry.EventType = evt.Type
		entry.Timestamp = evt.Timestamp
		events = append(events, evt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return events, entries, nil
}

// Sessions implements Journal.
func (j *SQLiteJournal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM ledger_entries ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
