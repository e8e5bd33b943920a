package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a primary key conflict.
const uniqueViolation = "23505"

// PostgresJournal persists ledger pairs to the ledger_entries table created by
// migrations/001_ledger.up.sql. It implements the Journal interface.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresJournal creates a PostgresJournal backed by the given pool.
func NewPostgresJournal(pool *pgxpool.Pool, logger *zap.Logger) *PostgresJournal {
	return &PostgresJournal{pool: pool, logger: logger}
}

// Write implements Journal. The (session_id, seq) primary key rejects a second
// writer racing on the same session.
func (j *PostgresJournal) Write(ctx context.Context, sessionID string, evt Event, entry Entry) error {
	payload, err := evt.Payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = j.pool.Exec(ctx,
		`INSERT INTO ledger_entries (
			session_id, seq, event_id, event_type, timestamp, payload,
			content_hash, previous_hash, chain_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sessionID, entry.Seq, evt.ID, evt.Type, evt.Timestamp, string(payload),
		entry.ContentHash, entry.PreviousHash, entry.ChainHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: session %s seq %d", ErrDuplicateSeq, sessionID, entry.Seq)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	j.logger.Debug("ledger entry journaled",
		zap.String("session_id", sessionID),
		zap.Int64("seq", entry.Seq),
	)
	return nil
}

// Load implements Journal.
func (j *PostgresJournal) Load(ctx context.Context, sessionID string) ([]Event, []Entry, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT seq, event_id, event_type, timestamp, payload,
		        content_hash, previous_hash, chain_hash
		 FROM ledger_entries WHERE session_id = $1 ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

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
func (j *PostgresJournal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.pool.Query(ctx,
		"SELECT DISTINCT session_id FROM ledger_entries ORDER BY session_id")
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

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
