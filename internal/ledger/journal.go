package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateSeq is returned by a Journal when a seq is written twice.
var ErrDuplicateSeq = errors.New("ledger: seq already journaled")

// Journal persists committed Event/Entry pairs. Write is called inside the
// append gate, so implementations see pairs of one session in seq order.
type Journal interface {
	// Write stores one committed pair. A failed write aborts the append.
	Write(ctx context.Context, sessionID string, evt Event, entry Entry) error

	// Load returns the events and entries of a session in seq order.
	Load(ctx context.Context, sessionID string) ([]Event, []Entry, error)

	// Sessions returns the ids of all sessions with at least one pair.
	Sessions(ctx context.Context) ([]string, error)
}

type journalRow struct {
	event Event
	entry Entry
}

// MemoryJournal is an in-process Journal.
type MemoryJournal struct {
	mu   sync.RWMutex
	rows map[string][]journalRow
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{rows: make(map[string][]journalRow)}
}

// Write implements Journal.
func (j *MemoryJournal) Write(_ context.Context, sessionID string, evt Event, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows := j.rows[sessionID]
	if entry.Seq != int64(len(rows))+1 {
		return fmt.Errorf("%w: session %s seq %d (have %d)", ErrDuplicateSeq, sessionID, entry.Seq, len(rows))
	}
	j.rows[sessionID] = append(rows, journalRow{event: evt, entry: entry})
	return nil
}

// Load implements Journal.
func (j *MemoryJournal) Load(_ context.Context, sessionID string) ([]Event, []Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rows := j.rows[sessionID]
	events := make([]Event, len(rows))
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		events[i] = r.event
		entries[i] = r.entry
	}
	return events, entries, nil
}

// Sessions implements Journal.
func (j *MemoryJournal) Sessions(_ context.Context) ([]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	ids := make([]string, 0, len(j.rows))
	for id := range j.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
