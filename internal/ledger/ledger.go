package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

var (
	// ErrEmptyType is returned when Append is called without an event type.
	ErrEmptyType = errors.New("ledger: event type must not be empty")
	// ErrPayloadNotObject is returned when a payload is neither an object nor null.
	ErrPayloadNotObject = errors.New("ledger: payload must be an object")
	// ErrHashUnavailable is returned when the digest primitive fails. The
	// ledger is left exactly as it was.
	ErrHashUnavailable = canonical.ErrHashUnavailable
	// ErrCorruptJournal is returned by Restore when journal rows do not pair up.
	ErrCorruptJournal = errors.New("ledger: journal events and entries do not match")
)

// Snapshot is a consistent copy of the event store and ledger.
type Snapshot struct {
	SessionID string
	Events    []Event
	Entries   []Entry
}

// Tail returns the chain hash of the last entry, or GenesisHash when empty.
func (s Snapshot) Tail() string {
	if len(s.Entries) == 0 {
		return GenesisHash
	}
	return s.Entries[len(s.Entries)-1].ChainHash
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithHasher overrides the digest primitive.
func WithHasher(h canonical.Hasher) Option {
	return func(l *Ledger) { l.hasher = h }
}

// WithIDGenerator overrides the event id generator.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

// WithJournal mirrors every committed pair to j before it becomes visible.
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithOnAppend registers a callback invoked after each committed append.
func WithOnAppend(fn func(Entry)) Option {
	return func(l *Ledger) { l.onAppend = fn }
}

// Ledger is the append-only hash chain of one session together with the event
// store it references.
type Ledger struct {
	sessionID string

	// gate admits one Append at a time in arrival order.
	gate *semaphore.Weighted

	// mu guards events and entries; it is held only for the final commit and
	// for reads, never across hashing.
	mu      sync.RWMutex
	events  EventStore
	entries []Entry

	now      func() time.Time
	hasher   canonical.Hasher
	newID    func() string
	journal  Journal
	logger   *zap.Logger
	onAppend func(Entry)
}

// New creates an empty ledger for sessionID.
func New(sessionID string, opts ...Option) *Ledger {
	l := &Ledger{
		sessionID: sessionID,
		gate:      semaphore.NewWeighted(1),
		now:       time.Now,
		hasher:    canonical.SHA256,
		newID:     func() string { return uuid.New().String() },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore rebuilds the ledger of sessionID from journal rows. The restored
// chain is taken as recorded; run the verifier over a Snapshot to check it.
func Restore(ctx context.Context, sessionID string, j Journal, opts ...Option) (*Ledger, error) {
	events, entries, err := j.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load journal for session %s: %w", sessionID, err)
	}
	if len(events) != len(entries) {
		return nil, fmt.Errorf("%w: %d events, %d entries", ErrCorruptJournal, len(events), len(entries))
	}
	l := New(sessionID, append(opts, WithJournal(j))...)
	for _, e := range events {
		l.events.Append(e)
	}
	l.entries = append(l.entries, entries...)
	return l, nil
}

// SessionID returns the id of the owning session.
func (l *Ledger) SessionID() string { return l.sessionID }

// Append records a new event and extends the chain by exactly one entry.
//
// ctx only bounds the wait for earlier appends to finish; once admitted the
// append runs to completion. On any failure nothing is committed.
func (l *Ledger) Append(ctx context.Context, eventType string, payload canonical.Value) (Entry, error) {
	if eventType == "" {
		return Entry{}, ErrEmptyType
	}
	switch payload.Kind() {
	case canonical.KindNull:
		payload = canonical.Object()
	case canonical.KindObject:
	default:
		return Entry{}, fmt.Errorf("%w: got %s", ErrPayloadNotObject, payload.Kind())
	}

	if err := l.gate.Acquire(ctx, 1); err != nil {
		return Entry{}, fmt.Errorf("wait for append gate: %w", err)
	}
	defer l.gate.Release(1)

	// Only gated callers write, so the tail cannot move under us.
	l.mu.RLock()
	seq := int64(len(l.entries)) + 1
	prev := GenesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].ChainHash
	}
	l.mu.RUnlock()

	evt := Event{
		ID:        l.newID(),
		Seq:       seq,
		Type:      eventType,
		Timestamp: l.now().UTC().Format(TimestampLayout),
		Payload:   payload,
	}

	contentHash, err := evt.ContentHash(l.hasher)
	if err != nil {
		return Entry{}, fmt.Errorf("append seq %d: %w", seq, err)
	}
	chainHash, err := ChainHash(l.hasher, prev, contentHash, evt.Timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("append seq %d: %w", seq, err)
	}

	entry := Entry{
		Seq:          seq,
		EventID:      evt.ID,
		EventType:    evt.Type,
		Timestamp:    evt.Timestamp,
		ContentHash:  contentHash,
		PreviousHash: prev,
		ChainHash:    chainHash,
	}

	if l.journal != nil {
		if err := l.journal.Write(context.WithoutCancel(ctx), l.sessionID, evt, entry); err != nil {
			return Entry{}, fmt.Errorf("journal seq %d: %w", seq, err)
		}
	}

	l.mu.Lock()
	l.events.Append(evt)
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Debug("ledger entry appended",
		zap.String("session_id", l.sessionID),
		zap.Int64("seq", entry.Seq),
		zap.String("event_type", entry.EventType),
		zap.String("chain_hash", entry.ChainHash),
	)
	if l.onAppend != nil {
		l.onAppend(entry)
	}
	return entry, nil
}

// Snapshot returns a consistent copy of the events and entries.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return Snapshot{
		SessionID: l.sessionID,
		Events:    l.events.All(),
		Entries:   entries,
	}
}

// Len returns the number of committed entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Tail returns the chain hash of the most recent entry, or GenesisHash.
func (l *Ledger) Tail() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return GenesisHash
	}
	return l.entries[len(l.entries)-1].ChainHash
}

// Entry returns the entry with the given 1-based seq.
func (l *Ledger) Entry(seq int64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 1 || seq > int64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[seq-1], true
}

// Event returns the event with the given 1-based seq.
func (l *Ledger) Event(seq int64) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events.At(int(seq - 1))
}

// HasEventType reports whether any committed event has the given type.
func (l *Ledger) HasEventType(eventType string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.events.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}
