package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/internal/export"
	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/metrics"
	"github.com/jmerrifield20/researchledger/internal/verifier"
)

const tracerName = "github.com/jmerrifield20/researchledger/internal/session"

var (
	// ErrNotFound is returned when no session has the requested id.
	ErrNotFound = errors.New("session: not found")
	// ErrExists is returned when creating a session whose id is taken.
	ErrExists = errors.New("session: already exists")
	// ErrInvalidID is returned for ids that cannot name a session.
	ErrInvalidID = errors.New("session: invalid id")
)

// validID bounds session ids to one safe path element; ids name export
// directories, archives and object keys.
var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// deps are shared by every session of a Manager.
type deps struct {
	builder    *export.Builder
	sinks      []export.Sink
	notifier   Notifier
	verifyOpts []verifier.Option
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithJournal persists every session ledger to j and enables Restore.
func WithJournal(j ledger.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithLedgerOptions passes options to every ledger the Manager creates.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(m *Manager) { m.ledgerOpts = append(m.ledgerOpts, opts...) }
}

// WithBuilder replaces the default export builder.
func WithBuilder(b *export.Builder) Option {
	return func(m *Manager) { m.deps.builder = b }
}

// WithSinks sets where exported bundles are stored.
func WithSinks(sinks ...export.Sink) Option {
	return func(m *Manager) { m.deps.sinks = append(m.deps.sinks, sinks...) }
}

// WithNotifier sets the export listener.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.deps.notifier = n }
}

// WithVerifierOptions configures Session.Verify.
func WithVerifierOptions(opts ...verifier.Option) Option {
	return func(m *Manager) { m.deps.verifyOpts = append(m.deps.verifyOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.deps.logger = logger }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.deps.tracer = tp.Tracer(tracerName) }
}

// Manager owns the live sessions of a process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	journal    ledger.Journal
	ledgerOpts []ledger.Option
	deps       *deps
	now        func() time.Time
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		deps: &deps{
			logger: zap.NewNop(),
			tracer: otel.Tracer(tracerName),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.deps.builder == nil {
		m.deps.builder = export.NewBuilder(
			export.WithLogger(m.deps.logger),
			export.WithVerifierOptions(m.deps.verifyOpts...),
		)
	}
	return m
}

func (m *Manager) ledgerOptions(id string) []ledger.Option {
	opts := append([]ledger.Option{ledger.WithLogger(m.deps.logger.With(zap.String("session_id", id)))}, m.ledgerOpts...)
	if m.journal != nil {
		opts = append(opts, ledger.WithJournal(m.journal))
	}
	return opts
}

// Create registers a new empty session. An empty id is replaced by a UUID.
// An id already present in the journal is taken even when not live.
func (m *Manager) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	if m.journal != nil {
		evts, _, err := m.journal.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check journal for %s: %w", id, err)
		}
		if len(evts) > 0 {
			return nil, fmt.Errorf("%w: %s (journaled)", ErrExists, id)
		}
	}
	s := newSession(id, m.now().UTC(), ledger.New(id, m.ledgerOptions(id)...), m.deps)
	m.sessions[id] = s
	metrics.SetSessionsActive(len(m.sessions))

	m.deps.logger.Info("session created", zap.String("session_id", id))
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns the ids of all live sessions in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Forget drops a session from memory. Journaled rows are kept.
func (m *Manager) Forget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	metrics.SetSessionsActive(len(m.sessions))
	return nil
}

// Restore reloads every journaled session not already live and returns how
// many were restored. Sessions that never recorded an event have no rows and
// are not restored. Restored chains are re-verified and a break is logged.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.journal == nil {
		return 0, nil
	}
	ids, err := m.journal.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list journaled sessions: %w", err)
	}

	restored := 0
	for _, id := range ids {
		if !validID.MatchString(id) {
			m.deps.logger.Warn("skipping journaled session with invalid id", zap.String("session_id", id))
			continue
		}
		if _, err := m.Get(id); err == nil {
			continue
		}
		l, err := ledger.Restore(ctx, id, m.journal, m.ledgerOptions(id)...)
		if err != nil {
			return restored, err
		}
		s := newSession(id, m.now().UTC(), l, m.deps)

		m.mu.Lock()
		if _, ok := m.sessions[id]; ok {
			m.mu.Unlock()
			continue
		}
		m.sessions[id] = s
		metrics.SetSessionsActive(len(m.sessions))
		m.mu.Unlock()
		restored++

		if r := s.Verify(ctx); r.Broken() {
			m.deps.logger.Error("restored session has a broken chain",
				zap.String("session_id", id),
				zap.Int("broken_at", *r.Chain.BrokenAt),
			)
		}
	}

	m.deps.logger.Info("sessions restored", zap.Int("count", restored))
	return restored, nil
}
