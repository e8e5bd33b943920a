// Package integrity re-verifies the chains stored in a ledger journal on a
// schedule. Live ledgers only ever see their own appends; the monitor catches
// rows edited at rest in the backing database.
package integrity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/verifier"
)

// Status of one session's stored chain.
const (
	StatusIntact = "intact"
	StatusBroken = "broken"
	StatusError  = "error"
)

// Config holds monitor configuration.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// AlertFunc is called once when a session's stored chain becomes broken.
type AlertFunc func(ctx context.Context, sessionID string, report verifier.Report)

// BrokenGaugeFunc receives the number of broken sessions after each sweep.
type BrokenGaugeFunc func(n int)

// Result is the outcome of checking one session.
type Result struct {
	SessionID string
	Status    string
	BrokenAt  *int
	Err       error
}

// Monitor sweeps every journaled session.
type Monitor struct {
	journal    ledger.Journal
	verifyOpts []verifier.Option
	cfg        Config
	onAlert    AlertFunc
	onGauge    BrokenGaugeFunc
	logger     *zap.Logger

	mu     sync.Mutex
	status map[string]string
}

// New creates a Monitor over j.
func New(j ledger.Journal, cfg Config, logger *zap.Logger, opts ...verifier.Option) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	return &Monitor{
		journal:    j,
		verifyOpts: opts,
		cfg:        cfg,
		logger:     logger,
		status:     make(map[string]string),
	}
}

// SetAlert configures the broken-chain callback.
func (m *Monitor) SetAlert(fn AlertFunc) {
	m.onAlert = fn
}

// SetBrokenGauge configures the gauge callback.
func (m *Monitor) SetBrokenGauge(fn BrokenGaugeFunc) {
	m.onGauge = fn
}

// Run sweeps every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("integrity: sweep", zap.Error(err))
			}
		}
	}
}

// Sweep checks every journaled session once with bounded concurrency and
// returns the per-session results in journal order.
func (m *Monitor) Sweep(ctx context.Context) ([]Result, error) {
	ids, err := m.journal.Sessions(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = m.check(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	broken := 0
	for _, r := range results {
		if r.Status == StatusBroken {
			broken++
		}
	}
	if m.onGauge != nil {
		m.onGauge(broken)
	}
	return results, nil
}

func (m *Monitor) check(ctx context.Context, id string) Result {
	events, entries, err := m.journal.Load(ctx, id)
	if err != nil {
		m.logger.Warn("integrity: load session", zap.String("session_id", id), zap.Error(err))
		return Result{SessionID: id, Status: StatusError, Err: err}
	}

	report := verifier.Verify(events, entries, m.verifyOpts...)
	res := Result{SessionID: id, Status: StatusIntact}
	if report.Broken() {
		res.Status = StatusBroken
		res.BrokenAt = report.Chain.BrokenAt
	}

	m.mu.Lock()
	prev := m.status[id]
	m.status[id] = res.Status
	m.mu.Unlock()

	switch {
	case res.Status == StatusBroken && prev != StatusBroken:
		// Transition: intact → broken
		m.logger.Warn("integrity: stored chain broken",
			zap.String("session_id", id),
			zap.Intp("broken_at", res.BrokenAt),
		)
		if m.onAlert != nil {
			m.onAlert(ctx, id, report)
		}
	case res.Status == StatusIntact && prev == StatusBroken:
		m.logger.Info("integrity: stored chain intact again", zap.String("session_id", id))
	}
	return res
}

// Status returns the last observed status of a session, or "" if it has not
// been swept yet.
func (m *Monitor) Status(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[sessionID]
}
