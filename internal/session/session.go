// Package session owns the per-session state around a ledger: the
// started-once lifecycle marker, verification and export with their tracing
// and metrics.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/internal/export"
	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/manifest"
	"github.com/jmerrifield20/researchledger/internal/metrics"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// Lifecycle event types.
const (
	EventSessionStarted  = "SESSION_STARTED"
	EventFinalAssessment = "FINAL_ASSESSMENT"
)

// ErrAlreadyStarted is returned by Start after the session has started.
var ErrAlreadyStarted = errors.New("session: already started")

// Notifier is told about every completed export.
type Notifier interface {
	ExportCompleted(ctx context.Context, sessionID, rootHash string, trusted bool, location string)
}

// Session is one study session and its ledger.
type Session struct {
	id        string
	createdAt time.Time
	ledger    *ledger.Ledger
	started   atomic.Bool
	deps      *deps
}

func newSession(id string, createdAt time.Time, l *ledger.Ledger, d *deps) *Session {
	s := &Session{id: id, createdAt: createdAt, ledger: l, deps: d}
	s.started.Store(l.HasEventType(EventSessionStarted))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created or restored.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Started reports whether SESSION_STARTED has been recorded.
func (s *Session) Started() bool { return s.started.Load() }

// Ledger returns the session ledger.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Snapshot returns a consistent copy of the session's events and entries.
func (s *Session) Snapshot() ledger.Snapshot { return s.ledger.Snapshot() }

// Start records SESSION_STARTED. It succeeds at most once per session.
func (s *Session) Start(ctx context.Context, payload canonical.Value) (ledger.Entry, error) {
	if !s.started.CompareAndSwap(false, true) {
		return ledger.Entry{}, ErrAlreadyStarted
	}
	entry, err := s.append(ctx, EventSessionStarted, payload)
	if err != nil {
		s.started.Store(false)
		return ledger.Entry{}, err
	}
	return entry, nil
}

// Record appends an event of eventType. SESSION_STARTED is routed through
// Start so it can only ever be recorded once.
func (s *Session) Record(ctx context.Context, eventType string, payload canonical.Value) (ledger.Entry, error) {
	if eventType == EventSessionStarted {
		return s.Start(ctx, payload)
	}
	return s.append(ctx, eventType, payload)
}

func (s *Session) append(ctx context.Context, eventType string, payload canonical.Value) (ledger.Entry, error) {
	ctx, span := s.deps.tracer.Start(ctx, "session.Record", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("event.type", eventType),
	))
	defer span.End()

	start := time.Now()
	entry, err := s.ledger.Append(ctx, eventType, payload)
	metrics.RecordAppend(err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return ledger.Entry{}, fmt.Errorf("record %s: %w", eventType, err)
	}
	span.SetAttributes(attribute.Int64("ledger.seq", entry.Seq))
	return entry, nil
}

// Verify runs the chain verifier over a snapshot of the session.
func (s *Session) Verify(ctx context.Context) verifier.Report {
	_, span := s.deps.tracer.Start(ctx, "session.Verify", trace.WithAttributes(
		attribute.String("session.id", s.id),
	))
	defer span.End()

	snap := s.ledger.Snapshot()
	r := verifier.Verify(snap.Events, snap.Entries, s.deps.verifyOpts...)
	metrics.RecordVerification(string(r.Result))
	span.SetAttributes(
		attribute.String("verifier.result", string(r.Result)),
		attribute.Int("chain.valid_links", r.Chain.ValidLinks),
	)
	if r.Broken() {
		span.SetStatus(codes.Error, "chain broken")
		s.deps.logger.Warn("chain broken",
			zap.String("session_id", s.id),
			zap.Int("broken_at", *r.Chain.BrokenAt),
		)
	}
	return r
}

// Export renders the session into a bundle, stores it in every configured
// sink and notifies listeners. The bundle is returned even when the chain is
// broken; its session manifest then carries trusted=false.
func (s *Session) Export(ctx context.Context, aux ...manifest.File) (*export.Bundle, []string, error) {
	ctx, span := s.deps.tracer.Start(ctx, "session.Export", trace.WithAttributes(
		attribute.String("session.id", s.id),
	))
	defer span.End()

	bundle, err := s.deps.builder.Build(s.ledger.Snapshot(), aux...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return nil, nil, fmt.Errorf("build bundle for session %s: %w", s.id, err)
	}
	metrics.RecordExport(bundle.Session.Trusted)
	span.SetAttributes(
		attribute.String("export.root_hash", bundle.Manifest.RootHash),
		attribute.Bool("export.trusted", bundle.Session.Trusted),
	)

	var locations []string
	for _, sink := range s.deps.sinks {
		loc, err := sink.Put(ctx, bundle)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sink failed")
			return bundle, locations, fmt.Errorf("store bundle for session %s: %w", s.id, err)
		}
		locations = append(locations, loc)
	}

	s.deps.logger.Info("session exported",
		zap.String("session_id", s.id),
		zap.String("root_hash", bundle.Manifest.RootHash),
		zap.Bool("trusted", bundle.Session.Trusted),
		zap.Strings("locations", locations),
	)

	if s.deps.notifier != nil {
		location := ""
		if len(locations) > 0 {
			location = locations[0]
		}
		s.deps.notifier.ExportCompleted(ctx, s.id, bundle.Manifest.RootHash, bundle.Session.Trusted, location)
	}
	return bundle, locations, nil
}
