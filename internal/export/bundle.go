// Package export packages a session snapshot into an audit bundle: the event
// log, the ledger, the verifier report, any auxiliary documents, and the two
// manifests that fingerprint them.
//
// Bundles are always produced, even for a broken chain. The session manifest
// carries the trust verdict; the data is never withheld.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/manifest"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// Artifact paths inside a bundle.
const (
	EventsPath          = manifest.EventsPath
	LedgerPath          = manifest.LedgerPath
	VerifierPath        = manifest.VerifierPath
	ExportManifestPath  = "export_manifest.json"
	SessionManifestPath = "session_manifest.json"
)

var reserved = map[string]bool{
	EventsPath:          true,
	LedgerPath:          true,
	VerifierPath:        true,
	ExportManifestPath:  true,
	SessionManifestPath: true,
}

// ErrInvalidPath is returned for an auxiliary document whose path is not a
// clean relative path or collides with a core artifact, and for a session id
// that is not a single path element.
var ErrInvalidPath = errors.New("export: invalid path")

// checkSessionID reports whether id can name one bundle directory or archive.
func checkSessionID(id string) error {
	if !fs.ValidPath(id) || id == "." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: session id %q", ErrInvalidPath, id)
	}
	return nil
}

// Bundle is a fully rendered export.
type Bundle struct {
	SessionID string
	CreatedAt time.Time
	// Files lists every artifact in write order; both manifests come last.
	Files    []manifest.File
	Manifest manifest.Manifest
	Report   verifier.Report
	Session  manifest.SessionManifest
}

// File returns the content of the artifact at path.
func (b *Bundle) File(path string) ([]byte, bool) {
	for _, f := range b.Files {
		if f.Path == path {
			return f.Data, true
		}
	}
	return nil, false
}

// Option configures a Builder.
type Option func(*Builder)

// WithHasher overrides the digest primitive.
func WithHasher(h canonical.Hasher) Option {
	return func(b *Builder) { b.hasher = h }
}

// WithClock overrides the time source for document stamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithVerifierOptions passes options through to verifier.Verify.
func WithVerifierOptions(opts ...verifier.Option) Option {
	return func(b *Builder) { b.verifyOpts = append(b.verifyOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// Builder renders snapshots into bundles.
type Builder struct {
	hasher     canonical.Hasher
	now        func() time.Time
	verifyOpts []verifier.Option
	logger     *zap.Logger
}

// NewBuilder returns a Builder with SHA-256 and the wall clock.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{hasher: canonical.SHA256, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build verifies snap and renders every artifact. aux documents are added to
// the bundle and covered by the export manifest.
func (b *Builder) Build(snap ledger.Snapshot, aux ...manifest.File) (*Bundle, error) {
	for _, f := range aux {
		if !fs.ValidPath(f.Path) || f.Path == "." || reserved[f.Path] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, f.Path)
		}
	}

	now := b.now().UTC()
	opts := append([]verifier.Option{verifier.WithHasher(b.hasher)}, b.verifyOpts...)
	report := verifier.Verify(snap.Events, snap.Entries, opts...)

	eventsData, err := encodeLines(snap.Events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	entries := snap.Entries
	if entries == nil {
		entries = []ledger.Entry{}
	}
	ledgerData, err := encodeIndent(entries)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	verifierData, err := encodeIndent(verifier.NewDocument(report, now))
	if err != nil {
		return nil, fmt.Errorf("encode verifier report: %w", err)
	}

	files := []manifest.File{
		{Path: EventsPath, Data: eventsData},
		{Path: LedgerPath, Data: ledgerData},
		{Path: VerifierPath, Data: verifierData},
	}
	files = append(files, aux...)

	m, err := manifest.BuildFiles(files, b.hasher)
	if err != nil {
		return nil, err
	}
	exportData, err := encodeIndent(m.Document(now))
	if err != nil {
		return nil, fmt.Errorf("encode export manifest: %w", err)
	}
	sm := manifest.NewSessionManifest(snap.SessionID, m, report, snap.Tail(), now)
	sessionData, err := encodeIndent(sm)
	if err != nil {
		return nil, fmt.Errorf("encode session manifest: %w", err)
	}
	files = append(files,
		manifest.File{Path: ExportManifestPath, Data: exportData},
		manifest.File{Path: SessionManifestPath, Data: sessionData},
	)

	if !sm.Trusted {
		b.logger.Warn("exporting untrusted session",
			zap.String("session_id", snap.SessionID),
			zap.String("verifier_result", string(report.Result)),
			zap.Int("event_count", report.Chain.TotalEvents),
		)
	}

	return &Bundle{
		SessionID: snap.SessionID,
		CreatedAt: now,
		Files:     files,
		Manifest:  m,
		Report:    report,
		Session:   sm,
	}, nil
}

func newEncoder(buf *bytes.Buffer) *json.Encoder {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return enc
}

func encodeLines(events []ledger.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := newEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("event seq %d: %w", e.Seq, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := newEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
