package manifest

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// SessionSchemaTag identifies the session manifest document format.
const SessionSchemaTag = "research-session-manifest/v1"

// Artifact paths with a convenience checksum in the session manifest.
const (
	EventsPath   = "events.jsonl"
	LedgerPath   = "ledger.json"
	VerifierPath = "verifier.json"
)

// Checksums repeats the hashes of the core artifacts.
type Checksums struct {
	Events   string `json:"events"`
	Ledger   string `json:"ledger"`
	Verifier string `json:"verifier"`
}

// SessionManifest is the top-level document of an export bundle.
type SessionManifest struct {
	SchemaTag      string          `json:"schemaTag"`
	SessionID      string          `json:"sessionId"`
	CreatedAt      string          `json:"createdAt"`
	ExportRootHash string          `json:"exportRootHash"`
	Trusted        bool            `json:"trusted"`
	VerifierResult verifier.Status `json:"verifierResult"`
	ClockTrust     string          `json:"clockTrust"`
	EventCount     int             `json:"eventCount"`
	ChainTail      string          `json:"chainTail"`
	Checksums      Checksums       `json:"checksums"`
}

// NewSessionManifest ties the bundle fingerprint m to the verification
// report. The trust claim is withheld whenever the chain is broken or empty;
// the bundle itself is always described.
func NewSessionManifest(sessionID string, m Manifest, r verifier.Report, chainTail string, now time.Time) SessionManifest {
	sm := SessionManifest{
		SchemaTag:      SessionSchemaTag,
		SessionID:      sessionID,
		CreatedAt:      now.UTC().Format(ledger.TimestampLayout),
		ExportRootHash: m.RootHash,
		Trusted:        r.Trusted(),
		VerifierResult: r.Result,
		ClockTrust:     verifier.ClockTrust,
		EventCount:     r.Chain.TotalEvents,
		ChainTail:      chainTail,
	}
	if e, ok := m.Lookup(EventsPath); ok {
		sm.Checksums.Events = e.Hash
	}
	if e, ok := m.Lookup(LedgerPath); ok {
		sm.Checksums.Ledger = e.Hash
	}
	if e, ok := m.Lookup(VerifierPath); ok {
		sm.Checksums.Verifier = e.Hash
	}
	return sm
}

// ErrMismatch is returned by Check when a bundle does not match its manifest.
var ErrMismatch = errors.New("manifest: bundle does not match")

// Check re-derives every entry and the root hash of m from files. Files not
// listed in m are ignored.
func Check(m Manifest, files map[string][]byte, h canonical.Hasher) error {
	var errs []error
	for _, want := range m.Entries {
		data, ok := files[want.Path]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s missing", ErrMismatch, want.Path))
			continue
		}
		sum, err := canonical.HashString(h, string(data))
		if err != nil {
			return fmt.Errorf("hash %s: %w", want.Path, err)
		}
		if sum != want.Hash || len(data) != want.ByteLength {
			errs = append(errs, fmt.Errorf("%w: %s content changed", ErrMismatch, want.Path))
		}
	}

	root, err := RootHash(m.Entries, h)
	if err != nil {
		return err
	}
	if m.RootHash != "" && root != m.RootHash {
		errs = append(errs, fmt.Errorf("%w: root hash %s, recorded %s", ErrMismatch, root, m.RootHash))
	}
	return errors.Join(errs...)
}

// FromDocument reconstructs the manifest described by an export manifest
// document, recomputing its root hash.
func FromDocument(d Document, h canonical.Hasher) (Manifest, error) {
	entries := slices.Clone(d.Entries)
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	root, err := RootHash(entries, h)
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{Entries: entries, RootHash: root}, nil
}
