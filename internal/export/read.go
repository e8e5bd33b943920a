package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/manifest"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// Contents is a bundle read back from storage.
type Contents struct {
	Snapshot ledger.Snapshot
	// Files holds every regular file of the bundle keyed by slash path.
	Files          map[string][]byte
	ExportManifest *manifest.Document
	Session        *manifest.SessionManifest
}

// ReadBundle reads a bundle directory written by DirSink.
func ReadBundle(dir string) (*Contents, error) {
	return ReadBundleFS(os.DirFS(dir))
}

// ReadZip reads a bundle archive written by WriteZip.
func ReadZip(r io.ReaderAt, size int64) (*Contents, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return ReadBundleFS(zr)
}

// ReadBundleFS reads a bundle from any file system rooted at the bundle.
func ReadBundleFS(fsys fs.FS) (*Contents, error) {
	c := &Contents{Files: make(map[string][]byte)}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		c.Files[p] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	events, ok := c.Files[EventsPath]
	if !ok {
		return nil, fmt.Errorf("read bundle: %s: %w", EventsPath, fs.ErrNotExist)
	}
	if c.Snapshot.Events, err = decodeLines(events); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EventsPath, err)
	}
	ledgerData, ok := c.Files[LedgerPath]
	if !ok {
		return nil, fmt.Errorf("read bundle: %s: %w", LedgerPath, fs.ErrNotExist)
	}
	if err := json.Unmarshal(ledgerData, &c.Snapshot.Entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", LedgerPath, err)
	}

	if data, ok := c.Files[ExportManifestPath]; ok {
		var doc manifest.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ExportManifestPath, err)
		}
		c.ExportManifest = &doc
	}
	if data, ok := c.Files[SessionManifestPath]; ok {
		var sm manifest.SessionManifest
		if err := json.Unmarshal(data, &sm); err != nil {
			return nil, fmt.Errorf("decode %s: %w", SessionManifestPath, err)
		}
		c.Session = &sm
		c.Snapshot.SessionID = sm.SessionID
	}
	return c, nil
}

func decodeLines(data []byte) ([]ledger.Event, error) {
	var events []ledger.Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e ledger.Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
}

// Audit is the result of re-checking a bundle offline.
type Audit struct {
	Report verifier.Report
	// ManifestErr is non-nil when an artifact or the root hash no longer
	// matches the recorded manifests.
	ManifestErr error
	RootHash    string
}

// OK reports whether the chain is trusted and the manifests match.
func (a Audit) OK() bool {
	return a.Report.Trusted() && a.ManifestErr == nil
}

var (
	// ErrNoManifest is reported when a bundle carries no export manifest.
	ErrNoManifest = errors.New("export: bundle has no export manifest")
	// ErrNoSessionManifest is reported when a bundle carries no session manifest.
	ErrNoSessionManifest = errors.New("export: bundle has no session manifest")
)

// Reverify re-runs the verifier over c and checks every recorded hash.
func Reverify(c *Contents, h canonical.Hasher, opts ...verifier.Option) Audit {
	if h == nil {
		h = canonical.SHA256
	}
	a := Audit{
		Report: verifier.Verify(c.Snapshot.Events, c.Snapshot.Entries,
			append([]verifier.Option{verifier.WithHasher(h)}, opts...)...),
	}
	if c.ExportManifest == nil {
		a.ManifestErr = ErrNoManifest
		return a
	}

	m, err := manifest.FromDocument(*c.ExportManifest, h)
	if err != nil {
		a.ManifestErr = err
		return a
	}
	a.RootHash = m.RootHash

	var errs []error
	if err := manifest.Check(m, c.Files, h); err != nil {
		errs = append(errs, err)
	}
	switch {
	case c.Session == nil:
		errs = append(errs, ErrNoSessionManifest)
	case c.Session.ExportRootHash != m.RootHash:
		errs = append(errs, fmt.Errorf("%w: session manifest root %s, recomputed %s",
			manifest.ErrMismatch, c.Session.ExportRootHash, m.RootHash))
	}
	for p := range c.Files {
		if _, listed := m.Lookup(p); !listed && !reserved[p] && !strings.HasPrefix(p, ".") {
			errs = append(errs, fmt.Errorf("%w: %s not listed", manifest.ErrMismatch, p))
		}
	}
	a.ManifestErr = errors.Join(errs...)
	return a
}
