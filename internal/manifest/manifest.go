// Package manifest fingerprints an export bundle: one hash and byte length per
// artifact plus a single root hash over the sorted entry list.
package manifest

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// SchemaTag identifies the export manifest document format.
const SchemaTag = "research-export-manifest/v1"

var (
	// ErrDuplicatePath is returned when two files share a path.
	ErrDuplicatePath = errors.New("manifest: duplicate path")
	// ErrEmptyPath is returned for a file without a path.
	ErrEmptyPath = errors.New("manifest: empty path")
)

// Entry describes one artifact of the bundle.
type Entry struct {
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	ByteLength int    `json:"byteLength"`
}

// File is a named artifact.
type File struct {
	Path string
	Data []byte
}

// Manifest is the computed fingerprint of a bundle.
type Manifest struct {
	Entries  []Entry
	RootHash string
}

// Build hashes every file and derives the root hash. The result depends only
// on the set of paths and contents, never on the order they were supplied in.
func Build(files map[string][]byte, h canonical.Hasher) (Manifest, error) {
	list := make([]File, 0, len(files))
	for path, data := range files {
		list = append(list, File{Path: path, Data: data})
	}
	return BuildFiles(list, h)
}

// BuildFiles is Build over an ordered list; duplicate paths are rejected.
func BuildFiles(files []File, h canonical.Hasher) (Manifest, error) {
	seen := make(map[string]bool, len(files))
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if f.Path == "" {
			return Manifest{}, ErrEmptyPath
		}
		if seen[f.Path] {
			return Manifest{}, fmt.Errorf("%w: %s", ErrDuplicatePath, f.Path)
		}
		seen[f.Path] = true

		sum, err := canonical.HashString(h, string(f.Data))
		if err != nil {
			return Manifest{}, fmt.Errorf("hash %s: %w", f.Path, err)
		}
		entries = append(entries, Entry{Path: f.Path, Hash: sum, ByteLength: len(f.Data)})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })

	root, err := RootHash(entries, h)
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{Entries: entries, RootHash: root}, nil
}

// RootHash is the hash of the canonical form of {"entries": entries}.
// entries must already be sorted by path.
func RootHash(entries []Entry, h canonical.Hasher) (string, error) {
	sum, err := canonical.HashValue(h, canonical.Object(canonical.M("entries", entriesValue(entries))))
	if err != nil {
		return "", fmt.Errorf("hash manifest root: %w", err)
	}
	return sum, nil
}

func entriesValue(entries []Entry) canonical.Value {
	vals := make([]canonical.Value, len(entries))
	for i, e := range entries {
		vals[i] = canonical.Object(
			canonical.M("path", canonical.String(e.Path)),
			canonical.M("hash", canonical.String(e.Hash)),
			canonical.M("byteLength", canonical.Int(int64(e.ByteLength))),
		)
	}
	return canonical.Array(vals...)
}

// Lookup returns the entry for path.
func (m Manifest) Lookup(path string) (Entry, bool) {
	i, ok := slices.BinarySearchFunc(m.Entries, path, func(e Entry, p string) int {
		return strings.Compare(e.Path, p)
	})
	if !ok {
		return Entry{}, false
	}
	return m.Entries[i], true
}

// Document is the export manifest artifact.
type Document struct {
	SchemaTag string  `json:"schemaTag"`
	CreatedAt string  `json:"createdAt"`
	Entries   []Entry `json:"entries"`
}

// Document renders m as an export manifest document stamped with now.
func (m Manifest) Document(now time.Time) Document {
	entries := m.Entries
	if entries == nil {
		entries = []Entry{}
	}
	return Document{
		SchemaTag: SchemaTag,
		CreatedAt: now.UTC().Format(ledger.TimestampLayout),
		Entries:   entries,
	}
}
