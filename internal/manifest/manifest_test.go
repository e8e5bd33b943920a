package manifest_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/researchledger/internal/manifest"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

func bundle() map[string][]byte {
	return map[string][]byte{
		"verifier.json": []byte(`{"result":"PASS"}`),
		"events.jsonl":  []byte("{\"id\":\"a\"}\n"),
		"ledger.json":   []byte("[]"),
		"notes/a.txt":   []byte("hello"),
	}
}

func TestBuild_entriesSortedWithLengths(t *testing.T) {
	m, err := manifest.Build(bundle(), nil)
	require.NoError(t, err)

	paths := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		paths[i] = e.Path
	}
	assert.Equal(t, []string{"events.jsonl", "ledger.json", "notes/a.txt", "verifier.json"}, paths)

	hello, ok := m.Lookup("notes/a.txt")
	require.True(t, ok)
	assert.Equal(t, 5, hello.ByteLength)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hello.Hash)
	assert.Len(t, m.RootHash, 64)

	_, ok = m.Lookup("missing")
	assert.False(t, ok)
}

func TestBuild_rootHashIsHashOfCanonicalEntries(t *testing.T) {
	m, err := manifest.Build(map[string][]byte{"a": []byte("hello")}, nil)
	require.NoError(t, err)

	want, _ := canonical.HashString(nil,
		`{"entries":[{"byteLength":5,"hash":"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824","path":"a"}]}`)
	assert.Equal(t, want, m.RootHash)
}

func TestBuild_emptyBundle(t *testing.T) {
	m, err := manifest.Build(nil, nil)
	require.NoError(t, err)
	want, _ := canonical.HashString(nil, `{"entries":[]}`)
	assert.Equal(t, want, m.RootHash)
	assert.Empty(t, m.Entries)
}

func TestBuildFiles_rejectsDuplicatesAndEmptyPaths(t *testing.T) {
	_, err := manifest.BuildFiles([]manifest.File{{Path: "a"}, {Path: "a"}}, nil)
	assert.ErrorIs(t, err, manifest.ErrDuplicatePath)

	_, err = manifest.BuildFiles([]manifest.File{{Path: ""}}, nil)
	assert.ErrorIs(t, err, manifest.ErrEmptyPath)
}

func TestBuild_hashFailure(t *testing.T) {
	failing := canonical.HasherFunc(func([]byte) (string, error) { return "", canonical.ErrHashUnavailable })
	_, err := manifest.Build(bundle(), failing)
	assert.ErrorIs(t, err, canonical.ErrHashUnavailable)
}

// Property: the root hash depends on the file set, not the supply order.
func TestBuildFiles_OrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reversed file order yields identical manifest", prop.ForAll(
		func(paths []string, contents []string) bool {
			var files []manifest.File
			seen := map[string]bool{}
			for i := 0; i < len(paths) && i < len(contents); i++ {
				if paths[i] == "" || seen[paths[i]] {
					continue
				}
				seen[paths[i]] = true
				files = append(files, manifest.File{Path: paths[i], Data: []byte(contents[i])})
			}
			reversed := make([]manifest.File, len(files))
			for i, f := range files {
				reversed[len(files)-1-i] = f
			}

			a, err := manifest.BuildFiles(files, nil)
			if err != nil {
				return false
			}
			b, err := manifest.BuildFiles(reversed, nil)
			if err != nil {
				return false
			}
			if a.RootHash != b.RootHash || len(a.Entries) != len(b.Entries) {
				return false
			}
			for i := range a.Entries {
				if a.Entries[i] != b.Entries[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

func TestDocument_shape(t *testing.T) {
	m, err := manifest.Build(map[string][]byte{"a": []byte("hello")}, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(m.Document(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"schemaTag": "research-export-manifest/v1",
		"createdAt": "2026-03-01T09:00:00.000Z",
		"entries": [{"path":"a","hash":"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824","byteLength":5}]
	}`, string(raw))

	back, err := manifest.FromDocument(m.Document(time.Now()), nil)
	require.NoError(t, err)
	assert.Equal(t, m.RootHash, back.RootHash)
}

func TestCheck_detectsChanges(t *testing.T) {
	files := bundle()
	m, err := manifest.Build(files, nil)
	require.NoError(t, err)
	require.NoError(t, manifest.Check(m, files, nil))

	files["ledger.json"] = []byte("[{}]")
	err = manifest.Check(m, files, nil)
	assert.ErrorIs(t, err, manifest.ErrMismatch)
	assert.Contains(t, err.Error(), "ledger.json")

	delete(files, "events.jsonl")
	err = manifest.Check(m, files, nil)
	assert.Contains(t, err.Error(), "events.jsonl missing")

	m2, _ := manifest.Build(bundle(), nil)
	m2.RootHash = "deadbeef"
	assert.True(t, errors.Is(manifest.Check(m2, bundle(), nil), manifest.ErrMismatch))
}

func TestNewSessionManifest_trustFollowsChain(t *testing.T) {
	m, err := manifest.Build(bundle(), nil)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	intact := verifier.Report{Result: verifier.StatusWarn, Chain: verifier.ChainSummary{TotalEvents: 2, ValidLinks: 2}}
	sm := manifest.NewSessionManifest("s1", m, intact, "tail", now)
	assert.True(t, sm.Trusted)
	assert.Equal(t, m.RootHash, sm.ExportRootHash)
	assert.Equal(t, verifier.ClockTrust, sm.ClockTrust)
	assert.Equal(t, "tail", sm.ChainTail)
	events, _ := m.Lookup("events.jsonl")
	assert.Equal(t, events.Hash, sm.Checksums.Events)
	assert.NotEmpty(t, sm.Checksums.Ledger)
	assert.NotEmpty(t, sm.Checksums.Verifier)

	at := 1
	broken := verifier.Report{Result: verifier.StatusFail, Chain: verifier.ChainSummary{TotalEvents: 2, ValidLinks: 1, BrokenAt: &at}}
	assert.False(t, manifest.NewSessionManifest("s1", m, broken, "tail", now).Trusted)

	empty := verifier.Report{Result: verifier.StatusFail}
	assert.False(t, manifest.NewSessionManifest("s1", m, empty, "", now).Trusted)
}
