package export_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/researchledger/internal/export"
	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/manifest"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

var exportTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func session(t *testing.T) ledger.Snapshot {
	t.Helper()
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := ledger.New("s1", ledger.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	_, err := l.Append(ctx, "SESSION_STARTED", canonical.Object())
	require.NoError(t, err)
	_, err = l.Append(ctx, "CASE_LOADED", canonical.Object(
		canonical.M("caseId", canonical.String("X1")),
		canonical.M("note", canonical.String("<b>&</b>")),
	))
	require.NoError(t, err)
	_, err = l.Append(ctx, "FINAL_ASSESSMENT", canonical.Object(canonical.M("score", canonical.Int(4))))
	require.NoError(t, err)
	return l.Snapshot()
}

func builder() *export.Builder {
	return export.NewBuilder(export.WithClock(func() time.Time { return exportTime }))
}

func TestBuild_artifacts(t *testing.T) {
	snap := session(t)
	b, err := builder().Build(snap, manifest.File{Path: "reports/summary.txt", Data: []byte("ok")})
	require.NoError(t, err)

	var paths []string
	for _, f := range b.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{
		"events.jsonl", "ledger.json", "verifier.json", "reports/summary.txt",
		"export_manifest.json", "session_manifest.json",
	}, paths)

	events, _ := b.File(export.EventsPath)
	lines := strings.Split(strings.TrimSuffix(string(events), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], `{"id":"`+snap.Events[1].ID+`","seq":2,"type":"CASE_LOADED",`))
	assert.Contains(t, lines[1], `"payload":{"caseId":"X1","note":"<b>&</b>"}`, "no HTML escaping, insertion order kept")

	ledgerData, _ := b.File(export.LedgerPath)
	assert.True(t, strings.HasPrefix(string(ledgerData), "[\n  {\n    \"seq\": 1,\n    \"eventId\""))

	assert.Equal(t, verifier.StatusPass, b.Report.Result)
	assert.True(t, b.Session.Trusted)
	assert.Equal(t, b.Manifest.RootHash, b.Session.ExportRootHash)
	assert.Equal(t, snap.Tail(), b.Session.ChainTail)
	assert.Equal(t, 3, b.Session.EventCount)
	assert.Len(t, b.Manifest.Entries, 4)

	var doc manifest.Document
	data, _ := b.File(export.ExportManifestPath)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, manifest.SchemaTag, doc.SchemaTag)
	assert.Equal(t, "2026-03-01T10:00:00.000Z", doc.CreatedAt)
}

func TestBuild_brokenChainStillExportsButUntrusted(t *testing.T) {
	snap := session(t)
	snap.Events[1].Payload = snap.Events[1].Payload.With("caseId", canonical.String("X9"))

	b, err := builder().Build(snap)
	require.NoError(t, err)
	assert.False(t, b.Session.Trusted)
	assert.Equal(t, verifier.StatusFail, b.Session.VerifierResult)
	assert.Len(t, b.Files, 5)

	var doc verifier.Document
	data, _ := b.File(export.VerifierPath)
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotNil(t, doc.ChainIntegrity.BrokenAt)
	assert.Equal(t, 1, *doc.ChainIntegrity.BrokenAt)
}

func TestBuild_emptySessionUntrusted(t *testing.T) {
	b, err := builder().Build(ledger.Snapshot{SessionID: "empty"})
	require.NoError(t, err)
	assert.False(t, b.Session.Trusted)
	assert.Equal(t, ledger.GenesisHash, b.Session.ChainTail)

	data, _ := b.File(export.LedgerPath)
	assert.Equal(t, "[]\n", string(data))
}

func TestBuild_rejectsBadAuxPaths(t *testing.T) {
	snap := session(t)
	for _, p := range []string{"", "../escape", "/abs", "ledger.json", "session_manifest.json", "a//b"} {
		_, err := builder().Build(snap, manifest.File{Path: p})
		assert.ErrorIs(t, err, export.ErrInvalidPath, p)
	}
}

func TestDirSink_roundTrip(t *testing.T) {
	b, err := builder().Build(session(t), manifest.File{Path: "notes/n.txt", Data: []byte("n")})
	require.NoError(t, err)

	dir, err := export.DirSink{Root: t.TempDir()}.Put(context.Background(), b)
	require.NoError(t, err)

	c, err := export.ReadBundle(dir)
	require.NoError(t, err)
	assert.Equal(t, "s1", c.Snapshot.SessionID)
	require.Len(t, c.Snapshot.Events, 3)
	assert.Equal(t, "X1", mustString(t, c.Snapshot.Events[1].Payload, "caseId"))

	audit := export.Reverify(c, nil)
	assert.True(t, audit.OK(), "manifest error: %v", audit.ManifestErr)
	assert.Equal(t, b.Manifest.RootHash, audit.RootHash)
	assert.Equal(t, verifier.StatusPass, audit.Report.Result)

	// An edited artifact is caught even when the chain itself still verifies.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes", "n.txt"), []byte("edited"), 0o644))
	c, err = export.ReadBundle(dir)
	require.NoError(t, err)
	audit = export.Reverify(c, nil)
	assert.ErrorIs(t, audit.ManifestErr, manifest.ErrMismatch)
	assert.False(t, audit.OK())

	// A file smuggled into the bundle is reported.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("x"), 0o644))
	c, _ = export.ReadBundle(dir)
	assert.Contains(t, export.Reverify(c, nil).ManifestErr.Error(), "extra.txt not listed")
}

func TestZipSink_roundTrip(t *testing.T) {
	b, err := builder().Build(session(t))
	require.NoError(t, err)

	var first, second bytes.Buffer
	require.NoError(t, export.WriteZip(&first, b))
	require.NoError(t, export.WriteZip(&second, b))
	assert.Equal(t, first.Bytes(), second.Bytes(), "archives must be reproducible")

	c, err := export.ReadZip(bytes.NewReader(first.Bytes()), int64(first.Len()))
	require.NoError(t, err)
	assert.True(t, export.Reverify(c, nil).OK())

	path, err := export.ZipSink{Root: t.TempDir()}.Put(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "s1.zip", filepath.Base(path))
}

func TestReverify_missingManifest(t *testing.T) {
	b, err := builder().Build(session(t))
	require.NoError(t, err)
	dir, err := export.DirSink{Root: t.TempDir()}.Put(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, export.ExportManifestPath)))

	c, err := export.ReadBundle(dir)
	require.NoError(t, err)
	assert.True(t, errors.Is(export.Reverify(c, nil).ManifestErr, export.ErrNoManifest))
}

func TestReverify_missingSessionManifest(t *testing.T) {
	b, err := builder().Build(session(t))
	require.NoError(t, err)
	dir, err := export.DirSink{Root: t.TempDir()}.Put(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, export.SessionManifestPath)))

	c, err := export.ReadBundle(dir)
	require.NoError(t, err)
	require.Nil(t, c.Session)

	audit := export.Reverify(c, nil)
	assert.False(t, audit.OK())
	assert.ErrorIs(t, audit.ManifestErr, export.ErrNoSessionManifest)
	assert.Equal(t, verifier.StatusPass, audit.Report.Result, "the chain itself is intact")
}

func TestSinks_rejectUnsafeSessionIDs(t *testing.T) {
	for _, id := range []string{"../escaped", "a/b", ".", "..", "", `a\b`, "/abs"} {
		t.Run(id, func(t *testing.T) {
			b, err := builder().Build(session(t))
			require.NoError(t, err)
			b.SessionID = id

			parent := t.TempDir()
			root := filepath.Join(parent, "root")

			_, err = export.DirSink{Root: root}.Put(context.Background(), b)
			assert.ErrorIs(t, err, export.ErrInvalidPath)
			_, err = export.ZipSink{Root: root}.Put(context.Background(), b)
			assert.ErrorIs(t, err, export.ErrInvalidPath)

			fake := &fakeS3{keys: map[string]string{}}
			_, err = export.NewS3SinkWithClient(fake, "audit", "exports").Put(context.Background(), b)
			assert.ErrorIs(t, err, export.ErrInvalidPath)
			assert.Empty(t, fake.keys)

			entries, err := os.ReadDir(parent)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing may be written for a rejected id")
		})
	}
}

type fakeS3 struct {
	mu   sync.Mutex
	keys map[string]string
	fail bool
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("access denied")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_put(t *testing.T) {
	b, err := builder().Build(session(t))
	require.NoError(t, err)

	fake := &fakeS3{keys: map[string]string{}}
	loc, err := export.NewS3SinkWithClient(fake, "audit", "/exports/").Put(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "s3://audit/exports/s1/", loc)
	assert.Equal(t, "application/x-ndjson", fake.keys["exports/s1/events.jsonl"])
	assert.Equal(t, "application/json", fake.keys["exports/s1/session_manifest.json"])
	assert.Len(t, fake.keys, 5)

	fake.fail = true
	_, err = export.NewS3SinkWithClient(fake, "audit", "").Put(context.Background(), b)
	assert.Error(t, err)
}

func mustString(t *testing.T, v canonical.Value, key string) string {
	t.Helper()
	field, ok := v.Get(key)
	require.True(t, ok, key)
	s, ok := field.AsString()
	require.True(t, ok, key)
	return s
}
