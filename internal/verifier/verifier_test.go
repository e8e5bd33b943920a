package verifier_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

func threeEventSession(t *testing.T) ledger.Snapshot {
	t.Helper()
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := ledger.New("s1", ledger.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	_, err := l.Append(ctx, "SESSION_STARTED", canonical.Object())
	require.NoError(t, err)
	_, err = l.Append(ctx, "CASE_LOADED", canonical.Object(canonical.M("caseId", canonical.String("X1"))))
	require.NoError(t, err)
	_, err = l.Append(ctx, "FINAL_ASSESSMENT", canonical.Object(canonical.M("score", canonical.Int(4))))
	require.NoError(t, err)
	return l.Snapshot()
}

func TestVerify_intactSessionPasses(t *testing.T) {
	snap := threeEventSession(t)
	r := verifier.Verify(snap.Events, snap.Entries)

	assert.Equal(t, verifier.StatusPass, r.Result)
	assert.Equal(t, 3, r.Chain.TotalEvents)
	assert.Equal(t, 3, r.Chain.ValidLinks)
	assert.Nil(t, r.Chain.BrokenAt)
	assert.True(t, r.Trusted())

	names := make([]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		names = append(names, c.Name)
		assert.Equal(t, verifier.StatusPass, c.Status, c.Name)
	}
	assert.Equal(t, []string{
		verifier.CheckEventCount,
		verifier.CheckChainIntegrity,
		verifier.CheckSequenceIntegrity,
		verifier.CheckLifecycleMarkers,
		verifier.CheckTimestampOrder,
		verifier.CheckClockTrust,
	}, names)

	clock, ok := r.Check(verifier.CheckClockTrust)
	require.True(t, ok)
	assert.Contains(t, clock.Message, verifier.ClockTrust)
}

func TestVerify_emptyLedgerFails(t *testing.T) {
	r := verifier.Verify(nil, nil)

	assert.Equal(t, verifier.StatusFail, r.Result)
	assert.Equal(t, 0, r.Chain.TotalEvents)
	assert.Nil(t, r.Chain.BrokenAt)
	assert.False(t, r.Trusted())

	c, ok := r.Check(verifier.CheckEventCount)
	require.True(t, ok)
	assert.Equal(t, verifier.StatusFail, c.Status)
}

func TestVerify_tamperingBreaksAtIndex(t *testing.T) {
	tests := []struct {
		name   string
		index  int
		tamper func(e *ledger.Event)
	}{
		{"type", 0, func(e *ledger.Event) { e.Type = "SESSION_ENDED" }},
		{"payload", 1, func(e *ledger.Event) { e.Payload = e.Payload.With("caseId", canonical.String("X2")) }},
		{"timestamp", 2, func(e *ledger.Event) { e.Timestamp = "2026-03-01T09:00:09.000Z" }},
		{"payload key added", 2, func(e *ledger.Event) { e.Payload = e.Payload.With("note", canonical.String("late")) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := threeEventSession(t)
			tc.tamper(&snap.Events[tc.index])

			r := verifier.Verify(snap.Events, snap.Entries)
			assert.Equal(t, verifier.StatusFail, r.Result)
			require.NotNil(t, r.Chain.BrokenAt)
			assert.Equal(t, tc.index, *r.Chain.BrokenAt)
			assert.Equal(t, tc.index, r.Chain.ValidLinks)
			assert.False(t, r.Trusted())
		})
	}
}

func TestVerify_tamperedEntryHash(t *testing.T) {
	snap := threeEventSession(t)
	snap.Entries[1].ChainHash = snap.Entries[0].ChainHash

	r := verifier.Verify(snap.Events, snap.Entries)
	require.NotNil(t, r.Chain.BrokenAt)
	assert.Equal(t, 1, *r.Chain.BrokenAt)
}

func TestVerify_lengthMismatch(t *testing.T) {
	snap := threeEventSession(t)

	r := verifier.Verify(snap.Events[:2], snap.Entries)
	require.NotNil(t, r.Chain.BrokenAt)
	assert.Equal(t, 2, *r.Chain.BrokenAt)
	assert.Equal(t, 2, r.Chain.TotalEvents)

	r = verifier.Verify(snap.Events, snap.Entries[:1])
	require.NotNil(t, r.Chain.BrokenAt)
	assert.Equal(t, 1, *r.Chain.BrokenAt)
	assert.Equal(t, verifier.StatusFail, r.Result)
}

func TestVerify_missingMarkersWarn(t *testing.T) {
	snap := threeEventSession(t)

	r := verifier.Verify(snap.Events[:2], snap.Entries[:2])
	assert.Equal(t, verifier.StatusWarn, r.Result)
	assert.True(t, r.Trusted(), "a missing marker does not break the chain")

	c, _ := r.Check(verifier.CheckLifecycleMarkers)
	assert.Equal(t, verifier.StatusWarn, c.Status)
	assert.Contains(t, c.Message, "FINAL_ASSESSMENT")

	r = verifier.Verify(snap.Events[:2], snap.Entries[:2], verifier.WithRequiredMarkers("SESSION_STARTED"))
	assert.Equal(t, verifier.StatusPass, r.Result)
}

func TestVerify_backwardsClockWarns(t *testing.T) {
	ctx := context.Background()
	times := []time.Time{
		time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC),
		time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC),
	}
	i := 0
	l := ledger.New("s1", ledger.WithClock(func() time.Time { i++; return times[i-1] }))
	_, err := l.Append(ctx, "SESSION_STARTED", canonical.Object())
	require.NoError(t, err)
	_, err = l.Append(ctx, "FINAL_ASSESSMENT", canonical.Object())
	require.NoError(t, err)

	snap := l.Snapshot()
	r := verifier.Verify(snap.Events, snap.Entries)
	assert.Equal(t, verifier.StatusWarn, r.Result)
	assert.Nil(t, r.Chain.BrokenAt, "clock skew is not a chain break")

	c, _ := r.Check(verifier.CheckTimestampOrder)
	assert.Equal(t, verifier.StatusWarn, c.Status)
}

func TestVerify_unavailableHasherBreaksChain(t *testing.T) {
	snap := threeEventSession(t)
	failing := canonical.HasherFunc(func([]byte) (string, error) {
		return "", canonical.ErrHashUnavailable
	})

	r := verifier.Verify(snap.Events, snap.Entries, verifier.WithHasher(failing))
	require.NotNil(t, r.Chain.BrokenAt)
	assert.Equal(t, 0, *r.Chain.BrokenAt)
	assert.Equal(t, verifier.StatusFail, r.Result)
}

func TestNewDocument_shape(t *testing.T) {
	snap := threeEventSession(t)
	snap.Entries[2].ContentHash = "00"
	r := verifier.Verify(snap.Events, snap.Entries)

	doc := verifier.NewDocument(r, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "FAIL", got["result"])
	assert.Equal(t, "2026-03-01T10:00:00.000Z", got["timestamp"])
	assert.Equal(t, verifier.Version, got["verifierVersion"])
	assert.Len(t, got["checks"], 6)

	chain := got["chainIntegrity"].(map[string]any)
	assert.EqualValues(t, 3, chain["totalEvents"])
	assert.EqualValues(t, 2, chain["validLinks"])
	assert.EqualValues(t, 2, chain["brokenAt"])
}

func TestNewDocument_intactChainHasNullBrokenAt(t *testing.T) {
	snap := threeEventSession(t)
	doc := verifier.NewDocument(verifier.Verify(snap.Events, snap.Entries), time.Now())
	raw, err := json.Marshal(doc.ChainIntegrity)
	require.NoError(t, err)
	assert.JSONEq(t, `{"totalEvents":3,"validLinks":3,"brokenAt":null}`, string(raw))
}
