// Package verifier re-derives a session's hash chain from its stored events
// and reports integrity plus light data-quality checks.
//
// Verification is read-only and works over a snapshot; it never mutates the
// events or entries it is given. A broken chain is reported as data in the
// Report, never as an error.
//
// Trust model: event timestamps come from the capturing client's clock and
// are not trusted. The report says so explicitly in the clock_trust check.
package verifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// Version is recorded in every verifier output document.
const Version = "1.0.0"

// ClockTrust names the trust level of recorded timestamps.
const ClockTrust = "client-clock-untrusted"

// Status is the outcome of one check or of the whole report.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// Check names.
const (
	CheckEventCount        = "event_count"
	CheckChainIntegrity    = "chain_integrity"
	CheckSequenceIntegrity = "sequence_contiguous"
	CheckLifecycleMarkers  = "lifecycle_markers"
	CheckTimestampOrder    = "timestamp_monotonic"
	CheckClockTrust        = "clock_trust"
)

// DefaultMarkers are the lifecycle event types every complete session has.
var DefaultMarkers = []string{"SESSION_STARTED", "FINAL_ASSESSMENT"}

// Check is a single named verification result.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ChainSummary describes how much of the chain could be re-derived.
type ChainSummary struct {
	TotalEvents int  `json:"totalEvents"`
	ValidLinks  int  `json:"validLinks"`
	BrokenAt    *int `json:"brokenAt"`
}

// Report is the structured result of Verify.
type Report struct {
	Result Status
	Checks []Check
	Chain  ChainSummary
}

// Broken reports whether a chain break was found.
func (r Report) Broken() bool { return r.Chain.BrokenAt != nil }

// Trusted reports whether the report supports a trust claim: the chain is
// intact and the session recorded at least one event.
func (r Report) Trusted() bool {
	return !r.Broken() && r.Chain.TotalEvents > 0 && r.Result != StatusFail
}

// Check returns the named check.
func (r Report) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Option configures Verify.
type Option func(*config)

type config struct {
	hasher  canonical.Hasher
	markers []string
}

// WithHasher overrides the digest primitive.
func WithHasher(h canonical.Hasher) Option {
	return func(c *config) { c.hasher = h }
}

// WithRequiredMarkers replaces DefaultMarkers.
func WithRequiredMarkers(types ...string) Option {
	return func(c *config) { c.markers = types }
}

// Verify re-derives every hash of entries from events and runs the auxiliary
// checks. Scanning stops at the first broken link.
func Verify(events []ledger.Event, entries []ledger.Entry, opts ...Option) Report {
	cfg := config{hasher: canonical.SHA256, markers: DefaultMarkers}
	for _, opt := range opts {
		opt(&cfg)
	}

	chainCheck, summary := checkChain(cfg.hasher, events, entries)
	r := Report{Chain: summary}
	r.Checks = append(r.Checks,
		checkEventCount(events),
		chainCheck,
		checkSequence(events, entries),
		checkMarkers(events, cfg.markers),
		checkTimestamps(events),
		Check{
			Name:    CheckClockTrust,
			Status:  StatusPass,
			Message: "timestamps were captured from the client clock (" + ClockTrust + ") and order events only as reported",
		},
	)

	r.Result = StatusPass
	for _, c := range r.Checks {
		switch c.Status {
		case StatusFail:
			r.Result = StatusFail
		case StatusWarn:
			if r.Result == StatusPass {
				r.Result = StatusWarn
			}
		}
	}
	return r
}

func checkChain(h canonical.Hasher, events []ledger.Event, entries []ledger.Entry) (Check, ChainSummary) {
	summary := ChainSummary{TotalEvents: len(events)}
	n := max(len(events), len(entries))

	broke := func(i int, format string, args ...any) (Check, ChainSummary) {
		at := i
		summary.BrokenAt = &at
		summary.ValidLinks = i
		return Check{
			Name:    CheckChainIntegrity,
			Status:  StatusFail,
			Message: fmt.Sprintf("chain broken at index %d: ", i) + fmt.Sprintf(format, args...),
		}, summary
	}

	for i := 0; i < n; i++ {
		if i >= len(events) {
			return broke(i, "ledger entry seq %d has no recorded event", entries[i].Seq)
		}
		if i >= len(entries) {
			return broke(i, "event seq %d has no ledger entry", events[i].Seq)
		}
		evt, entry := events[i], entries[i]

		content, err := evt.ContentHash(h)
		if err != nil {
			return broke(i, "cannot recompute content hash: %v", err)
		}
		if content != entry.ContentHash {
			return broke(i, "content hash mismatch")
		}

		prev := ledger.GenesisHash
		if i > 0 {
			prev = entries[i-1].ChainHash
		}
		if entry.PreviousHash != prev {
			return broke(i, "previous hash does not match predecessor")
		}

		chain, err := ledger.ChainHash(h, prev, content, evt.Timestamp)
		if err != nil {
			return broke(i, "cannot recompute chain hash: %v", err)
		}
		if chain != entry.ChainHash {
			return broke(i, "chain hash mismatch")
		}
	}

	summary.ValidLinks = n
	msg := fmt.Sprintf("all %d links verified", n)
	if n == 0 {
		msg = "empty chain"
	}
	return Check{Name: CheckChainIntegrity, Status: StatusPass, Message: msg}, summary
}

func checkEventCount(events []ledger.Event) Check {
	if len(events) == 0 {
		return Check{Name: CheckEventCount, Status: StatusFail, Message: "no events recorded"}
	}
	return Check{Name: CheckEventCount, Status: StatusPass, Message: fmt.Sprintf("%d events recorded", len(events))}
}

func checkSequence(events []ledger.Event, entries []ledger.Entry) Check {
	for i, entry := range entries {
		if entry.Seq != int64(i+1) {
			return Check{Name: CheckSequenceIntegrity, Status: StatusFail,
				Message: fmt.Sprintf("entry at index %d has seq %d, want %d", i, entry.Seq, i+1)}
		}
		if i >= len(events) {
			break
		}
		evt := events[i]
		if evt.Seq != entry.Seq || evt.ID != entry.EventID || evt.Type != entry.EventType || evt.Timestamp != entry.Timestamp {
			return Check{Name: CheckSequenceIntegrity, Status: StatusFail,
				Message: fmt.Sprintf("entry seq %d does not describe event %s", entry.Seq, evt.ID)}
		}
	}
	for i, evt := range events {
		if evt.Seq != int64(i+1) {
			return Check{Name: CheckSequenceIntegrity, Status: StatusFail,
				Message: fmt.Sprintf("event at index %d has seq %d, want %d", i, evt.Seq, i+1)}
		}
	}
	return Check{Name: CheckSequenceIntegrity, Status: StatusPass, Message: "seq values are contiguous from 1"}
}

func checkMarkers(events []ledger.Event, markers []string) Check {
	present := make(map[string]bool, len(events))
	for _, e := range events {
		present[e.Type] = true
	}
	var missing []string
	for _, m := range markers {
		if !present[m] {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return Check{Name: CheckLifecycleMarkers, Status: StatusWarn,
			Message: "missing lifecycle markers: " + strings.Join(missing, ", ")}
	}
	return Check{Name: CheckLifecycleMarkers, Status: StatusPass, Message: "all lifecycle markers present"}
}

func checkTimestamps(events []ledger.Event) Check {
	var prev time.Time
	for i, e := range events {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return Check{Name: CheckTimestampOrder, Status: StatusWarn,
				Message: fmt.Sprintf("unparseable timestamp %q at index %d", e.Timestamp, i)}
		}
		if i > 0 && ts.Before(prev) {
			return Check{Name: CheckTimestampOrder, Status: StatusWarn,
				Message: fmt.Sprintf("timestamp at index %d precedes index %d (client clock adjusted?)", i, i-1)}
		}
		prev = ts
	}
	return Check{Name: CheckTimestampOrder, Status: StatusPass, Message: "timestamps are non-decreasing"}
}
