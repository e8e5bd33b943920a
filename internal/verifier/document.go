package verifier

import (
	"time"

	"github.com/jmerrifield20/researchledger/internal/ledger"
)

// Document is the verifier output artifact written into export bundles.
type Document struct {
	Result          Status       `json:"result"`
	Timestamp       string       `json:"timestamp"`
	VerifierVersion string       `json:"verifierVersion"`
	Checks          []Check      `json:"checks"`
	ChainIntegrity  ChainSummary `json:"chainIntegrity"`
}

// NewDocument renders r as a verifier output document stamped with now.
func NewDocument(r Report, now time.Time) Document {
	checks := r.Checks
	if checks == nil {
		checks = []Check{}
	}
	return Document{
		Result:          r.Result,
		Timestamp:       now.UTC().Format(ledger.TimestampLayout),
		VerifierVersion: Version,
		Checks:          checks,
		ChainIntegrity:  r.Chain,
	}
}
