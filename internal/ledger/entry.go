package ledger

import (
	"fmt"

	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// GenesisHash is the PreviousHash of the first entry in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// TimestampLayout is the ISO-8601 UTC form recorded on events. Timestamps come
// from the local clock of the capturing machine and are not trusted.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Event is a single raw research event. Immutable once created.
type Event struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   canonical.Value `json:"payload"`
}

// Entry is the ledger record binding one Event into the chain.
type Entry struct {
	Seq          int64  `json:"seq"`
	EventID      string `json:"eventId"`
	EventType    string `json:"eventType"`
	Timestamp    string `json:"timestamp"`
	ContentHash  string `json:"contentHash"`
	PreviousHash string `json:"previousHash"`
	ChainHash    string `json:"chainHash"`
}

// ContentHash hashes the canonical form of {type, payload, timestamp}.
func ContentHash(h canonical.Hasher, eventType string, payload canonical.Value, timestamp string) (string, error) {
	doc := canonical.Object(
		canonical.M("type", canonical.String(eventType)),
		canonical.M("payload", payload),
		canonical.M("timestamp", canonical.String(timestamp)),
	)
	sum, err := canonical.HashValue(h, doc)
	if err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	return sum, nil
}

// ChainHash hashes "previousHash|contentHash|timestamp".
func ChainHash(h canonical.Hasher, previousHash, contentHash, timestamp string) (string, error) {
	sum, err := canonical.HashString(h, previousHash+"|"+contentHash+"|"+timestamp)
	if err != nil {
		return "", fmt.Errorf("chain hash: %w", err)
	}
	return sum, nil
}

// ContentHash recomputes the content hash of e.
func (e Event) ContentHash(h canonical.Hasher) (string, error) {
	return ContentHash(h, e.Type, e.Payload, e.Timestamp)
}
