// Package notify delivers signed export and integrity notifications to
// configured webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	EventExportCompleted = "export.completed"
	EventChainBroken     = "ledger.chain_broken"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Research-Signature"

// Event is the JSON body delivered to every endpoint.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"sessionId"`
	ExportRootHash string    `json:"exportRootHash,omitempty"`
	Trusted        bool      `json:"trusted"`
	Location       string    `json:"location,omitempty"`
	BrokenAt       *int      `json:"brokenAt,omitempty"`
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.httpClient = c }
}

// WithRetryDelays sets the wait before each retry; one attempt is made per
// delay plus the initial attempt.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(n *Notifier) { n.delays = delays }
}

// WithMetricsRecorder configures the metrics callback.
func WithMetricsRecorder(fn MetricsRecorder) Option {
	return func(n *Notifier) { n.onMetrics = fn }
}

// Notifier posts export events to a fixed set of endpoints.
type Notifier struct {
	urls       []string
	secret     []byte
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// New creates a Notifier. An empty urls list makes every call a no-op.
func New(urls []string, secret string, logger *zap.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		urls:       urls,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{1 * time.Second, 5 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ExportCompleted fans the event out to every endpoint in the background.
// Deliveries outlive ctx cancellation; use Wait to drain them.
func (n *Notifier) ExportCompleted(ctx context.Context, sessionID, rootHash string, trusted bool, location string) {
	n.dispatch(ctx, Event{
		Type:           EventExportCompleted,
		SessionID:      sessionID,
		ExportRootHash: rootHash,
		Trusted:        trusted,
		Location:       location,
	})
}

// ChainBroken reports a journaled session whose stored chain no longer
// verifies. brokenAt is the index of the first bad link.
func (n *Notifier) ChainBroken(ctx context.Context, sessionID string, brokenAt *int) {
	n.dispatch(ctx, Event{
		Type:      EventChainBroken,
		SessionID: sessionID,
		BrokenAt:  brokenAt,
	})
}

func (n *Notifier) dispatch(ctx context.Context, event Event) {
	if n == nil || len(n.urls) == 0 {
		return
	}
	event.ID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("notify: marshal event", zap.Error(err))
		return
	}
	signature := Sign(body, n.secret)

	ctx = context.WithoutCancel(ctx)
	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(ctx, url, body, signature)
		}(url)
	}
}

// Wait blocks until all in-flight deliveries have finished.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *Notifier) deliver(ctx context.Context, url string, body []byte, signature string) {
	attempts := len(n.delays) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(n.delays[attempt-2])
		}

		success, errMsg := n.doDelivery(ctx, url, body, signature)
		if n.onMetrics != nil {
			n.onMetrics(success)
		}
		if success {
			return
		}

		n.logger.Warn("notify: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
	n.logger.Error("notify: giving up", zap.String("url", url), zap.Int("attempts", attempts))
}

// doDelivery performs a single HTTP POST delivery.
func (n *Notifier) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// Sign computes the signature header value for body.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body, secret []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
