package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Headers returned alongside an export download.
const (
	HeaderRootHash = "X-Export-Root-Hash"
	HeaderTrusted  = "X-Export-Trusted"
)

const (
	maxJSONBody   = 1 << 20
	maxExportBody = 256 << 20
)

// ErrNotFound is returned when the session or entry does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when the session already exists or was already
// started.
var ErrConflict = errors.New("conflict")

// APIError carries a non-2xx response from researchd.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses onto sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

// SessionInfo is returned by CreateSession.
type SessionInfo struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

// Entry is a ledger entry as served by researchd.
type Entry struct {
	Seq          int64  `json:"seq"`
	EventID      string `json:"eventId"`
	EventType    string `json:"eventType"`
	Timestamp    string `json:"timestamp"`
	ContentHash  string `json:"contentHash"`
	PreviousHash string `json:"previousHash"`
	ChainHash    string `json:"chainHash"`
}

// Event is a recorded raw event.
type Event struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Overview summarises a session's chain.
type Overview struct {
	SessionID string `json:"sessionId"`
	Entries   int    `json:"entries"`
	Tail      string `json:"tail"`
	Started   bool   `json:"started"`
}

// Check is one verifier check.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Verification is the verifier document for a session.
type Verification struct {
	Result          string  `json:"result"`
	Timestamp       string  `json:"timestamp"`
	VerifierVersion string  `json:"verifierVersion"`
	Checks          []Check `json:"checks"`
	ChainIntegrity  struct {
		TotalEvents int  `json:"totalEvents"`
		ValidLinks  int  `json:"validLinks"`
		BrokenAt    *int `json:"brokenAt"`
	} `json:"chainIntegrity"`
}

// ExportResult is a downloaded export bundle.
type ExportResult struct {
	Zip      []byte
	RootHash string
	Trusted  bool
}

// Client talks to the researchd HTTP API.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an operator token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the researchd instance at base, e.g.
// "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// CreateSession creates a session. An empty id lets the server pick one.
func (c *Client) CreateSession(ctx context.Context, id string) (*SessionInfo, error) {
	var out SessionInfo
	if err := c.call(ctx, http.MethodPost, "/sessions", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the ids of all live sessions.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	var out struct {
		Sessions []string `json:"sessions"`
	}
	if err := c.call(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Start records the SESSION_STARTED marker. payload may be nil.
func (c *Client) Start(ctx context.Context, sessionID string, payload any) (*Entry, error) {
	var body any
	if payload != nil {
		body = map[string]any{"payload": payload}
	}
	var out Entry
	if err := c.call(ctx, http.MethodPost, sessionPath(sessionID, "start"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Record appends an event. payload must encode as a JSON object or be nil.
func (c *Client) Record(ctx context.Context, sessionID, eventType string, payload any) (*Entry, error) {
	body := map[string]any{"type": eventType}
	if payload != nil {
		body["payload"] = payload
	}
	var out Entry
	if err := c.call(ctx, http.MethodPost, sessionPath(sessionID, "events"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns the raw events of a session in order.
func (c *Client) Events(ctx context.Context, sessionID string) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, sessionPath(sessionID, "events"), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Overview returns the chain length and tail hash.
func (c *Client) Overview(ctx context.Context, sessionID string) (*Overview, error) {
	var out Overview
	if err := c.call(ctx, http.MethodGet, sessionPath(sessionID, "ledger"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Entry fetches the ledger entry with the given 1-based sequence number.
func (c *Client) Entry(ctx context.Context, sessionID string, seq int64) (*Entry, error) {
	var out Entry
	path := sessionPath(sessionID, "ledger/entries/"+strconv.FormatInt(seq, 10))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify runs the verifier on the server side.
func (c *Client) Verify(ctx context.Context, sessionID string) (*Verification, error) {
	var out Verification
	if err := c.call(ctx, http.MethodGet, sessionPath(sessionID, "verify"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export builds and downloads the session's export bundle as a zip archive.
// aux maps bundle paths to extra documents to include.
func (c *Client) Export(ctx context.Context, sessionID string, aux map[string]string) (*ExportResult, error) {
	var body any
	if len(aux) > 0 {
		body = map[string]any{"aux": aux}
	}
	req, err := c.newRequest(ctx, http.MethodPost, sessionPath(sessionID, "export"), body)
	if err != nil {
		return nil, err
	}
	resp, data, err := c.do(req, maxExportBody)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		Zip:      data,
		RootHash: resp.Header.Get(HeaderRootHash),
		Trusted:  resp.Header.Get(HeaderTrusted) == "true",
	}, nil
}

func sessionPath(id, rest string) string {
	return "/sessions/" + url.PathEscape(id) + "/" + rest
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	_, data, err := c.do(req, maxJSONBody)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, limit int64) (*http.Response, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(body)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return resp, body, nil
}
