package client_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/internal/api/handler"
	"github.com/jmerrifield20/researchledger/internal/export"
	"github.com/jmerrifield20/researchledger/internal/session"
	"github.com/jmerrifield20/researchledger/pkg/client"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(handler.NewRouter(ctx, handler.RouterConfig{
		Sessions: session.NewManager(),
		Logger:   zap.NewNop(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_sessionRoundTrip(t *testing.T) {
	srv := newServer(t)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID != "s1" {
		t.Errorf("expected id s1, got %q", s.ID)
	}

	first, err := c.Start(ctx, "s1", map[string]any{"site": "A"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.Seq != 1 || first.PreviousHash != strings.Repeat("0", 64) {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if _, err := c.Record(ctx, "s1", "CASE_LOADED", map[string]any{"caseId": "X1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	last, err := c.Record(ctx, "s1", "FINAL_ASSESSMENT", map[string]any{"score": 4})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	ov, err := c.Overview(ctx, "s1")
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if ov.Entries != 3 || ov.Tail != last.ChainHash || !ov.Started {
		t.Errorf("unexpected overview: %+v", ov)
	}

	e, err := c.Entry(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if e.EventType != "CASE_LOADED" || e.PreviousHash != first.ChainHash {
		t.Errorf("entry 2 does not link to entry 1: %+v", e)
	}

	events, err := c.Events(ctx, "s1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 || string(events[1].Payload) != `{"caseId":"X1"}` {
		t.Errorf("unexpected events: %+v", events)
	}

	v, err := c.Verify(ctx, "s1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Result != "PASS" || v.ChainIntegrity.ValidLinks != 3 || v.ChainIntegrity.BrokenAt != nil {
		t.Errorf("unexpected verification: %+v", v)
	}

	ids, err := c.ListSessions(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("ListSessions: %v %v", ids, err)
	}
}

func TestClient_export(t *testing.T) {
	srv := newServer(t)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	if _, err := c.CreateSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Record(ctx, "s1", "FINAL_ASSESSMENT", nil); err != nil {
		t.Fatal(err)
	}

	res, err := c.Export(ctx, "s1", map[string]string{"notes.txt": "reviewed"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !res.Trusted || len(res.RootHash) != 64 {
		t.Errorf("unexpected export result: trusted=%v root=%q", res.Trusted, res.RootHash)
	}

	contents, err := export.ReadZip(bytes.NewReader(res.Zip), int64(len(res.Zip)))
	if err != nil {
		t.Fatalf("ReadZip: %v", err)
	}
	audit := export.Reverify(contents, nil)
	if !audit.OK() || audit.RootHash != res.RootHash {
		t.Errorf("downloaded bundle does not re-verify: %+v", audit)
	}
}

func TestClient_errors(t *testing.T) {
	srv := newServer(t)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	_, err := c.Verify(ctx, "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := c.CreateSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	_, err = c.CreateSession(ctx, "s1")
	if !errors.Is(err, client.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	_, err = c.Record(ctx, "s1", "", nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected 400 APIError, got %v", err)
	}
}

func TestClient_sendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"sessions":[]}`))
	}))
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("tok"))
	if _, err := c.ListSessions(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer tok" {
		t.Errorf("Authorization header %q", got)
	}
}

func TestNew_rejectsBadBase(t *testing.T) {
	if _, err := client.New("not a url"); err == nil {
		t.Error("expected error for base without scheme")
	}
	if _, err := client.New("http://x", client.WithHTTPClient(nil)); err == nil {
		t.Error("expected error for nil http client")
	}
}
