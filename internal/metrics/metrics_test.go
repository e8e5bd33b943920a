package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/researchledger/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware_countsRequests(t *testing.T) {
	r := gin.New()
	r.Use(metrics.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", metrics.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ping: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, `rl_requests_total{method="GET",path="/ping",status="200"}`) {
		t.Errorf("request counter missing from /metrics output")
	}
}

func TestRecorders(t *testing.T) {
	metrics.RecordAppend(nil, time.Millisecond)
	metrics.RecordAppend(errors.New("boom"), 0)
	metrics.RecordVerification("PASS")
	metrics.RecordExport(false)
	metrics.RecordNotification(true)
	metrics.SetSessionsActive(3)

	body := scrape(t)
	for _, want := range []string{
		`rl_ledger_appends_total{outcome="committed"}`,
		`rl_ledger_appends_total{outcome="error"}`,
		`rl_verifications_total{result="PASS"}`,
		`rl_exports_total{trusted="false"}`,
		`rl_notifications_total{status="success"}`,
		`rl_sessions_active 3`,
		`rl_append_duration_seconds_count`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s", want)
		}
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	r := gin.New()
	r.GET("/metrics", metrics.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}
