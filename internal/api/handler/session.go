package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/researchledger/internal/auth"
	"github.com/jmerrifield20/researchledger/internal/export"
	"github.com/jmerrifield20/researchledger/internal/ledger"
	"github.com/jmerrifield20/researchledger/internal/manifest"
	"github.com/jmerrifield20/researchledger/internal/session"
	"github.com/jmerrifield20/researchledger/internal/verifier"
	"github.com/jmerrifield20/researchledger/pkg/canonical"
)

// Response headers set on export downloads.
const (
	HeaderRootHash = "X-Export-Root-Hash"
	HeaderTrusted  = "X-Export-Trusted"
)

// SessionHandler exposes the session and ledger endpoints.
type SessionHandler struct {
	sessions *session.Manager
	tokens   *auth.Issuer // nil = open mode
	logger   *zap.Logger
}

// NewSessionHandler creates a SessionHandler. tokens may be nil to disable
// operator token enforcement.
func NewSessionHandler(sessions *session.Manager, tokens *auth.Issuer, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens, logger: logger}
}

// Register mounts the session routes on the given router group.
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	record := auth.RequireScope(h.tokens, auth.ScopeRecord)

	s := rg.Group("/sessions")
	{
		s.POST("", record, h.Create)
		s.GET("", h.List)
		s.POST("/:id/start", record, h.Start)
		s.POST("/:id/events", record, h.RecordEvent)
		s.GET("/:id/events", h.Events)
		s.GET("/:id/ledger", h.Overview)
		s.GET("/:id/ledger/entries/:seq", h.GetEntry)
		s.GET("/:id/verify", h.Verify)
		s.POST("/:id/export", auth.RequireScope(h.tokens, auth.ScopeExport), h.Export)
	}
}

// CreateRequest is the optional body of POST /sessions.
type CreateRequest struct {
	ID string `json:"id"`
}

// StartRequest is the optional body of POST /sessions/:id/start.
type StartRequest struct {
	Payload canonical.Value `json:"payload"`
}

// RecordRequest is the body of POST /sessions/:id/events.
type RecordRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload canonical.Value `json:"payload"`
}

// ExportRequest is the optional body of POST /sessions/:id/export. Aux maps
// bundle paths to document contents.
type ExportRequest struct {
	Aux map[string]string `json:"aux"`
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s, err := h.sessions.Create(c.Request.Context(), req.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        s.ID(),
		"createdAt": s.CreatedAt().Format(ledger.TimestampLayout),
	})
}

// List handles GET /sessions.
func (h *SessionHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// Start handles POST /sessions/:id/start.
func (h *SessionHandler) Start(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	entry, err := s.Start(c.Request.Context(), req.Payload)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RecordEvent handles POST /sessions/:id/events.
func (h *SessionHandler) RecordEvent(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := s.Record(c.Request.Context(), req.Type, req.Payload)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// Events handles GET /sessions/:id/events.
func (h *SessionHandler) Events(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	events := s.Snapshot().Events
	if events == nil {
		events = []ledger.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Overview handles GET /sessions/:id/ledger and returns the chain length and
// tail hash.
func (h *SessionHandler) Overview(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap := s.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sessionId": s.ID(),
		"entries":   len(snap.Entries),
		"tail":      snap.Tail(),
		"started":   s.Started(),
	})
}

// GetEntry handles GET /sessions/:id/ledger/entries/:seq.
func (h *SessionHandler) GetEntry(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}
	entry, found := s.Ledger().Entry(seq)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Verify handles GET /sessions/:id/verify and returns the verifier document.
// A broken chain is a 200 with result FAIL.
func (h *SessionHandler) Verify(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	r := s.Verify(c.Request.Context())
	c.JSON(http.StatusOK, verifier.NewDocument(r, time.Now()))
}

// Export handles POST /sessions/:id/export and streams the bundle as a zip.
func (h *SessionHandler) Export(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ExportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	aux := make([]manifest.File, 0, len(req.Aux))
	for path, content := range req.Aux {
		aux = append(aux, manifest.File{Path: path, Data: []byte(content)})
	}

	bundle, _, err := s.Export(c.Request.Context(), aux...)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteZip(&buf, bundle); err != nil {
		h.logger.Error("zip bundle", zap.String("session_id", s.ID()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to package bundle"})
		return
	}

	if claims := auth.ClaimsFromCtx(c); claims != nil {
		h.logger.Info("bundle downloaded",
			zap.String("session_id", s.ID()),
			zap.String("operator", claims.Operator),
		)
	}
	c.Header(HeaderRootHash, bundle.Manifest.RootHash)
	c.Header(HeaderTrusted, strconv.FormatBool(bundle.Session.Trusted))
	c.Header("Content-Disposition", `attachment; filename="`+s.ID()+`.zip"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func (h *SessionHandler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrExists), errors.Is(err, session.ErrAlreadyStarted),
		errors.Is(err, ledger.ErrDuplicateSeq):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidID), errors.Is(err, ledger.ErrEmptyType),
		errors.Is(err, ledger.ErrPayloadNotObject), errors.Is(err, export.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrHashUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
