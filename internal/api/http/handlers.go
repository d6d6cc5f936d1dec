// Package http contains the REST handlers for the runtime service.
package http

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/artifacts"
	"github.com/capsulehq/runtime/internal/domain/admission"
	"github.com/capsulehq/runtime/internal/domain/session"
	"github.com/capsulehq/runtime/internal/domain/visibility"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/shared/id"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	sessions  *session.Manager
	admission *admission.Registry
	catalog   *artifacts.Catalog
	threshold float64
	logger    *logging.Logger

	// One visibility controller per live session, created on demand.
	vis sync.Map // id.SessionID -> *visibility.Controller
}

// NewHandlers creates a new handler set.
func NewHandlers(
	sessions *session.Manager,
	adm *admission.Registry,
	catalog *artifacts.Catalog,
	visibilityThreshold float64,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		sessions:  sessions,
		admission: adm,
		catalog:   catalog,
		threshold: visibilityThreshold,
		logger:    logger.Named("api"),
	}
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "capsule-runtime",
		"version": "0.3.0",
	})
}

// Health handles the health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Count(),
	})
}

type createSessionRequest struct {
	ArtifactID string         `json:"artifact_id" binding:"required"`
	Surface    string         `json:"surface" binding:"required"`
	CapsuleID  string         `json:"capsule_id"`
	Overrides  *types.Budgets `json:"overrides"`
}

// CreateSession admits and starts a new runtime session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.sessions.Create(c.Request.Context(), session.Options{
		Surface:    types.Surface(req.Surface),
		ArtifactID: req.ArtifactID,
		CapsuleID:  req.CapsuleID,
		Override:   req.Overrides,
	})
	if err != nil {
		var denied *session.AdmissionError
		if errors.As(err, &denied) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":  denied.Error(),
				"active": denied.ActiveCount,
				"limit":  denied.Limit,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("Session created",
		zap.String("session_id", string(s.ID())),
		zap.String("surface", req.Surface),
		zap.String("artifact_id", req.ArtifactID))
	c.JSON(http.StatusCreated, s.Snapshot())
}

// ListSessions lists snapshots of all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// GetSession returns one session snapshot.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// StartSession restarts the session with a fresh run identifier.
func (h *Handlers) StartSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Restart(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// StopSession tears down the current run and returns to idle.
func (h *Handlers) StopSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// PauseSession freezes the run budget clock.
func (h *Handlers) PauseSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Pause()
	c.JSON(http.StatusOK, s.Snapshot())
}

// ResumeSession restarts the run budget clock.
func (h *Handlers) ResumeSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Resume()
	c.JSON(http.StatusOK, s.Snapshot())
}

type visibilityRequest struct {
	PageHidden        *bool    `json:"page_hidden"`
	IntersectionRatio *float64 `json:"intersection_ratio"`
}

// UpdateVisibility forwards host visibility observer events. The
// per-session controller folds them into pause/resume commands.
func (h *Handlers) UpdateVisibility(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PageHidden == nil && req.IntersectionRatio == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_hidden or intersection_ratio is required"})
		return
	}

	ctrl := h.controllerFor(s)
	if req.PageHidden != nil {
		ctrl.PageVisibilityChanged(*req.PageHidden)
	}
	if req.IntersectionRatio != nil {
		ctrl.IntersectionChanged(*req.IntersectionRatio)
	}
	c.JSON(http.StatusOK, gin.H{"paused": ctrl.Paused()})
}

// SetParams forwards a parameter payload to the sandboxed bundle.
func (h *Handlers) SetParams(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var params map[string]any
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	delivered := s.SetParams(params)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// DeleteSession disposes the session. Disposal always releases the
// admission slot.
func (h *Handlers) DeleteSession(c *gin.Context) {
	sessionID := id.SessionID(c.Param("id"))
	if !h.sessions.Dispose(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	h.vis.Delete(sessionID)
	c.JSON(http.StatusOK, gin.H{"disposed": true})
}

// AdmissionStats reports slot occupancy for a surface.
func (h *Handlers) AdmissionStats(c *gin.Context) {
	surface := types.Surface(c.Param("surface"))
	if !surface.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown surface"})
		return
	}
	active, limit := h.admission.Stats(surface)
	c.JSON(http.StatusOK, gin.H{
		"surface": surface,
		"active":  active,
		"limit":   limit,
	})
}

// ArtifactManifest serves a seeded artifact's wire manifest.
func (h *Handlers) ArtifactManifest(c *gin.Context) {
	a, ok := h.catalog.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	c.JSON(http.StatusOK, a.WireManifest())
}

// ArtifactAsset serves one bundle asset with its sniffed content type.
func (h *Handlers) ArtifactAsset(c *gin.Context) {
	asset, ok := h.catalog.Asset(c.Param("id"), c.Param("path"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	c.Data(http.StatusOK, asset.ContentType, asset.Data)
}

func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	s, ok := h.sessions.Get(id.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return s, true
}

func (h *Handlers) controllerFor(s *session.Session) *visibility.Controller {
	if ctrl, ok := h.vis.Load(s.ID()); ok {
		return ctrl.(*visibility.Controller)
	}
	ctrl, _ := h.vis.LoadOrStore(s.ID(), visibility.New(s, h.threshold))
	return ctrl.(*visibility.Controller)
}
