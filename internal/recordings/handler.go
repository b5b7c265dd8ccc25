// Package recordings exposes the trainer's capture and recording controls over HTTP.
package recordings

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/capture"
	"github.com/trainermatch/backend/internal/delivery"
	"github.com/trainermatch/backend/internal/middleware"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/internal/recording"
	"github.com/trainermatch/backend/pkg/response"
)

// CaptureSession is the camera session lifecycle.
type CaptureSession interface {
	State() capture.State
	Configure(ctx context.Context) error
	Start() error
	Stop() error
}

// Recorder drives countdown, recording and flips.
type Recorder interface {
	Begin(ctx context.Context, seconds int, onFinished func(recording.Take)) error
	Cancel() error
	Stop() error
	Flip() error
	Status() recording.Status
}

// Delivery consumes finalized takes.
type Delivery interface {
	Stage(take recording.Take)
	Pending() (delivery.Pending, bool)
	Commit(ctx context.Context, draft delivery.Draft) (*models.VideoMessage, error)
	Discard()
}

// Handler handles capture and recording endpoints.
type Handler struct {
	session  CaptureSession
	recorder Recorder
	delivery Delivery
	// outlives requests; countdowns are bound to it
	ctx              context.Context
	defaultCountdown int
	logger           *zap.Logger
}

// NewHandler creates a recordings handler. ctx bounds background countdowns.
func NewHandler(ctx context.Context, session CaptureSession, recorder Recorder, d Delivery, defaultCountdown int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		session:          session,
		recorder:         recorder,
		delivery:         d,
		ctx:              ctx,
		defaultCountdown: defaultCountdown,
		logger:           logger,
	}
}

// RegisterRoutes mounts the routes on a trainer-only group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/capture/state", h.CaptureState)
	g.POST("/capture/start", h.StartCapture)
	g.POST("/capture/stop", h.StopCapture)

	g.GET("/recording/state", h.RecordingState)
	g.POST("/recording/begin", h.Begin)
	g.POST("/recording/cancel", h.Cancel)
	g.POST("/recording/stop", h.Stop)
	g.POST("/recording/flip", h.Flip)
	g.POST("/recording/commit", h.Commit)
	g.POST("/recording/discard", h.Discard)
}

// fail maps workflow errors onto HTTP responses.
func (h *Handler) fail(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, capture.ErrAccessDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, capture.ErrNotConfigured), errors.Is(err, capture.ErrNotRunning):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, recording.ErrInvalidCountdown), errors.Is(err, delivery.ErrInvalidDraft):
		response.BadRequest(c, err.Error())
	case errors.Is(err, delivery.ErrNoPendingRecording):
		response.NotFound(c, err.Error())
	case errors.Is(err, delivery.ErrTempFileMissing):
		response.Gone(c, err.Error())
	case errors.Is(err, recording.ErrBusy), errors.Is(err, recording.ErrIdle),
		errors.Is(err, recording.ErrNotCountingDown), errors.Is(err, capture.ErrFlipInProgress),
		errors.Is(err, capture.ErrStopping), errors.Is(err, capture.ErrAlreadyRecording):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error(action+" failed", zap.Error(err), zap.String("user_id", middleware.UserID(c)))
		response.Internal(c, action+" failed")
	}
}

// CaptureState handles GET /capture/state.
func (h *Handler) CaptureState(c *gin.Context) {
	response.OK(c, h.session.State())
}

// StartCapture handles POST /capture/start. Configures the session on first use.
func (h *Handler) StartCapture(c *gin.Context) {
	if err := h.session.Configure(c.Request.Context()); err != nil {
		h.fail(c, "configure capture", err)
		return
	}
	if err := h.session.Start(); err != nil {
		h.fail(c, "start capture", err)
		return
	}
	response.OK(c, h.session.State())
}

// StopCapture handles POST /capture/stop.
func (h *Handler) StopCapture(c *gin.Context) {
	if err := h.session.Stop(); err != nil {
		h.fail(c, "stop capture", err)
		return
	}
	response.OK(c, h.session.State())
}

type recordingState struct {
	recording.Status
	Pending *delivery.Pending `json:"pending,omitempty"`
}

func (h *Handler) state() recordingState {
	s := recordingState{Status: h.recorder.Status()}
	if p, ok := h.delivery.Pending(); ok {
		s.Pending = &p
	}
	return s
}

// RecordingState handles GET /recording/state.
func (h *Handler) RecordingState(c *gin.Context) {
	response.OK(c, h.state())
}

type beginRequest struct {
	Countdown *int `json:"countdown"`
}

// Begin handles POST /recording/begin {countdown}.
func (h *Handler) Begin(c *gin.Context) {
	var req beginRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
	}
	seconds := h.defaultCountdown
	if req.Countdown != nil {
		seconds = *req.Countdown
	}
	if err := h.recorder.Begin(h.ctx, seconds, h.delivery.Stage); err != nil {
		h.fail(c, "begin recording", err)
		return
	}
	h.logger.Info("recording requested", zap.Int("countdown", seconds), zap.String("user_id", middleware.UserID(c)))
	response.OK(c, h.state())
}

// Cancel handles POST /recording/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	if err := h.recorder.Cancel(); err != nil {
		h.fail(c, "cancel countdown", err)
		return
	}
	response.OK(c, h.state())
}

// Stop handles POST /recording/stop. The take is staged once finalized.
func (h *Handler) Stop(c *gin.Context) {
	if err := h.recorder.Stop(); err != nil {
		h.fail(c, "stop recording", err)
		return
	}
	response.OK(c, h.state())
}

// Flip handles POST /recording/flip.
func (h *Handler) Flip(c *gin.Context) {
	if err := h.recorder.Flip(); err != nil {
		h.fail(c, "flip camera", err)
		return
	}
	response.OK(c, h.state())
}

type commitRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Body        string `json:"body"`
	Category    string `json:"category"`
}

// Commit handles POST /recording/commit. The sender is the authenticated trainer.
func (h *Handler) Commit(c *gin.Context) {
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "recipient_id and title are required")
		return
	}
	msg, err := h.delivery.Commit(c.Request.Context(), delivery.Draft{
		SenderID:    middleware.UserID(c),
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Body:        req.Body,
		Category:    req.Category,
	})
	if err != nil {
		h.fail(c, "commit recording", err)
		return
	}
	response.Created(c, msg)
}

// Discard handles POST /recording/discard. Idempotent.
func (h *Handler) Discard(c *gin.Context) {
	h.delivery.Discard()
	response.NoContent(c)
}
