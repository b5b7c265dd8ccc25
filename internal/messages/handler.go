package messages

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trainermatch/backend/internal/media"
	"github.com/trainermatch/backend/internal/metrics"
	"github.com/trainermatch/backend/internal/middleware"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/internal/realtime"
	"github.com/trainermatch/backend/pkg/response"
)

// Notifier pushes realtime events to a user's sockets.
type Notifier interface {
	NotifyUser(userID, event string, payload interface{})
}

// Presigner issues download URLs for archived media.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
	UploadRecordingsBucket() string
}

// CategoryInfo is how a category is shown to users.
type CategoryInfo struct {
	Value models.Category `json:"value"`
	Label string          `json:"label"`
	Icon  string          `json:"icon"`
}

var categoryDisplay = map[models.Category]CategoryInfo{
	models.CategoryProgressFeedback:    {Label: "Progress Feedback", Icon: "chart.line.uptrend.xyaxis"},
	models.CategoryWorkoutInstructions: {Label: "Workout Instructions", Icon: "figure.strengthtraining.traditional"},
	models.CategoryMotivational:        {Label: "Motivational", Icon: "flame.fill"},
	models.CategoryCheckIn:             {Label: "Check-In", Icon: "checkmark.circle"},
	models.CategoryFormCorrection:      {Label: "Form Correction", Icon: "figure.walk"},
	models.CategoryGeneral:             {Label: "General", Icon: "message"},
}

// CategoryTable returns the display table in category order.
func CategoryTable() []CategoryInfo {
	out := make([]CategoryInfo, 0, len(models.Categories))
	for _, c := range models.Categories {
		info := categoryDisplay[c]
		info.Value = c
		out = append(out, info)
	}
	return out
}

// Handler serves the inbox endpoints.
type Handler struct {
	store    Store
	library  *media.Library
	presign  Presigner // optional
	notifier Notifier  // optional
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewHandler creates a messages handler. presign, notifier and m may be nil.
func NewHandler(store Store, library *media.Library, presign Presigner, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, library: library, presign: presign, notifier: notifier, metrics: m, logger: logger}
}

// RegisterRoutes mounts the inbox routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/categories", h.Categories)
	g.GET("/clients/:id/messages", h.List)
	g.GET("/clients/:id/messages/unviewed_count", h.UnviewedCount)
	g.POST("/messages/:id/view", h.MarkViewed)
	g.DELETE("/messages/:id", h.Delete)
	g.GET("/messages/:id/media", h.Media)
}

func (h *Handler) observe(op string, err error) {
	if h.metrics != nil {
		h.metrics.StoreOperations.WithLabelValues(op, metrics.Status(err)).Inc()
	}
}

// canRead: clients see their own inbox, trainers see any.
func canRead(c *gin.Context, recipientID string) bool {
	return middleware.Role(c) == models.RoleTrainer || middleware.UserID(c) == recipientID
}

// Categories handles GET /categories.
func (h *Handler) Categories(c *gin.Context) {
	response.OK(c, CategoryTable())
}

// List handles GET /clients/:id/messages with optional ?category=.
func (h *Handler) List(c *gin.Context) {
	recipientID := c.Param("id")
	if !canRead(c, recipientID) {
		response.Forbidden(c, "not authorized to read this inbox")
		return
	}
	var (
		list []models.VideoMessage
		err  error
	)
	if raw := c.Query("category"); raw != "" {
		category, perr := models.ParseCategory(raw)
		if perr != nil {
			response.BadRequest(c, perr.Error())
			return
		}
		list, err = h.store.MessagesForCategory(c.Request.Context(), recipientID, category)
		h.observe("list_category", err)
	} else {
		list, err = h.store.MessagesFor(c.Request.Context(), recipientID)
		h.observe("list", err)
	}
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err), zap.String("recipient_id", recipientID))
		response.Internal(c, "failed to list messages")
		return
	}
	response.OK(c, list)
}

// UnviewedCount handles GET /clients/:id/messages/unviewed_count.
func (h *Handler) UnviewedCount(c *gin.Context) {
	recipientID := c.Param("id")
	if !canRead(c, recipientID) {
		response.Forbidden(c, "not authorized to read this inbox")
		return
	}
	n, err := h.store.UnviewedCountFor(c.Request.Context(), recipientID)
	h.observe("unviewed_count", err)
	if err != nil {
		h.logger.Error("count unviewed failed", zap.Error(err), zap.String("recipient_id", recipientID))
		response.Internal(c, "failed to count messages")
		return
	}
	response.OK(c, gin.H{"unviewed_count": n})
}

// MarkViewed handles POST /messages/:id/view. Only the recipient marks a message viewed.
func (h *Handler) MarkViewed(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	ctx := c.Request.Context()
	msg, err := h.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		response.OK(c, gin.H{"changed": false})
		return
	}
	if err != nil {
		h.logger.Error("get message failed", zap.Error(err), zap.String("message_id", id.String()))
		response.Internal(c, "failed to load message")
		return
	}
	if msg.RecipientID != middleware.UserID(c) {
		response.Forbidden(c, "only the recipient can mark a message viewed")
		return
	}
	changed, err := h.store.MarkViewed(ctx, id)
	h.observe("mark_viewed", err)
	if err != nil {
		h.logger.Error("mark viewed failed", zap.Error(err), zap.String("message_id", id.String()))
		response.Internal(c, "failed to mark message viewed")
		return
	}
	if changed {
		h.pushViewed(ctx, msg)
	}
	response.OK(c, gin.H{"changed": changed})
}

func (h *Handler) pushViewed(ctx context.Context, msg *models.VideoMessage) {
	if h.notifier == nil {
		return
	}
	n, err := h.store.UnviewedCountFor(ctx, msg.RecipientID)
	if err != nil {
		h.logger.Warn("count unviewed for push failed", zap.Error(err))
		return
	}
	h.notifier.NotifyUser(msg.RecipientID, realtime.EventUnviewedCount, gin.H{"unviewed_count": n})
	h.notifier.NotifyUser(msg.SenderID, realtime.EventMessageViewed, gin.H{
		"message_id":   msg.ID,
		"recipient_id": msg.RecipientID,
	})
}

// Delete handles DELETE /messages/:id. Unknown ids succeed.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	ctx := c.Request.Context()
	msg, err := h.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		response.NoContent(c)
		return
	}
	if err != nil {
		h.logger.Error("get message failed", zap.Error(err), zap.String("message_id", id.String()))
		response.Internal(c, "failed to load message")
		return
	}
	userID := middleware.UserID(c)
	if userID != msg.RecipientID && userID != msg.SenderID {
		response.Forbidden(c, "not authorized to delete this message")
		return
	}
	err = h.store.Delete(ctx, id)
	h.observe("delete", err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("delete message failed", zap.Error(err), zap.String("message_id", id.String()))
		response.Internal(c, "failed to delete message")
		return
	}
	h.logger.Info("message deleted", zap.String("message_id", id.String()), zap.String("user_id", userID))
	response.NoContent(c)
}

// Media handles GET /messages/:id/media. Serves the local file, or redirects to
// a presigned archive URL when only the archived copy remains.
func (h *Handler) Media(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	ctx := c.Request.Context()
	msg, err := h.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "message not found")
		return
	}
	if err != nil {
		h.logger.Error("get message failed", zap.Error(err), zap.String("message_id", id.String()))
		response.Internal(c, "failed to load message")
		return
	}
	userID := middleware.UserID(c)
	if userID != msg.RecipientID && userID != msg.SenderID {
		response.Forbidden(c, "not authorized to view this message")
		return
	}

	if h.library != nil {
		if p, perr := h.library.Path(msg.MediaRef); perr == nil {
			if _, serr := os.Stat(p); serr == nil {
				c.File(p)
				return
			}
		}
	}
	if msg.ArchiveKey != "" && h.presign != nil {
		expire := h.presign.PresignExpire()
		url, err := h.presign.GeneratePresignedDownloadURL(ctx, h.presign.UploadRecordingsBucket(), msg.ArchiveKey, expire)
		if err != nil {
			h.logger.Error("presign media failed", zap.Error(err), zap.String("message_id", id.String()))
			response.Internal(c, "failed to generate media URL")
			return
		}
		c.Redirect(http.StatusFound, url)
		return
	}
	response.NotFound(c, "media not available")
}
