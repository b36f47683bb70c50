package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/upload-pipeline/internal/blob"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/upload"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports whether the queue connection is up
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Blobs       blob.Store
	Coordinator *upload.Coordinator
	Status      *upload.StatusQuery
	Files       *upload.Files
	Activities  *upload.Activities
	Database    HealthChecker
	Broker      BrokerStatus
	MaxFiles    int
	MaxFileSize int64
}

// UploadHandler handles upload and file HTTP requests
type UploadHandler struct {
	logger      *slog.Logger
	blobs       blob.Store
	coordinator *upload.Coordinator
	status      *upload.StatusQuery
	files       *upload.Files
	activities  *upload.Activities
	maxFiles    int
	maxFileSize int64
}

// NewUploadHandler creates a new UploadHandler instance
func NewUploadHandler(deps *Dependencies) *UploadHandler {
	return &UploadHandler{
		logger:      deps.Logger,
		blobs:       deps.Blobs,
		coordinator: deps.Coordinator,
		status:      deps.Status,
		files:       deps.Files,
		activities:  deps.Activities,
		maxFiles:    deps.MaxFiles,
		maxFileSize: deps.MaxFileSize,
	}
}

// userID returns the id set by the RequireUser middleware
func userID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// writeError maps domain errors to status codes; anything else is a 500
// carrying fallback as its message.
func (h *UploadHandler) writeError(c *gin.Context, err error, fallback string) {
	if upload.IsClientError(err) {
		h.logger.Warn("Request rejected",
			slog.String("path", c.Request.URL.Path),
			slog.String("user_id", userID(c)),
			slog.Any("error", err),
		)
	}

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Permission denied"})
	case errors.Is(err, domain.ErrFileNotReady), errors.Is(err, domain.ErrFileNotDeletable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
