package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/upload-pipeline/internal/api/dto"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// ListActivities handles GET /api/v1/activities
// Lists the caller's audit log, newest first, with cursor pagination
func (h *UploadHandler) ListActivities(c *gin.Context) {
	h.logger.Info("ListActivities called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListActivitiesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	if !validActivityAction(req.Action) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "action must be one of FILE_UPLOAD, FILE_DOWNLOAD, FILE_DELETE",
		})
		return
	}

	from, ok := parseTimeParam(c, "from", req.From)
	if !ok {
		return
	}
	to, ok := parseTimeParam(c, "to", req.To)
	if !ok {
		return
	}

	cursor, err := DecodeActivityCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	activities, err := h.activities.List(c.Request.Context(), storage.ActivityFilter{
		UserID:   userID(c),
		Action:   domain.ActivityAction(req.Action),
		From:     from,
		To:       to,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, err, "Failed to list activities")
		return
	}

	hasMore := len(activities) > req.PageSize
	if hasMore {
		activities = activities[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		last := activities[len(activities)-1]
		nextCursor = EncodeActivityCursor(&storage.ActivityCursor{
			CreatedAt:  last.CreatedAt,
			ActivityID: last.ActivityID,
		})
	}

	c.JSON(http.StatusOK, dto.ListActivitiesResponse{
		Activities: dto.NewActivityDTOs(activities),
		NextCursor: nextCursor,
	})
}

func validActivityAction(action string) bool {
	switch domain.ActivityAction(action) {
	case "", domain.ActivityFileUpload, domain.ActivityFileDownload, domain.ActivityFileDelete:
		return true
	}
	return false
}

// parseTimeParam parses an optional RFC 3339 query value and writes a 400
// when it is malformed.
func parseTimeParam(c *gin.Context, name, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": name + " must be an RFC 3339 timestamp",
			"field": name,
		})
		return time.Time{}, false
	}
	return t.UTC(), true
}
