package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/upload-pipeline/internal/api/dto"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/upload"
)

// multipart framing allowance on top of the file bytes
const formOverhead = 1 << 20

// CreateUpload handles POST /api/v1/uploads
// Stages the multipart "files" parts and submits them as one job
func (h *UploadHandler) CreateUpload(c *gin.Context) {
	owner := userID(c)

	h.logger.Info("CreateUpload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("user_id", owner),
	)

	if h.maxFiles > 0 && h.maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.maxFiles)*h.maxFileSize+formOverhead)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload exceeds the allowed size"})
			return
		}
		h.logger.Error("Invalid multipart form", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}
	defer form.RemoveAll()

	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required", "field": "files"})
		return
	}
	if h.maxFiles > 0 && len(headers) > h.maxFiles {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("at most %d files per upload", h.maxFiles),
			"field": "files",
		})
		return
	}

	ctx := c.Request.Context()

	items := make([]upload.Item, 0, len(headers))
	for i, fh := range headers {
		if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
			h.discard(ctx, items)
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("file exceeds %d bytes", h.maxFileSize),
				"field": fmt.Sprintf("files[%d]", i),
			})
			return
		}

		item, err := h.stage(ctx, fh)
		if err != nil {
			h.discard(ctx, items)
			h.logger.Error("Failed to stage file",
				slog.String("file_name", fh.Filename),
				slog.Any("error", err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
			return
		}
		items = append(items, item)
	}

	result, err := h.coordinator.Submit(ctx, owner, items)
	if err != nil {
		h.discard(ctx, items)
		h.writeError(c, err, "Failed to create upload")
		return
	}

	c.JSON(http.StatusAccepted, dto.UploadResponse{
		JobID:  result.JobID,
		Status: string(result.Status),
		Files:  dto.NewFileDTOs(result.Files),
	})
}

// stage sniffs the content type and writes the part to the staging area
func (h *UploadHandler) stage(ctx context.Context, fh *multipart.FileHeader) (upload.Item, error) {
	f, err := fh.Open()
	if err != nil {
		return upload.Item{}, fmt.Errorf("failed to open part: %w", err)
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return upload.Item{}, fmt.Errorf("failed to detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return upload.Item{}, fmt.Errorf("failed to rewind part: %w", err)
	}

	obj, err := h.blobs.WriteStaged(ctx, fh.Filename, f)
	if err != nil {
		return upload.Item{}, err
	}

	return upload.Item{
		OriginalName: fh.Filename,
		MimeType:     mtype.String(),
		StagedKey:    obj.Key,
	}, nil
}

// discard removes staged bytes of a rejected submission
func (h *UploadHandler) discard(ctx context.Context, items []upload.Item) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range items {
		if err := h.blobs.Delete(ctx, item.StagedKey); err != nil {
			h.logger.Warn("Failed to discard staged file",
				slog.String("key", item.StagedKey),
				slog.Any("error", err),
			)
		}
	}
}

// GetUpload handles GET /api/v1/uploads/:job_id
// Returns the job and per-file statuses to the job owner
func (h *UploadHandler) GetUpload(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("GetUpload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	snapshot, err := h.status.GetStatus(c.Request.Context(), jobID, userID(c))
	if err != nil {
		h.writeError(c, err, "Failed to get upload status")
		return
	}

	c.JSON(http.StatusOK, dto.JobStatusResponse{
		Job:   dto.NewJobDTO(&snapshot.Job),
		Files: dto.NewFileDTOs(snapshot.Files),
	})
}

// validFileStatus reports whether s may be used as a list filter
func validFileStatus(s string) bool {
	switch domain.FileStatus(s) {
	case "", domain.FileStatusProcessing, domain.FileStatusCompleted, domain.FileStatusFailed:
		return true
	}
	return false
}
