package handler

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/upload-pipeline/internal/api/dto"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// ListFiles handles GET /api/v1/files
// Lists the caller's files, newest first, with cursor pagination
func (h *UploadHandler) ListFiles(c *gin.Context) {
	h.logger.Info("ListFiles called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListFilesRequest
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

	if !validFileStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of processing, completed, failed",
		})
		return
	}

	cursor, err := DecodeFileCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	files, err := h.files.List(c.Request.Context(), storage.FileFilter{
		OwnerID:  userID(c),
		Status:   domain.FileStatus(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, err, "Failed to list files")
		return
	}

	hasMore := len(files) > req.PageSize
	if hasMore {
		files = files[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		last := files[len(files)-1]
		nextCursor = EncodeFileCursor(&storage.FileCursor{
			CreatedAt: last.CreatedAt,
			FileID:    last.FileID,
		})
	}

	c.JSON(http.StatusOK, dto.ListFilesResponse{
		Files:      dto.NewFileDTOs(files),
		NextCursor: nextCursor,
	})
}

// DownloadFile handles GET /api/v1/files/:file_id/download
// Streams a completed file under its original name
func (h *UploadHandler) DownloadFile(c *gin.Context) {
	fileID := c.Param("file_id")

	h.logger.Info("DownloadFile called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("file_id", fileID),
	)

	if _, err := uuid.Parse(fileID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file_id must be a valid UUID",
		})
		return
	}

	file, rc, err := h.files.Open(c.Request.Context(), fileID, userID(c))
	if err != nil {
		h.writeError(c, err, "Failed to open file")
		return
	}
	defer rc.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": file.OriginalName})
	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

// DeleteFile handles DELETE /api/v1/files/:file_id
// Deletes a file that is no longer processing
func (h *UploadHandler) DeleteFile(c *gin.Context) {
	fileID := c.Param("file_id")

	h.logger.Info("DeleteFile called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("file_id", fileID),
	)

	if _, err := uuid.Parse(fileID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file_id must be a valid UUID",
		})
		return
	}

	if err := h.files.Delete(c.Request.Context(), fileID, userID(c)); err != nil {
		h.writeError(c, err, "Failed to delete file")
		return
	}

	c.Status(http.StatusNoContent)
}
