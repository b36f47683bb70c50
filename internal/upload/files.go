package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/cuongbtq/upload-pipeline/internal/blob"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// Files serves an owner's stored files.
type Files struct {
	ledger storage.Ledger
	blobs  blob.Store
	status *StatusQuery
	logger *slog.Logger
}

// NewFiles creates a new Files service. status may be nil.
func NewFiles(ledger storage.Ledger, blobs blob.Store, status *StatusQuery, logger *slog.Logger) *Files {
	return &Files{
		ledger: ledger,
		blobs:  blobs,
		status: status,
		logger: logger,
	}
}

// List returns up to filter.PageSize+1 of the owner's files, newest first.
func (s *Files) List(ctx context.Context, filter storage.FileFilter) ([]domain.File, error) {
	files, err := s.ledger.ListFiles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Open streams a completed file to its owner.
func (s *Files) Open(ctx context.Context, fileID, requesterID string) (*domain.File, io.ReadCloser, error) {
	file, err := s.owned(ctx, fileID, requesterID)
	if err != nil {
		return nil, nil, err
	}
	if file.Status != domain.FileStatusCompleted {
		return nil, nil, domain.ErrFileNotReady
	}

	rc, err := s.blobs.Open(ctx, file.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file %s: %w", fileID, err)
	}

	recordActivity(ctx, s.ledger, s.logger, requesterID, domain.ActivityFileDownload, map[string]any{
		"file_id": file.FileID,
		"job_id":  file.JobID,
	})

	return file, rc, nil
}

// Delete removes a file that is no longer processing, record first and
// bytes second. A leftover object is logged and otherwise ignored.
func (s *Files) Delete(ctx context.Context, fileID, requesterID string) error {
	file, err := s.owned(ctx, fileID, requesterID)
	if err != nil {
		return err
	}

	if err := s.ledger.DeleteFile(ctx, fileID); err != nil {
		return err
	}

	if s.status != nil {
		s.status.Invalidate(file.JobID)
	}

	// A failed file may still hold bytes at either key: a move can land
	// after the reaper has already failed the record.
	keys := []string{file.StorageKey}
	if file.Status == domain.FileStatusFailed && file.StagedKey != "" {
		keys = append(keys, file.StagedKey)
	}
	for _, key := range keys {
		if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("Failed to delete stored bytes",
				slog.String("file_id", fileID),
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
	}

	recordActivity(ctx, s.ledger, s.logger, requesterID, domain.ActivityFileDelete, map[string]any{
		"file_id":       file.FileID,
		"job_id":        file.JobID,
		"original_name": file.OriginalName,
	})

	s.logger.Info("File deleted",
		slog.String("file_id", fileID),
		slog.String("owner_id", requesterID),
	)

	return nil
}

func (s *Files) owned(ctx context.Context, fileID, requesterID string) (*domain.File, error) {
	file, err := s.ledger.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != requesterID {
		return nil, domain.ErrPermissionDenied
	}
	return file, nil
}
