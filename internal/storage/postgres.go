package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
)

const (
	jobColumns = `job_id, owner_id, total_files, processed_files, failed_files,
		status, error_message, created_at, updated_at, completed_at`

	fileColumns = `file_id, job_id, owner_id, position, original_name, mime_type, size_bytes,
		staged_key, storage_key, status, error_message, created_at, updated_at`
)

// PostgresLedger is the Ledger backed by PostgreSQL.
type PostgresLedger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresLedger creates a new PostgresLedger instance
func NewPostgresLedger(db *sqlx.DB, logger *slog.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresLedger) CreateJob(ctx context.Context, job *domain.Job, files []domain.File) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyPQ(err))
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO upload_jobs (`+jobColumns+`)
		VALUES (:job_id, :owner_id, :total_files, :processed_files, :failed_files,
			:status, :error_message, :created_at, :updated_at, :completed_at)
	`, job)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", classifyPQ(err))
	}

	if len(files) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO upload_files (`+fileColumns+`)
			VALUES (:file_id, :job_id, :owner_id, :position, :original_name, :mime_type, :size_bytes,
				:staged_key, :storage_key, :status, :error_message, :created_at, :updated_at)
		`, files)
		if err != nil {
			return fmt.Errorf("failed to create files: %w", classifyPQ(err))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", classifyPQ(err))
	}

	return nil
}

func (s *PostgresLedger) MarkJobProcessing(ctx context.Context, jobID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE upload_jobs
		SET status = $1, updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`, domain.JobStatusProcessing, jobID, domain.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark job processing: %w", classifyPQ(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (s *PostgresLedger) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return getJob(ctx, s.db, jobID, false)
}

func (s *PostgresLedger) GetJobSnapshot(ctx context.Context, jobID string) (*domain.JobSnapshot, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", classifyPQ(err))
	}
	defer tx.Rollback()

	job, err := getJob(ctx, tx, jobID, false)
	if err != nil {
		return nil, err
	}

	files := []domain.File{}
	err = tx.SelectContext(ctx, &files, `
		SELECT `+fileColumns+`
		FROM upload_files
		WHERE job_id = $1
		ORDER BY position, file_id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job files: %w", classifyPQ(err))
	}

	return &domain.JobSnapshot{Job: *job, Files: files}, nil
}

func (s *PostgresLedger) GetFile(ctx context.Context, fileID string) (*domain.File, error) {
	return getFile(ctx, s.db, fileID, false)
}

// RecordFileOutcome locks the file row, then its job row, applies the
// transition and writes both rows back in one transaction. Sibling files
// lock distinct file rows and queue on the job row.
func (s *PostgresLedger) RecordFileOutcome(ctx context.Context, fileID string, status domain.FileStatus, reason string) (_ *domain.Outcome, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classifyPQ(err))
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	file, err := getFile(ctx, tx, fileID, true)
	if err != nil {
		return nil, err
	}

	job, err := getJob(ctx, tx, file.JobID, true)
	if err != nil {
		return nil, err
	}

	if file.Status.IsTerminal() {
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", classifyPQ(err))
		}
		return &domain.Outcome{Applied: false, File: *file, Job: *job}, nil
	}

	now := time.Now().UTC()
	finalized, latched, err := job.ApplyFileOutcome(status, reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to apply outcome of file %s: %w", fileID, err)
	}

	file.Status = status
	file.UpdatedAt = now
	if status == domain.FileStatusFailed {
		file.Error = reason
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE upload_files
		SET status = $1, error_message = $2, updated_at = $3
		WHERE file_id = $4
	`, file.Status, file.Error, file.UpdatedAt, file.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to update file status: %w", classifyPQ(err))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE upload_jobs
		SET processed_files = $1,
			failed_files = $2,
			status = $3,
			error_message = $4,
			updated_at = $5,
			completed_at = $6
		WHERE job_id = $7
	`, job.ProcessedFiles, job.FailedFiles, job.Status, job.Error, job.UpdatedAt, job.CompletedAt, job.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to update job progress: %w", classifyPQ(err))
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit outcome: %w", classifyPQ(err))
	}

	if finalized {
		s.logger.Info("Job finalized",
			slog.String("job_id", job.JobID),
			slog.String("status", string(job.Status)),
			slog.Int("total_files", job.TotalFiles),
			slog.Int("failed_files", job.FailedFiles),
		)
	}

	return &domain.Outcome{
		Applied:        true,
		File:           *file,
		Job:            *job,
		Finalized:      finalized,
		FailureLatched: latched,
	}, nil
}

func (s *PostgresLedger) ListFiles(ctx context.Context, filter FileFilter) ([]domain.File, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM upload_files
		WHERE owner_id = $1
	`
	args := []interface{}{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, file_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.FileID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, file_id DESC"

	// One extra row tells the caller whether a next page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	files := []domain.File{}
	if err := s.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", classifyPQ(err))
	}

	return files, nil
}

func (s *PostgresLedger) DeleteFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM upload_files
		WHERE file_id = $1 AND status <> $2
	`, fileID, domain.FileStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", classifyPQ(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetFile(ctx, fileID); err != nil {
			return err
		}
		return domain.ErrFileNotDeletable
	}

	return nil
}

func (s *PostgresLedger) ListStaleFiles(ctx context.Context, olderThan time.Time, limit int) ([]domain.File, error) {
	files := []domain.File{}
	err := s.db.SelectContext(ctx, &files, `
		SELECT `+fileColumns+`
		FROM upload_files
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, domain.FileStatusProcessing, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale files: %w", classifyPQ(err))
	}

	return files, nil
}

func (s *PostgresLedger) RecordActivity(ctx context.Context, activity *domain.Activity) error {
	var details interface{}
	if len(activity.Details) > 0 {
		// lib/pq sends []byte as bytea, which jsonb rejects
		details = string(activity.Details)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (activity_id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, activity.ActivityID, activity.UserID, activity.Action, details, activity.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", classifyPQ(err))
	}

	return nil
}

// activityRow scans details through NullString since lib/pq returns NULL
// jsonb as nil.
type activityRow struct {
	ActivityID string         `db:"activity_id"`
	UserID     string         `db:"user_id"`
	Action     string         `db:"action"`
	Details    sql.NullString `db:"details"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (s *PostgresLedger) ListActivities(ctx context.Context, filter ActivityFilter) ([]domain.Activity, error) {
	query := `
		SELECT activity_id, user_id, action, details, created_at
		FROM activity_logs
		WHERE user_id = $1
	`
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}

	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.From)
		argIdx++
	}

	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.To)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, activity_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ActivityID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, activity_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	rows := []activityRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if isInvalidUUID(err) {
			return []domain.Activity{}, nil
		}
		return nil, fmt.Errorf("failed to list activities: %w", classifyPQ(err))
	}

	activities := make([]domain.Activity, len(rows))
	for i, r := range rows {
		activities[i] = domain.Activity{
			ActivityID: r.ActivityID,
			UserID:     r.UserID,
			Action:     domain.ActivityAction(r.Action),
			CreatedAt:  r.CreatedAt,
		}
		if r.Details.Valid {
			activities[i].Details = json.RawMessage(r.Details.String)
		}
	}

	return activities, nil
}

func getJob(ctx context.Context, q sqlx.QueryerContext, jobID string, forUpdate bool) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE job_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var job domain.Job
	if err := sqlx.GetContext(ctx, q, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", classifyPQ(err))
	}

	return &job, nil
}

func getFile(ctx context.Context, q sqlx.QueryerContext, fileID string, forUpdate bool) (*domain.File, error) {
	query := `SELECT ` + fileColumns + ` FROM upload_files WHERE file_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var file domain.File
	if err := sqlx.GetContext(ctx, q, &file, query, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", classifyPQ(err))
	}

	return &file, nil
}

// classifyPQ maps lock and serialization failures to ErrConcurrencyConflict
// so callers can retry them.
func classifyPQ(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch string(pqErr.Code) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pqErr.Message)
	default:
		return err
	}
}

func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.InvalidTextRepresentation
}
