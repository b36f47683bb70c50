package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
)

type ListFilesRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListFilesResponse struct {
	Files      []FileDTO `json:"files"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListActivitiesRequest binds GET /api/v1/activities; From and To are RFC 3339.
type ListActivitiesRequest struct {
	Action   string `form:"action"`
	From     string `form:"from"`
	To       string `form:"to"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListActivitiesResponse struct {
	Activities []ActivityDTO `json:"activities"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type ActivityDTO struct {
	ActivityID string          `json:"activity_id"`
	Action     string          `json:"action"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

type UploadResponse struct {
	JobID  string    `json:"job_id"`
	Status string    `json:"status"`
	Files  []FileDTO `json:"files"`
}

type JobStatusResponse struct {
	Job   JobDTO    `json:"job"`
	Files []FileDTO `json:"files"`
}

type JobDTO struct {
	JobID          string `json:"job_id"`
	OwnerID        string `json:"owner_id"`
	Status         string `json:"status"`
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	FailedFiles    int    `json:"failed_files"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

type FileDTO struct {
	FileID       string `json:"file_id"`
	JobID        string `json:"job_id"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func NewJobDTO(j *domain.Job) JobDTO {
	dto := JobDTO{
		JobID:          j.JobID,
		OwnerID:        j.OwnerID,
		Status:         string(j.Status),
		TotalFiles:     j.TotalFiles,
		ProcessedFiles: j.ProcessedFiles,
		FailedFiles:    j.FailedFiles,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		dto.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func NewFileDTO(f *domain.File) FileDTO {
	return FileDTO{
		FileID:       f.FileID,
		JobID:        f.JobID,
		OriginalName: f.OriginalName,
		MimeType:     f.MimeType,
		Size:         f.Size,
		Status:       string(f.Status),
		Error:        f.Error,
		CreatedAt:    f.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    f.UpdatedAt.Format(time.RFC3339),
	}
}

func NewFileDTOs(files []domain.File) []FileDTO {
	out := make([]FileDTO, len(files))
	for i := range files {
		out[i] = NewFileDTO(&files[i])
	}
	return out
}

func NewActivityDTOs(activities []domain.Activity) []ActivityDTO {
	out := make([]ActivityDTO, len(activities))
	for i, a := range activities {
		out[i] = ActivityDTO{
			ActivityID: a.ActivityID,
			Action:     string(a.Action),
			Details:    a.Details,
			CreatedAt:  a.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	return out
}
