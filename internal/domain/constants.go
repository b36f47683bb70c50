package domain

// JobStatus is the lifecycle state of an upload job.
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// FileStatus is the lifecycle state of a single uploaded file.
type FileStatus string

// File status constants
const (
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// IsTerminal reports whether the file outcome has been recorded.
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted || s == FileStatusFailed
}

// ActivityAction names an audited user action.
type ActivityAction string

// Activity actions
const (
	ActivityFileUpload   ActivityAction = "FILE_UPLOAD"
	ActivityFileDownload ActivityAction = "FILE_DOWNLOAD"
	ActivityFileDelete   ActivityAction = "FILE_DELETE"
)

// Failure reasons recorded on files and jobs.
const (
	ReasonDeadlineExceeded = "processing deadline exceeded"
	ReasonEnqueueFailed    = "enqueue failed"
)
