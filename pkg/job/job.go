package job

import "time"

type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"

	// StatusCached is only ever reported on a submission that was resolved
	// through the idempotency cache. It is never stored on a job.
	StatusCached Status = "Cached"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

const TaskCreateThumbnail = "create_thumbnail"

// TaskArgs is what the worker needs to process a job. It is stored as JSON on
// the job record.
type TaskArgs struct {
	SourceBucket string `json:"source_bucket"`
	SourceObject string `json:"source_object"`
	OutputBucket string `json:"output_bucket"`
	OutputObject string `json:"output_object"`
	OriginalName string `json:"original_name,omitempty"`
}

type Job struct {
	ID          string    `json:"job_id"`
	Task        string    `json:"task"`
	Args        TaskArgs  `json:"args"`
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Attempts    int64     `json:"attempts"`
	MaxAttempts int64     `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeadLetterRecord is appended once per terminal failure.
type DeadLetterRecord struct {
	ObjectName string    `json:"objectName"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"jobId,omitempty"`
	Attempts   int64     `json:"attempts,omitempty"`
}

// Submission is returned to the uploader.
type Submission struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
	Cached bool   `json:"cached"`
}

// StatusView is returned to a poller. On success Result holds a download
// link, on failure the reason.
type StatusView struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
	Result string `json:"result,omitempty"`
}
