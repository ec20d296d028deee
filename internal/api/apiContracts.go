package api

import "time"

type JobExternalStatus string

const (
	JobStatusError JobExternalStatus = "Error"
)

type JobResponse struct {
	Id        string            `json:"id" example:"job_cz109"`
	Result    Result            `json:"result"`
	Error     *JobOutgoingError `json:"error,omitempty"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
}

type JobOutgoingError struct {
	Code    int    `json:"code" example:"400"`
	Message string `json:"message" example:"Job not found"`
	Retry   bool   `json:"can_retry" example:"false"`
}

// IngestOutcome is the externally visible result of a finished ingestion job.
type IngestOutcome struct {
	Title          string `json:"title"`
	ChunkCount     int    `json:"chunk_count"`
	AlreadyIndexed bool   `json:"already_indexed"`
}

type Result struct {
	Status        string         `json:"status"`
	IngestOutcome *IngestOutcome `json:"ingest_outcome,omitempty"`
}

type InitJobResponse struct {
	Id        string `json:"id"`
	StatusURL string `json:"status_url"`
}

// requests---------------------

type ChatRequest struct {
	Message string `json:"message" validate:"required"`
	ChatID  string `json:"chatID,omitempty"`
}

type IngestURLRequest struct {
	URL string `json:"url" validate:"required"`
}

type FeedbackRequest struct {
	ChatID  string `json:"chatID" validate:"required"`
	Helpful *bool  `json:"helpful" validate:"required"`
	Comment string `json:"comment,omitempty"`
}
