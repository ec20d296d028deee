package jobModel

import (
	"context"
	"time"
)

type JobStatus string
type InternalStatus string
type JobType string

const (
	JobStatusQueued   JobStatus = "QUEUED"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusError    JobStatus = "Error"

	IngestInit       InternalStatus = "IngestInit"
	IngestProbe      InternalStatus = "IngestProbe"
	IngestScrape     InternalStatus = "IngestScrape"
	IngestExtract    InternalStatus = "IngestExtract"
	IngestChunking   InternalStatus = "IngestChunking"
	IngestEmbedding  InternalStatus = "IngestEmbedding"
	IngestUpsert     InternalStatus = "IngestUpsert"
	Complete         InternalStatus = "Complete"
	Error            InternalStatus = "Error"

	JobTypeIngestURL      JobType = "IngestURL"
	JobTypeIngestDocument JobType = "IngestDocument"
)

// Job is one asynchronous ingestion request flowing through the worker pool.
// Chat is not a job: answers stream back on the request that asked for them.
type Job struct {
	Id          string         `json:"id"`
	TraceId     string         `json:"trace_id"`
	JobType     JobType        `json:"job_type"`
	JobPayload  JobPayload     `json:"job_payload"`
	Error       JobError       `json:"error,omitempty"`
	CreatedTime time.Time      `json:"created_time"`
	EndTime     time.Time      `json:"end_time,omitempty"`
	Status      JobStatus      `json:"status"`
	CurrentStep InternalStatus `json:"current_step"`
}

type JobError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

type JobPayload struct {
	//url ingestion
	IngestURL string `json:"ingest_url,omitempty"`

	//document upload ingestion
	DocumentName string `json:"document_name,omitempty"`
	DocumentPath string `json:"document_path,omitempty"`

	//result
	Title          string `json:"title,omitempty"`
	ChunkCount     int    `json:"chunk_count,omitempty"`
	AlreadyIndexed bool   `json:"already_indexed,omitempty"`
}

type JobStore interface {
	GetJob(ctx context.Context, jobId string) (Job, bool)
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string)
}
