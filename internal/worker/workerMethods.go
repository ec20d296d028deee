package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/adevara/GoKB/internal/config"
	jobmodel "github.com/adevara/GoKB/internal/domain/jobModel"
	"github.com/adevara/GoKB/internal/metrics"
)

func executeJob(job jobmodel.Job) {
	start := time.Now()
	defer func() {
		metrics.CaptureJobMetrics(string(job.Status), time.Since(start))
	}()
	ctxTrace := context.WithValue(context.Background(), config.TRACE_ID_KEY, job.TraceId)
	ctx, cancel := context.WithTimeout(ctxTrace, config.IngestJobTimeout)
	defer cancel()
	logger.Debug("Processing job:", "job Id:", job.Id, "traceId", job.TraceId)

	saveJobState(ctx, job, jobmodel.JobStatusRunning)

	switch job.JobType {
	case jobmodel.JobTypeIngestDocument:
		job = _ragService.IngestDocumentJob(ctx, job)
	default:
		job = _ragService.IngestURLJob(ctx, job)
	}

	// The service stamps terminal status and end time on the job itself.
	saveJobState(ctx, job, job.Status)
}

func removeWorker(reason string) {
	workerWaitGroup.Done()
	atomic.AddInt64(&currentWorkerCount, -1)
	logger.Info("Removed worker ", "reason", reason, "workerCount", currentWorkerCount)
	metrics.DecrementActiveWorkerCount()
}

func saveJobState(ctx context.Context, job jobmodel.Job, jobStatus jobmodel.JobStatus) {
	job.Status = jobStatus
	if err := _jobService.JobStore.SaveJob(ctx, job); err != nil {
		logger.Error("Failed to update status in Redis", "err", err)
	}
}
