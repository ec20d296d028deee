package adapter

import (
	"fmt"
	"time"

	"github.com/adevara/GoKB/internal/api"
	"github.com/adevara/GoKB/internal/domain/jobModel"
)

func ToInitJobResponse(id string) api.InitJobResponse {
	return api.InitJobResponse{
		Id:        id,
		StatusURL: fmt.Sprintf("status/%s", id),
	}
}

func ToAPIResponse(job jobModel.Job) api.JobResponse {

	var errorPtr *api.JobOutgoingError
	if job.Error.Message != "" || job.Error.Code != 0 {
		errorPtr = &api.JobOutgoingError{
			Code:    job.Error.Code,
			Message: job.Error.Message,
			Retry:   job.Error.Retry,
		}
	}

	result := api.Result{
		Status:        string(job.Status),
		IngestOutcome: ToIngestOutcome(job),
	}

	return api.JobResponse{
		Id:        job.Id,
		StartTime: job.CreatedTime,
		EndTime:   job.EndTime,
		Error:     errorPtr,
		Result:    result,
	}
}

func ToIngestOutcome(job jobModel.Job) *api.IngestOutcome {
	if job.Status != jobModel.JobStatusComplete {
		return nil
	}
	return &api.IngestOutcome{
		Title:          job.JobPayload.Title,
		ChunkCount:     job.JobPayload.ChunkCount,
		AlreadyIndexed: job.JobPayload.AlreadyIndexed,
	}
}

func BadRequest(id string, error string, code int) api.JobResponse {
	return api.JobResponse{
		Id:        id,
		StartTime: time.Time{},
		EndTime:   time.Time{},
		Result: api.Result{
			Status: string(api.JobStatusError),
		},
		Error: &api.JobOutgoingError{
			Code:    code,
			Message: error,
			Retry:   false,
		},
	}
}
