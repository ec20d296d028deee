package handlers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adevara/GoKB/internal/api"
	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/jobModel"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/job"
	"github.com/adevara/GoKB/internal/metrics"
	"github.com/adevara/GoKB/internal/rag"
	"github.com/adevara/GoKB/pkg/logger_i"
)

var (
	handlerInstance *IngestJobHandler //private singleton
	once            sync.Once
	logJH           *logger_i.Logger
)

// IngestJobHandler owns the queue side of ingestion requests. Chat never
// passes through here; it is answered synchronously by the rag service.
type IngestJobHandler struct {
	service      *job.Service
	ragService   rag.Service
	conversation kbModel.ConversationStore
}

func InitHandlers(jobService *job.Service, ragService rag.Service, conversation kbModel.ConversationStore) {
	once.Do(func() {
		handlerInstance = &IngestJobHandler{
			service:      jobService,
			ragService:   ragService,
			conversation: conversation,
		}

		logJH = logger_i.NewLogger("IngestJobHandler")
		logRH = logger_i.NewLogger("RequestHandler")
		logJH.Info("Starting ingest job handler")
	})
}

type newJobData struct {
	id           string
	traceId      string
	jobType      jobModel.JobType
	ingestURL    string
	documentName string
	documentPath string
}

func CreateNewIngestJob(newJob newJobData) {
	logJH.Info("Queueing ingestion job", "traceId", newJob.traceId, "job id", newJob.id)
	handlerInstance.pushToJobChannel(newJob)
}

func GetJobStatus(id string, traceId string) (result jobModel.Job, isFound bool) {
	ctxC := context.WithValue(context.Background(), config.TRACE_ID_KEY, traceId)
	if handlerInstance != nil {
		return handlerInstance.service.JobStore.GetJob(ctxC, id)
	}
	return result, false
}

func ValidateChatRequest(chatReq api.ChatRequest) bool {
	if handlerInstance == nil {
		return false
	}
	if chatReq.Message == "" {
		return false
	}
	if chatReq.ChatID == "" {
		return true
	}
	return handlerInstance.conversation.ValidateChatId(context.Background(), chatReq.ChatID)
}

func initNewChat(chatId string, traceId string) {
	ctxC := context.WithValue(context.Background(), config.TRACE_ID_KEY, traceId)
	if err := handlerInstance.conversation.InitNewChat(ctxC, chatId); err != nil {
		logJH.Error("Error initiating new chat", "chatId", chatId, "error", err)
	}
}

// private methods
func (h *IngestJobHandler) pushToJobChannel(newJob newJobData) {

	_job := jobModel.Job{}
	_job.Id = newJob.id
	_job.CreatedTime = time.Now()
	_job.TraceId = newJob.traceId
	_job.Status = jobModel.JobStatusQueued
	_job.JobType = newJob.jobType

	if newJob.jobType == jobModel.JobTypeIngestDocument {
		_job.CurrentStep = jobModel.IngestInit
		_job.JobPayload.DocumentName = newJob.documentName
		_job.JobPayload.DocumentPath = newJob.documentPath
	} else {
		_job.CurrentStep = jobModel.IngestInit
		_job.JobPayload.IngestURL = newJob.ingestURL
	}

	//metrics
	metrics.IncrementJobsInQueue()

	h.service.JobChannel <- _job //blocking send so a burst cannot overwhelm the system
	logJH.Info("Created new ingestion job")

	// Ingestion is batch-heavy (scrape, embed, upsert) so each queued job
	// nudges the dispatcher; every Nth request does the same as a backstop.
	// Idle workers retire on their own, so the pool shrinks back afterward.
	accurateCount := atomic.AddInt64(&h.service.RequestCount, 1)
	if accurateCount%config.RequestsPerNewWorkerCount == 0 || newJob.jobType == jobModel.JobTypeIngestDocument {
		metrics.StartDispatcherSignalCount() //metrics
		h.service.DispatcherChannel <- true
	}
}
