package rag

import (
	"context"
	"time"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/jobModel"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/metrics"
	"github.com/adevara/GoKB/internal/rag/embedding"
	"github.com/adevara/GoKB/internal/rag/ingest"
	"github.com/adevara/GoKB/internal/rag/llm"
	"github.com/adevara/GoKB/internal/rag/prompt"
	"github.com/adevara/GoKB/internal/rag/retrieve"
	"github.com/adevara/GoKB/internal/rag/scrape"
	"github.com/adevara/GoKB/internal/rag/stream"
	"github.com/adevara/GoKB/internal/rag/urlx"
	"github.com/adevara/GoKB/internal/rag/vectorDB"
	"github.com/adevara/GoKB/pkg/logger_i"
)

// Service is the public contract. The chat handler and the ingestion worker
// only ever see this interface; the private struct below holds the actual
// provider and index clients so they can be swapped for mocks in tests.
type Service interface {
	// AnswerQuestion runs the full grounded answer pipeline for one chat
	// message and returns a live event stream. A non-nil error means the
	// request must fail with a structured payload and no partial answer;
	// softer failures degrade inside the stream itself.
	AnswerQuestion(ctx context.Context, chatId string, question string) (*AnswerStream, error)

	// IngestURLJob and IngestDocumentJob run one queued ingestion job to
	// completion. The worker pool calls these.
	IngestURLJob(ctx context.Context, job jobModel.Job) jobModel.Job
	IngestDocumentJob(ctx context.Context, job jobModel.Job) jobModel.Job
}

type service struct {
	vectorDB    vectorDB.DataProcessor
	llmProvider llm.Provider
	embedder    embedding.Embedder
	retriever   *retrieve.Retriever
	coordinator *ingest.Coordinator
	history     kbModel.ConversationStore
	logger      *logger_i.Logger
}

// NewService wires the pipeline. The retriever and ingestion coordinator are
// built here from the injected collaborators so callers only assemble leaf
// dependencies.
func NewService(vector vectorDB.DataProcessor, llmProvider llm.Provider, em embedding.Embedder, sc scrape.Scraper, conv kbModel.ConversationStore) Service {
	return &service{
		vectorDB:    vector,
		llmProvider: llmProvider,
		embedder:    em,
		retriever:   retrieve.NewRetriever(vector, em, config.RelevanceThreshold),
		coordinator: ingest.NewCoordinator(vector, sc, em, config.MaxChunkBytes),
		history:     conv,
		logger:      logger_i.NewLogger("RAG Service :"),
	}
}

func (s *service) AnswerQuestion(ctx context.Context, chatId string, question string) (*AnswerStream, error) {
	inMethodLogger := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "chatId", chatId)
	start := time.Now()

	// Any URLs in the message get ingested before answering so the answer
	// can already draw on their content. Per-URL failures are logged and
	// the answer still proceeds.
	urls := urlx.ExtractURLs(question)
	var preamble string
	var indexedUrls []string
	if len(urls) > 0 {
		outcomes := s.executeIngestStep(ctx, inMethodLogger, urls)
		preamble, indexedUrls = ingestionNotice(outcomes)
	}

	// A message that is essentially just a link wants indexing, not an
	// answer. Skip retrieval and the model entirely.
	if len(urls) > 0 && urlx.IsLikelyURLOnly(question, config.URLOnlyResidualChars) {
		relay := stream.NewRelay(emptyUpstream(), stream.Options{
			Preamble:    preamble,
			IndexedURLs: indexedUrls,
		})
		metrics.CaptureJobMetrics("url_only", time.Since(start))
		return s.newAnswerStream(chatId, question, relay, nil, nil), nil
	}

	history, err := s.history.GetHistory(ctx, chatId, config.HistoryWindowTurns)
	if err != nil {
		inMethodLogger.Warn("History unavailable, answering without it", "error", err)
		history = nil
	}

	// Bare courtesy messages get a polite reply straight from the model.
	// No embedding, no cache, no index query.
	if prompt.IsGreeting(question) {
		grounded := prompt.BuildGroundedPrompt(question, nil, nil, history)
		upstream, err := s.executeLLMStreamStep(ctx, inMethodLogger, grounded)
		if err != nil {
			metrics.CaptureJobMetrics("fallback", time.Since(start))
			return s.fallbackStream(chatId, question, preamble, indexedUrls), nil
		}
		relay := stream.NewRelay(upstream, stream.Options{
			Preamble:    preamble,
			IndexedURLs: indexedUrls,
		})
		metrics.CaptureJobMetrics("greeting", time.Since(start))
		return s.newAnswerStream(chatId, question, relay, nil, nil), nil
	}

	// Embedding
	queryVector, err := s.executeEmbeddingStep(ctx, inMethodLogger, question)
	if err != nil {
		metrics.CaptureJobMetrics("fallback", time.Since(start))
		return s.fallbackStream(chatId, question, preamble, indexedUrls), nil
	}

	// Cache Check
	cached, found := s.executeCacheCheckStep(ctx, inMethodLogger, queryVector)
	if found {
		relay := stream.NewRelay(syntheticUpstream(cached.Answer), stream.Options{
			Preamble:        preamble,
			SourcesSuffix:   sourcesSuffix(cached.Sources),
			RefusalSentence: config.RefusalSentence,
			Sources:         cached.Sources,
			IndexedURLs:     indexedUrls,
		})
		metrics.CaptureJobMetrics("cache_hit", time.Since(start))
		return s.newAnswerStream(chatId, question, relay, nil, nil), nil
	}

	// Vector DB Search
	passages, sources, err := s.executeVectorSearchStep(ctx, inMethodLogger, queryVector)
	if err != nil {
		// An ungrounded answer must never be passed off as "nothing
		// relevant found". The request fails instead.
		metrics.CaptureJobMetrics("retrieval_error", time.Since(start))
		return nil, err
	}

	// LLM Generation
	grounded := prompt.BuildGroundedPrompt(question, passages, sources, history)
	upstream, err := s.executeLLMStreamStep(ctx, inMethodLogger, grounded)
	if err != nil {
		metrics.CaptureJobMetrics("fallback", time.Since(start))
		return s.fallbackStream(chatId, question, preamble, indexedUrls), nil
	}

	relay := stream.NewRelay(upstream, stream.Options{
		Preamble:        preamble,
		SourcesSuffix:   sourcesSuffix(sources),
		RefusalSentence: config.RefusalSentence,
		Sources:         sources,
		IndexedURLs:     indexedUrls,
	})
	metrics.CaptureJobMetrics("answered", time.Since(start))
	return s.newAnswerStream(chatId, question, relay, queryVector, sources), nil
}

func (s *service) IngestURLJob(ctx context.Context, job jobModel.Job) jobModel.Job {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("url_ingestion", time.Since(start)) }()

	job.Status = jobModel.JobStatusRunning
	job.CurrentStep = jobModel.IngestProbe

	result, err := s.coordinator.IngestURL(ctx, job.JobPayload.IngestURL)
	if err != nil {
		return s.jobError(job, err, "URL_INGESTION_FAILURE", retryable(err))
	}
	return completeIngestJob(job, result)
}

func (s *service) IngestDocumentJob(ctx context.Context, job jobModel.Job) jobModel.Job {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("document_ingestion", time.Since(start)) }()

	job.Status = jobModel.JobStatusRunning
	job.CurrentStep = jobModel.IngestExtract

	result, err := s.coordinator.IngestDocument(ctx, job.JobPayload.DocumentName, job.JobPayload.DocumentPath)
	if err != nil {
		return s.jobError(job, err, "DOCUMENT_INGESTION_FAILURE", retryable(err))
	}
	return completeIngestJob(job, result)
}
