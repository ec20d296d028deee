package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/jobModel"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/metrics"
	"github.com/adevara/GoKB/internal/rag/ingest"
	"github.com/adevara/GoKB/internal/rag/prompt"
	"github.com/adevara/GoKB/internal/rag/stream"
	"github.com/adevara/GoKB/pkg/logger_i"
)

// emptyUpstream stands in for the model when no completion is needed, e.g.
// a link-only message. The relay still runs so the wire shape stays uniform.
func emptyUpstream() io.ReadCloser {
	return io.NopCloser(strings.NewReader("data: [DONE]\n\n"))
}

// syntheticUpstream replays a known answer (cache hit, fallback message) in
// the provider's own wire framing so the relay treats it like a live stream.
func syntheticUpstream(answer string) io.ReadCloser {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": answer}},
		},
	})
	return io.NopCloser(strings.NewReader("data: " + string(body) + "\n\ndata: [DONE]\n\n"))
}

// ingestionNotice turns per-URL outcomes into the status preamble shown ahead
// of the answer, plus the list of URLs now present in the index. Failed URLs
// appear in neither; the caller has already logged them.
func ingestionNotice(outcomes []ingest.URLOutcome) (string, []string) {
	var lines []string
	var indexed []string
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		if o.Result.AlreadyIndexed {
			lines = append(lines, fmt.Sprintf("Already indexed: %s", o.Result.Title))
		} else {
			lines = append(lines, fmt.Sprintf("Added to knowledge base: %s", o.Result.Title))
		}
		indexed = append(indexed, o.URL)
	}
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n\n", indexed
}

// sourcesSuffix renders the citation block appended after a grounded answer.
func sourcesSuffix(sources []kbModel.Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nSources:\n")
	for i, src := range sources {
		if src.Category != "" {
			fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, src.File, src.Category)
		} else {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, src.File)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// fallbackStream delivers the fixed apologetic message when answer generation
// itself broke. No sources are attached; citing anything would be a lie.
func (s *service) fallbackStream(chatId string, question string, preamble string, indexedUrls []string) *AnswerStream {
	relay := stream.NewRelay(syntheticUpstream(config.FallbackAnswer), stream.Options{
		Preamble:    preamble,
		IndexedURLs: indexedUrls,
	})
	return s.newAnswerStream(chatId, question, relay, nil, nil)
}

func retryable(err error) bool {
	var ingErr *kbModel.IngestionError
	if errors.As(err, &ingErr) {
		// Empty pages and unchunkable content will not improve on retry.
		return ingErr.Reason == kbModel.IngestUpstreamFailure
	}
	return true
}

func completeIngestJob(job jobModel.Job, result kbModel.IngestResult) jobModel.Job {
	job.JobPayload.Title = result.Title
	job.JobPayload.ChunkCount = result.ChunkCount
	job.JobPayload.AlreadyIndexed = result.AlreadyIndexed
	job.CurrentStep = jobModel.Complete
	job.Status = jobModel.JobStatusComplete
	job.EndTime = time.Now()
	return job
}

func (s *service) jobError(job jobModel.Job, err error, message string, canRetry bool) jobModel.Job {
	s.logger.Error(message, "error", err, "JobId", job.Id)

	job.Error = jobModel.JobError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
		Retry:   canRetry,
	}
	job.Status = jobModel.JobStatusError
	job.CurrentStep = jobModel.Error
	job.EndTime = time.Now()
	return job
}

func (s *service) executeIngestStep(ctx context.Context, log *logger_i.Logger, urls []string) []ingest.URLOutcome {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("inline_ingestion", time.Since(start)) }()

	outcomes := s.coordinator.IngestURLs(ctx, urls)
	for _, o := range outcomes {
		if o.Err != nil {
			log.Warn("URL skipped during inline ingestion", "url", o.URL, "error", o.Err)
		}
	}
	return outcomes
}

func (s *service) executeEmbeddingStep(ctx context.Context, log *logger_i.Logger, question string) ([]float32, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("embedding", time.Since(start)) }()

	vector, err := s.embedder.GetEmbedding(ctx, question)
	if err != nil {
		log.Error("Query embedding failed", "error", err)
	}
	return vector, err
}

func (s *service) executeCacheCheckStep(ctx context.Context, log *logger_i.Logger, vector []float32) (kbModel.CachedAnswer, bool) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("cache_lookup", time.Since(start)) }()

	cached, found, err := s.vectorDB.GetCachedAnswer(ctx, vector)
	if err != nil {
		log.Warn("Cache lookup failed, continuing without it", "error", err)
	}
	metrics.CaptureCacheLookup(found)
	return cached, found
}

func (s *service) executeVectorSearchStep(ctx context.Context, log *logger_i.Logger, vector []float32) ([]kbModel.Passage, []kbModel.Source, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("vector_search", time.Since(start)) }()

	passages, sources, err := s.retriever.RetrieveEmbedded(ctx, vector, config.RetrievalTopK)
	if err != nil {
		log.Error("Index search failed", "error", err)
	}
	return passages, sources, err
}

func (s *service) executeLLMStreamStep(ctx context.Context, log *logger_i.Logger, grounded prompt.Grounded) (io.ReadCloser, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("llm_stream_open", time.Since(start)) }()

	upstream, err := s.llmProvider.StreamCompletion(ctx, grounded.SystemInstructions, grounded.Messages())
	if err != nil {
		log.Error("Completion stream failed to open", "error", err)
	}
	return upstream, err
}
