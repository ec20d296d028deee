package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/rag/chunker"
	"github.com/adevara/GoKB/internal/rag/embedding"
	"github.com/adevara/GoKB/internal/rag/scrape"
	"github.com/adevara/GoKB/internal/rag/vectorDB"
	"github.com/adevara/GoKB/pkg/logger_i"
)

const embedBatchSize = 100

// Coordinator owns the ingestion side of the knowledge base: existence probing,
// scraping, chunking and the batch upsert. It holds no state between calls - the
// index is the only memory it consults.
type Coordinator struct {
	vectorDB      vectorDB.DataProcessor
	scraper       scrape.Scraper
	embedder      embedding.Embedder
	maxChunkBytes int
	logger        *logger_i.Logger
}

func NewCoordinator(db vectorDB.DataProcessor, sc scrape.Scraper, em embedding.Embedder, maxChunkBytes int) *Coordinator {
	return &Coordinator{
		vectorDB:      db,
		scraper:       sc,
		embedder:      em,
		maxChunkBytes: maxChunkBytes,
		logger:        logger_i.NewLogger("Ingestion"),
	}
}

// URLOutcome is one URL's result inside a batch. Err is an *IngestionError when
// that URL failed; the rest of the batch is unaffected.
type URLOutcome struct {
	URL    string
	Result kbModel.IngestResult
	Err    error
}

// IngestURL indexes one web page. Repeating the call for an already-indexed URL
// is a no-op: the live probe finds the earlier chunks and no scrape is issued.
func (c *Coordinator) IngestURL(ctx context.Context, pageURL string) (kbModel.IngestResult, error) {
	log := c.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "url", pageURL)

	existing, err := c.vectorDB.CountBySourceURL(ctx, pageURL)
	if err != nil {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(pageURL, kbModel.IngestUpstreamFailure, err)
	}
	if existing > 0 {
		log.Debug("URL already indexed", "chunks", existing)
		return kbModel.IngestResult{
			Title:          scrape.DomainName(pageURL),
			SourceFile:     scrape.DomainName(pageURL),
			ChunkCount:     existing,
			AlreadyIndexed: true,
		}, nil
	}

	page, err := c.scraper.Scrape(ctx, pageURL)
	if err != nil {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(pageURL, kbModel.IngestUpstreamFailure, err)
	}
	if strings.TrimSpace(page.Content) == "" {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(pageURL, kbModel.IngestNoContent, nil)
	}

	chunks := chunker.Chunk(page.Content, c.maxChunkBytes)
	if len(chunks) == 0 {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(pageURL, kbModel.IngestNoChunks, nil)
	}

	sourceFile := fmt.Sprintf("%s (%s)", page.Title, scrape.DomainName(pageURL))
	doc := kbModel.DocumentMeta{
		SourceFile: sourceFile,
		Category:   "web_page",
		SourceURL:  pageURL,
	}
	if err := c.embedAndUpsert(ctx, doc, chunks); err != nil {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(pageURL, kbModel.IngestUpstreamFailure, err)
	}

	log.Info("Indexed URL", "title", page.Title, "chunks", len(chunks))
	return kbModel.IngestResult{
		Title:      page.Title,
		SourceFile: sourceFile,
		ChunkCount: len(chunks),
	}, nil
}

// IngestURLs runs a message's detected URLs sequentially. One URL failing is
// logged into its outcome and the loop keeps going - the answer step must still
// run with whatever did index.
func (c *Coordinator) IngestURLs(ctx context.Context, urls []string) []URLOutcome {
	log := c.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	outcomes := make([]URLOutcome, 0, len(urls))
	for _, u := range urls {
		result, err := c.IngestURL(ctx, u)
		if err != nil {
			log.Error("URL ingestion failed, skipping", "url", u, "error", err)
		}
		outcomes = append(outcomes, URLOutcome{URL: u, Result: result, Err: err})
	}
	return outcomes
}

func (c *Coordinator) embedAndUpsert(ctx context.Context, doc kbModel.DocumentMeta, chunks []kbModel.Chunk) error {
	for i := 0; i < len(chunks); i += embedBatchSize {
		end := min(i+embedBatchSize, len(chunks))
		batch := chunks[i:end]

		texts := make([]string, len(batch))
		for j, ch := range batch {
			texts[j] = ch.Text
		}

		vectors, err := c.embedder.BatchEmbedding(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch failed: %w", err)
		}
		if err := c.vectorDB.UpsertChunks(ctx, doc, batch, vectors); err != nil {
			return fmt.Errorf("upserting batch failed: %w", err)
		}
	}
	return nil
}
