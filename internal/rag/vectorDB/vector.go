package vectorDB

import (
	"context"

	"github.com/adevara/GoKB/internal/domain/kbModel"
)

// DataProcessor is the vector index service boundary. The index is the only source
// of truth for stored chunks - nothing here is cached locally, every existence
// check is a live query.
type DataProcessor interface {
	Search(ctx context.Context, vector []float32, topK int) ([]kbModel.RetrievedMatch, error)

	// CountBySourceURL is the ingestion existence probe: how many chunks the index
	// already holds for a source_url.
	CountBySourceURL(ctx context.Context, sourceURL string) (int, error)

	UpsertChunks(ctx context.Context, doc kbModel.DocumentMeta, chunks []kbModel.Chunk, vectors [][]float32) error

	//semantic answer cache
	GetCachedAnswer(ctx context.Context, queryVector []float32) (kbModel.CachedAnswer, bool, error)
	SaveToCache(ctx context.Context, id string, vector []float32, answer kbModel.CachedAnswer) error
}
