package retrieve

import (
	"context"
	"fmt"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/rag/embedding"
	"github.com/adevara/GoKB/internal/rag/vectorDB"
	"github.com/adevara/GoKB/pkg/logger_i"
)

type Retriever struct {
	vectorDB  vectorDB.DataProcessor
	embedder  embedding.Embedder
	threshold float32
	logger    *logger_i.Logger
}

func NewRetriever(db vectorDB.DataProcessor, em embedding.Embedder, threshold float32) *Retriever {
	return &Retriever{
		vectorDB:  db,
		embedder:  em,
		threshold: threshold,
		logger:    logger_i.NewLogger("Retriever"),
	}
}

// Retrieve embeds the query and collects the usable context. Matches arrive from
// the index score-descending and keep that order; anything under the relevance
// threshold is dropped, sources dedupe on source_file first-seen. Each passage
// carries the index of its source so citations stay resolvable even when one
// file contributes several chunks. Index failures propagate - an empty result
// must mean "nothing relevant", never "lookup broke".
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]kbModel.Passage, []kbModel.Source, error) {
	log := r.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	vector, err := r.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: embedding query: %v", kbModel.ErrRetrieval, err)
	}

	matches, err := r.vectorDB.Search(ctx, vector, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", kbModel.ErrRetrieval, err)
	}

	passages, sources := r.filter(matches)
	log.Debug("Retrieval complete", "matches", len(matches), "kept", len(passages), "sources", len(sources))
	return passages, sources, nil
}

// RetrieveEmbedded is Retrieve for callers that already hold the query vector
// (the answer-cache path embeds once and reuses it).
func (r *Retriever) RetrieveEmbedded(ctx context.Context, vector []float32, topK int) ([]kbModel.Passage, []kbModel.Source, error) {
	matches, err := r.vectorDB.Search(ctx, vector, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", kbModel.ErrRetrieval, err)
	}
	passages, sources := r.filter(matches)
	return passages, sources, nil
}

// filter applies the relevance threshold and first-seen source dedup, preserving
// index order. Passages from an already-seen file reuse that file's source ref.
func (r *Retriever) filter(matches []kbModel.RetrievedMatch) ([]kbModel.Passage, []kbModel.Source) {
	var passages []kbModel.Passage
	var sources []kbModel.Source
	refs := make(map[string]int)

	for _, m := range matches {
		if m.Score < r.threshold || m.Content == "" {
			continue
		}
		sourceFile := m.SourceFile
		if sourceFile == "" {
			sourceFile = "Unknown source"
		}
		ref, ok := refs[sourceFile]
		if !ok {
			sources = append(sources, kbModel.Source{File: sourceFile, Category: m.Category})
			ref = len(sources)
			refs[sourceFile] = ref
		}
		passages = append(passages, kbModel.Passage{Content: m.Content, SourceRef: ref})
	}
	return passages, sources
}
