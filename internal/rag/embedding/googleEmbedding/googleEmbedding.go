package googleEmbedding

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/rag/embedding"
	"github.com/adevara/GoKB/pkg/logger_i"
)

// Alternate Gemini-backed embedder, selected with KB_EMBEDDING_PROVIDER=google.
// Dimensionality matches the index config so collections stay interchangeable.

var (
	logger          *logger_i.Logger
	embeddingClient *client
	once            sync.Once
)

var dimension int32 = config.EmbeddingOutputDimensionality

type client struct {
	genAi *genai.Client
	model string
}

func GetGoogleEmbeddingClient(ctx context.Context, modelName string, apikey string) embedding.Embedder {
	once.Do(func() {
		logger = logger_i.NewLogger("google_embedding")
		c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apikey})
		if err != nil {
			logger.Error("Error creating Google embedding client", "error", err)
			return
		}
		embeddingClient = &client{genAi: c, model: modelName}
		logger.Info("Google embedding client created", "model", modelName)
		go closeClient(ctx, embeddingClient)
	})

	if embeddingClient == nil {
		return nil
	}
	return embeddingClient
}

func closeClient(ctx context.Context, c *client) {
	<-ctx.Done()
	logger.Info("Closing Google embedding client")
	c.genAi = nil
}

func (c *client) GetEmbedding(ctx context.Context, query string) ([]float32, error) {
	res, err := c.doCall(ctx, genai.Text(query))
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (c *client) BatchEmbedding(ctx context.Context, chunks []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(chunks))
	for _, text := range chunks {
		contents = append(contents, genai.Text(text)...)
	}
	return c.doCall(ctx, contents)
}

func (c *client) doCall(ctx context.Context, contents []*genai.Content) ([][]float32, error) {
	log := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	result, err := c.genAi.Models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dimension,
		TaskType:             "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		log.Error("Error getting embeddings from Google", "error", err)
		return nil, fmt.Errorf("google embedding: %w", err)
	}

	vectors := make([][]float32, 0, len(result.Embeddings))
	for _, e := range result.Embeddings {
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}
