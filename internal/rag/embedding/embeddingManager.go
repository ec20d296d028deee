package embedding

import "context"

// Embedder turns text into index vectors. One implementation per provider; the
// query and the stored chunks must always go through the same one.
type Embedder interface {
	GetEmbedding(ctx context.Context, query string) ([]float32, error)
	BatchEmbedding(ctx context.Context, chunks []string) ([][]float32, error)
}
