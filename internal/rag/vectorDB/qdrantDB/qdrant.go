package qdrantDB

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/pkg/logger_i"
)

var (
	logger         *logger_i.Logger
	qdrantInstance *qdrant.Client
	once           sync.Once
)

var dimension = uint64(config.EmbeddingOutputDimensionality)

type ClientHolder struct {
	QObj *qdrant.Client
}

func GetQdrantClient(ctx context.Context) *ClientHolder {
	once.Do(func() {
		logger = logger_i.NewLogger("Qdrant")
		res := newClient()
		if res != nil {
			qdrantInstance = res
			initCacheCollection(ctx, qdrantInstance)
			go closeQdrant(ctx, qdrantInstance)
		}
	})

	if qdrantInstance == nil {
		return nil
	}
	return &ClientHolder{QObj: qdrantInstance}
}

func newClient() *qdrant.Client {
	host := os.Getenv("QDRANT_HOST")
	port, er := strconv.Atoi(os.Getenv("QDRANT_PORT"))

	if host == "" || er != nil {
		host = "127.0.0.1"
		port = config.QdrantGrpcPort
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:     host,
		Port:     port,
		UseTLS:   config.QdrantUseTLS,
		PoolSize: uint(config.QdrantPoolSize),
	})
	if err != nil {
		logger.Error("could not instantiate qdrant client", "error", err)
		return nil
	}

	if err = ensureCollection(context.Background(), client, config.KnowledgeBaseCollection); err != nil {
		logger.Error("could not create collection", "collectionName", config.KnowledgeBaseCollection, "error", err)
		return nil
	}

	return client
}

func closeQdrant(ctx context.Context, qi *qdrant.Client) {
	<-ctx.Done()
	logger.Info("Shutting down Qdrant")
	if err := qi.Close(); err != nil {
		logger.Error("could not close Qdrant", "error", err)
	}
}

func (db *ClientHolder) Search(ctx context.Context, vector []float32, topK int) ([]kbModel.RetrievedMatch, error) {
	loggr := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	result, err := db.QObj.Query(ctx, &qdrant.QueryPoints{
		CollectionName: config.KnowledgeBaseCollection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		loggr.Error("Error querying Qdrant", "error", classify(err))
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	matches := make([]kbModel.RetrievedMatch, 0, len(result))
	for _, hit := range result {
		matches = append(matches, kbModel.RetrievedMatch{
			Score:      hit.Score,
			Content:    hit.Payload["content"].GetStringValue(),
			SourceFile: hit.Payload["source_file"].GetStringValue(),
			Category:   hit.Payload["category"].GetStringValue(),
			SourceURL:  hit.Payload["source_url"].GetStringValue(),
		})
	}

	loggr.Debug("Search complete", "hits", len(matches))
	return matches, nil
}

// CountBySourceURL is a live existence probe - never answered from local state.
func (db *ClientHolder) CountBySourceURL(ctx context.Context, sourceURL string) (int, error) {
	count, err := db.QObj.Count(ctx, &qdrant.CountPoints{
		CollectionName: config.KnowledgeBaseCollection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source_url", sourceURL),
			},
		},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count by source_url: %w", err)
	}
	return int(count), nil
}

func (db *ClientHolder) UpsertChunks(ctx context.Context, doc kbModel.DocumentMeta, chunks []kbModel.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("mismatch: got %d chunks but %d vectors", len(chunks), len(vectors))
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(newPointID()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content":     chunk.Text,
				"source_file": doc.SourceFile,
				"category":    doc.Category,
				"source_url":  doc.SourceURL,
				"chunk_index": int64(chunk.Index),
			}),
		}
	}

	_, err := db.QObj.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: config.KnowledgeBaseCollection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

func ensureCollection(ctx context.Context, client *qdrant.Client, collectionName string) error {
	if collectionName == "" {
		return errors.New("empty collection name")
	}

	exists, err := client.CollectionExists(ctx, collectionName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func newPointID() string {
	return uuid.New().String()
}

// classify surfaces the grpc code so transport failures read differently from
// server-side rejections in the logs.
func classify(err error) string {
	if s, ok := status.FromError(err); ok {
		if s.Code() == codes.Unavailable || s.Code() == codes.DeadlineExceeded {
			return fmt.Sprintf("transport (%s): %v", s.Code(), err)
		}
		return fmt.Sprintf("%s: %v", s.Code(), err)
	}
	return err.Error()
}
