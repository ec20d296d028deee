package qdrantDB

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
)

func initCacheCollection(ctx context.Context, client *qdrant.Client) {
	if err := ensureCollection(ctx, client, config.AnswerCacheCollection); err != nil {
		logger.Error("Answer cache collection creation failed", "error", err)
	}
}

// GetCachedAnswer looks for a semantically equivalent earlier question. Anything
// under the similarity cutoff is a miss, not an error.
func (db *ClientHolder) GetCachedAnswer(ctx context.Context, queryVector []float32) (kbModel.CachedAnswer, bool, error) {
	loggr := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	searchResult, err := db.QObj.Query(ctx, &qdrant.QueryPoints{
		CollectionName: config.AnswerCacheCollection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil || len(searchResult) == 0 {
		return kbModel.CachedAnswer{}, false, err
	}

	if searchResult[0].Score < config.CacheSimilarityCutoff {
		return kbModel.CachedAnswer{}, false, nil
	}

	loggr.Debug("Answer cache hit", "score", searchResult[0].Score)

	cached := kbModel.CachedAnswer{
		Answer: searchResult[0].Payload["answer"].GetStringValue(),
	}
	if raw := searchResult[0].Payload["sources"].GetStringValue(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cached.Sources); err != nil {
			loggr.Warn("Cache entry has unreadable sources", "error", err)
		}
	}
	return cached, true, nil
}

func (db *ClientHolder) SaveToCache(ctx context.Context, id string, vector []float32, answer kbModel.CachedAnswer) error {
	loggr := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	sourcesJSON, err := json.Marshal(answer.Sources)
	if err != nil {
		return err
	}

	_, err = db.QObj.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: config.AnswerCacheCollection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(id),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"answer":    answer.Answer,
					"sources":   string(sourcesJSON),
					"timestamp": time.Now().Unix(),
				}),
			},
		},
	})
	if err != nil {
		loggr.Error("Saving answer to cache failed", "error", err)
	}
	return err
}
