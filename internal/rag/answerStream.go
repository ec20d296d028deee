package rag

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adevara/GoKB/internal/adapter/utils"
	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/metrics"
	"github.com/adevara/GoKB/internal/rag/stream"
)

// AnswerStream is what the chat handler pumps to the client. It wraps the
// relay and, once the stream completes, persists the conversation turns and
// writes the answer back to the semantic cache.
type AnswerStream struct {
	relay       *stream.Relay
	svc         *service
	chatId      string
	question    string
	queryVector []float32
	sources     []kbModel.Source
	finalizeOne sync.Once
}

func (s *service) newAnswerStream(chatId string, question string, relay *stream.Relay, queryVector []float32, sources []kbModel.Source) *AnswerStream {
	return &AnswerStream{
		relay:       relay,
		svc:         s,
		chatId:      chatId,
		question:    question,
		queryVector: queryVector,
		sources:     sources,
	}
}

// Next proxies the relay. io.EOF marks a clean finish and triggers the
// persistence work exactly once; any other error is a broken stream and
// nothing is saved.
func (a *AnswerStream) Next() (stream.Event, error) {
	ev, err := a.relay.Next()
	if err == io.EOF {
		a.finalizeOne.Do(a.finalize)
		return ev, err
	}
	if err == nil && ev.Kind == stream.EventDelta {
		metrics.CaptureStreamedBytes(len(ev.Line))
	}
	return ev, err
}

// Close releases the upstream provider connection. Call it when the client
// disconnects mid-stream; nothing is persisted in that case.
func (a *AnswerStream) Close() error {
	return a.relay.Close()
}

// Answer is the accumulated model output. Valid after Next returned io.EOF.
func (a *AnswerStream) Answer() string {
	return a.relay.Answer()
}

// finalize runs off the request goroutine: the client already has its bytes
// and should not wait on redis or the vector store.
func (a *AnswerStream) finalize() {
	answer := a.relay.Answer()
	svc := a.svc
	chatId := a.chatId
	question := a.question
	vector := a.queryVector
	sources := a.sources

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		turns := []kbModel.ConversationTurn{
			{Role: kbModel.RoleUser, Content: question},
		}
		if answer != "" {
			turns = append(turns, kbModel.ConversationTurn{Role: kbModel.RoleAssistant, Content: answer})
		}
		if err := svc.history.AppendTurns(ctx, chatId, turns...); err != nil {
			svc.logger.Error("Failed to persist conversation turns", "chatId", chatId, "error", err)
		}

		if vector == nil || !cacheable(answer) {
			return
		}
		err := svc.vectorDB.SaveToCache(ctx, utils.GetNewUUID(), vector, kbModel.CachedAnswer{
			Answer:  answer,
			Sources: sources,
		})
		if err != nil {
			svc.logger.Error("Failed to save to cache", "error", err)
		}
	}()
}

// cacheable rejects answers that would poison the cache: refusals and the
// apologetic fallback are situational, not reusable.
func cacheable(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	return trimmed != "" && trimmed != config.RefusalSentence && trimmed != config.FallbackAnswer
}
