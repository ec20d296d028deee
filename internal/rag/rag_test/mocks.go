package rag_test

import (
	"context"
	"io"
	"strings"

	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/rag/scrape"
)

// MockVectorDB implements vectorDB.DataProcessor
type MockVectorDB struct {
	// Control fields to simulate different behaviors
	OnSearch           func(ctx context.Context, vector []float32, topK int) ([]kbModel.RetrievedMatch, error)
	OnCountBySourceURL func(ctx context.Context, sourceURL string) (int, error)
	OnUpsertChunks     func(ctx context.Context, doc kbModel.DocumentMeta, chunks []kbModel.Chunk, vectors [][]float32) error
	OnGetCachedAnswer  func(ctx context.Context, queryVector []float32) (kbModel.CachedAnswer, bool, error)
	OnSaveToCache      func(ctx context.Context, id string, vector []float32, answer kbModel.CachedAnswer) error
}

func (m *MockVectorDB) Search(ctx context.Context, v []float32, topK int) ([]kbModel.RetrievedMatch, error) {
	if m.OnSearch != nil {
		return m.OnSearch(ctx, v, topK)
	}
	return []kbModel.RetrievedMatch{
		{Score: 0.9, Content: "default context", SourceFile: "default.md", Category: "document"},
	}, nil
}

func (m *MockVectorDB) CountBySourceURL(ctx context.Context, sourceURL string) (int, error) {
	if m.OnCountBySourceURL != nil {
		return m.OnCountBySourceURL(ctx, sourceURL)
	}
	return 0, nil
}

func (m *MockVectorDB) UpsertChunks(ctx context.Context, doc kbModel.DocumentMeta, chunks []kbModel.Chunk, vectors [][]float32) error {
	if m.OnUpsertChunks != nil {
		return m.OnUpsertChunks(ctx, doc, chunks, vectors)
	}
	return nil
}

func (m *MockVectorDB) GetCachedAnswer(ctx context.Context, v []float32) (kbModel.CachedAnswer, bool, error) {
	if m.OnGetCachedAnswer != nil {
		return m.OnGetCachedAnswer(ctx, v)
	}
	return kbModel.CachedAnswer{}, false, nil
}

func (m *MockVectorDB) SaveToCache(ctx context.Context, id string, v []float32, a kbModel.CachedAnswer) error {
	if m.OnSaveToCache != nil {
		return m.OnSaveToCache(ctx, id, v, a)
	}
	return nil
}

type MockEmbedder struct {
	OnGetEmbedding   func(ctx context.Context, text string) ([]float32, error)
	OnBatchEmbedding func(ctx context.Context, chunks []string) ([][]float32, error)
	EmbedCalls       int
}

func (m *MockEmbedder) GetEmbedding(ctx context.Context, query string) ([]float32, error) {
	m.EmbedCalls++
	if m.OnGetEmbedding != nil {
		return m.OnGetEmbedding(ctx, query)
	}
	return []float32{0.1, 0.2}, nil
}

func (m *MockEmbedder) BatchEmbedding(ctx context.Context, chunks []string) ([][]float32, error) {
	if m.OnBatchEmbedding != nil {
		return m.OnBatchEmbedding(ctx, chunks)
	}
	vectors := make([][]float32, len(chunks))
	for i := range vectors {
		vectors[i] = []float32{0.1}
	}
	return vectors, nil
}

// MockLLM implements llm.Provider
type MockLLM struct {
	OnComplete         func(ctx context.Context, systemPrompt string, messages []kbModel.ConversationTurn) (string, error)
	OnStreamCompletion func(ctx context.Context, systemPrompt string, messages []kbModel.ConversationTurn) (io.ReadCloser, error)
	StreamCalls        int
}

func (m *MockLLM) Complete(ctx context.Context, sys string, msgs []kbModel.ConversationTurn) (string, error) {
	if m.OnComplete != nil {
		return m.OnComplete(ctx, sys, msgs)
	}
	return "mocked llm response", nil
}

func (m *MockLLM) StreamCompletion(ctx context.Context, sys string, msgs []kbModel.ConversationTurn) (io.ReadCloser, error) {
	m.StreamCalls++
	if m.OnStreamCompletion != nil {
		return m.OnStreamCompletion(ctx, sys, msgs)
	}
	return WireStream(`{"choices":[{"delta":{"content":"mocked llm response"}}]}`), nil
}

// WireStream frames raw records the way the provider does, terminator included.
func WireStream(records ...string) io.ReadCloser {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString("data: " + rec + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String()))
}

// MockScraper implements scrape.Scraper
type MockScraper struct {
	OnScrape    func(ctx context.Context, pageURL string) (scrape.Page, error)
	ScrapeCalls int
}

func (m *MockScraper) Scrape(ctx context.Context, pageURL string) (scrape.Page, error) {
	m.ScrapeCalls++
	if m.OnScrape != nil {
		return m.OnScrape(ctx, pageURL)
	}
	return scrape.Page{Content: "scraped page content", Title: "Scraped Page"}, nil
}

// MockConversationStore implements kbModel.ConversationStore
type MockConversationStore struct {
	OnValidateChatId func(ctx context.Context, chatId string) bool
	OnAppendTurns    func(ctx context.Context, chatId string, turns ...kbModel.ConversationTurn) error
	OnGetHistory     func(ctx context.Context, chatId string, maxTurns int) ([]kbModel.ConversationTurn, error)
}

func (m *MockConversationStore) ValidateChatId(ctx context.Context, chatId string) bool {
	if m.OnValidateChatId != nil {
		return m.OnValidateChatId(ctx, chatId)
	}
	return true
}

func (m *MockConversationStore) InitNewChat(ctx context.Context, chatId string) error {
	return nil
}

func (m *MockConversationStore) AppendTurns(ctx context.Context, chatId string, turns ...kbModel.ConversationTurn) error {
	if m.OnAppendTurns != nil {
		return m.OnAppendTurns(ctx, chatId, turns...)
	}
	return nil
}

func (m *MockConversationStore) GetHistory(ctx context.Context, chatId string, maxTurns int) ([]kbModel.ConversationTurn, error) {
	if m.OnGetHistory != nil {
		return m.OnGetHistory(ctx, chatId, maxTurns)
	}
	return nil, nil
}
