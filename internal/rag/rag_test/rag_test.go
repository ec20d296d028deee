package rag_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/jobModel"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/rag"
	"github.com/adevara/GoKB/internal/rag/scrape"
	"github.com/adevara/GoKB/internal/rag/stream"
)

func newTestService(v *MockVectorDB, l *MockLLM, e *MockEmbedder, sc *MockScraper, conv *MockConversationStore) rag.Service {
	return rag.NewService(v, l, e, sc, conv)
}

func drain(t *testing.T, as *rag.AnswerStream) []stream.Event {
	t.Helper()
	var events []stream.Event
	for {
		ev, err := as.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("stream broke: %v", err)
		}
		events = append(events, ev)
	}
}

// deltaText re-assembles what a client would render from the forwarded deltas.
func deltaText(t *testing.T, events []stream.Event) string {
	t.Helper()
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind != stream.EventDelta {
			continue
		}
		payload := strings.TrimSuffix(strings.TrimPrefix(string(ev.Line), "data: "), "\n\n")
		var rec struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			t.Fatalf("unparseable delta line %q: %v", ev.Line, err)
		}
		for _, c := range rec.Choices {
			b.WriteString(c.Delta.Content)
		}
	}
	return b.String()
}

func countKind(events []stream.Event, kind stream.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestAnswerQuestion_FullFlow(t *testing.T) {
	mVec := &MockVectorDB{}
	mLLM := &MockLLM{}
	mEmbed := &MockEmbedder{}
	mConv := &MockConversationStore{}

	mVec.OnSearch = func(ctx context.Context, v []float32, topK int) ([]kbModel.RetrievedMatch, error) {
		return []kbModel.RetrievedMatch{
			{Score: 0.92, Content: "refund policy text", SourceFile: "refunds.md", Category: "document"},
		}, nil
	}
	mLLM.OnStreamCompletion = func(ctx context.Context, sys string, msgs []kbModel.ConversationTurn) (io.ReadCloser, error) {
		return WireStream(
			`{"choices":[{"delta":{"content":"Refunds take "}}]}`,
			`{"choices":[{"delta":{"content":"5 days."}}]}`,
		), nil
	}

	saved := make(chan kbModel.CachedAnswer, 1)
	mVec.OnSaveToCache = func(ctx context.Context, id string, v []float32, a kbModel.CachedAnswer) error {
		saved <- a
		return nil
	}
	appended := make(chan []kbModel.ConversationTurn, 1)
	mConv.OnAppendTurns = func(ctx context.Context, chatId string, turns ...kbModel.ConversationTurn) error {
		appended <- turns
		return nil
	}

	s := newTestService(mVec, mLLM, mEmbed, &MockScraper{}, mConv)

	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "test-trace")
	as, err := s.AnswerQuestion(ctx, "chat-1", "how long do refunds take?")
	if err != nil {
		t.Fatalf("AnswerQuestion returned error: %v", err)
	}
	events := drain(t, as)

	if got := as.Answer(); got != "Refunds take 5 days." {
		t.Errorf("Answer got %q", got)
	}
	content := deltaText(t, events)
	if !strings.Contains(content, "Refunds take 5 days.") {
		t.Errorf("stream content missing answer: %q", content)
	}
	if !strings.Contains(content, "Sources:") || !strings.Contains(content, "[1] refunds.md (document)") {
		t.Errorf("stream content missing citation block: %q", content)
	}
	if n := countKind(events, stream.EventMeta); n != 1 {
		t.Errorf("meta events got %d, want 1", n)
	}
	if n := countKind(events, stream.EventDone); n != 1 {
		t.Errorf("done events got %d, want 1", n)
	}
	if events[len(events)-1].Kind != stream.EventDone {
		t.Errorf("last event is not the terminator")
	}

	select {
	case turns := <-appended:
		if len(turns) != 2 || turns[0].Role != kbModel.RoleUser || turns[1].Role != kbModel.RoleAssistant {
			t.Errorf("persisted turns got %+v", turns)
		}
		if turns[1].Content != "Refunds take 5 days." {
			t.Errorf("assistant turn got %q", turns[1].Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("conversation turns were never persisted")
	}
	select {
	case a := <-saved:
		if a.Answer != "Refunds take 5 days." || len(a.Sources) != 1 {
			t.Errorf("cached answer got %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("answer was never written back to cache")
	}
}

func TestAnswerQuestion_CacheHit(t *testing.T) {
	mVec := &MockVectorDB{}
	mLLM := &MockLLM{}
	mEmbed := &MockEmbedder{}

	searchCalls := 0
	mVec.OnSearch = func(ctx context.Context, v []float32, topK int) ([]kbModel.RetrievedMatch, error) {
		searchCalls++
		return nil, nil
	}
	mVec.OnGetCachedAnswer = func(ctx context.Context, v []float32) (kbModel.CachedAnswer, bool, error) {
		return kbModel.CachedAnswer{
			Answer:  "cached verdict",
			Sources: []kbModel.Source{{File: "policy.md", Category: "document"}},
		}, true, nil
	}

	cacheWrites := 0
	mVec.OnSaveToCache = func(ctx context.Context, id string, v []float32, a kbModel.CachedAnswer) error {
		cacheWrites++
		return nil
	}

	s := newTestService(mVec, mLLM, mEmbed, &MockScraper{}, &MockConversationStore{})

	as, err := s.AnswerQuestion(context.Background(), "chat-2", "what is the policy?")
	if err != nil {
		t.Fatalf("AnswerQuestion returned error: %v", err)
	}
	events := drain(t, as)

	content := deltaText(t, events)
	if !strings.Contains(content, "cached verdict") {
		t.Errorf("cache hit content got %q", content)
	}
	if !strings.Contains(content, "[1] policy.md (document)") {
		t.Errorf("cache hit lost its citations: %q", content)
	}
	if mLLM.StreamCalls != 0 {
		t.Errorf("LLM was called %d times on a cache hit", mLLM.StreamCalls)
	}
	if searchCalls != 0 {
		t.Errorf("index was searched %d times on a cache hit", searchCalls)
	}
	// Give any stray finalize goroutine a moment; a replayed answer must not
	// be written back.
	time.Sleep(100 * time.Millisecond)
	if cacheWrites != 0 {
		t.Errorf("cache hit was re-cached %d times", cacheWrites)
	}
}

func TestAnswerQuestion_RetrievalFailureAbortsRequest(t *testing.T) {
	mVec := &MockVectorDB{}
	mVec.OnSearch = func(ctx context.Context, v []float32, topK int) ([]kbModel.RetrievedMatch, error) {
		return nil, errors.New("db timeout")
	}

	s := newTestService(mVec, &MockLLM{}, &MockEmbedder{}, &MockScraper{}, &MockConversationStore{})

	as, err := s.AnswerQuestion(context.Background(), "chat-3", "anything indexed?")
	if err == nil {
		t.Fatal("expected an error when the index is unreachable")
	}
	if as != nil {
		t.Error("expected no stream alongside the error")
	}
}

func TestAnswerQuestion_LLMFailureStreamsFallback(t *testing.T) {
	mVec := &MockVectorDB{}
	mLLM := &MockLLM{}
	mLLM.OnStreamCompletion = func(ctx context.Context, sys string, msgs []kbModel.ConversationTurn) (io.ReadCloser, error) {
		return nil, errors.New("provider down")
	}
	cacheWrites := 0
	mVec.OnSaveToCache = func(ctx context.Context, id string, v []float32, a kbModel.CachedAnswer) error {
		cacheWrites++
		return nil
	}

	s := newTestService(mVec, mLLM, &MockEmbedder{}, &MockScraper{}, &MockConversationStore{})

	as, err := s.AnswerQuestion(context.Background(), "chat-4", "summarize the docs")
	if err != nil {
		t.Fatalf("fallback path must not fail the request: %v", err)
	}
	events := drain(t, as)

	content := deltaText(t, events)
	if content != config.FallbackAnswer {
		t.Errorf("fallback content got %q", content)
	}
	if strings.Contains(content, "Sources:") {
		t.Error("fallback answer must not cite sources")
	}
	time.Sleep(100 * time.Millisecond)
	if cacheWrites != 0 {
		t.Errorf("fallback answer was cached %d times", cacheWrites)
	}
}

func TestAnswerQuestion_URLOnlyMessage(t *testing.T) {
	mVec := &MockVectorDB{}
	mLLM := &MockLLM{}
	mEmbed := &MockEmbedder{}
	mScrape := &MockScraper{}

	mVec.OnCountBySourceURL = func(ctx context.Context, sourceURL string) (int, error) {
		return 4, nil
	}

	s := newTestService(mVec, mLLM, mEmbed, mScrape, &MockConversationStore{})

	as, err := s.AnswerQuestion(context.Background(), "chat-5", "https://example.com/docs")
	if err != nil {
		t.Fatalf("AnswerQuestion returned error: %v", err)
	}
	events := drain(t, as)

	content := deltaText(t, events)
	if !strings.Contains(content, "Already indexed: example.com") {
		t.Errorf("ingestion notice missing: %q", content)
	}
	if mLLM.StreamCalls != 0 || mEmbed.EmbedCalls != 0 {
		t.Errorf("link-only message reached the model (llm=%d embed=%d)", mLLM.StreamCalls, mEmbed.EmbedCalls)
	}
	if mScrape.ScrapeCalls != 0 {
		t.Errorf("already-indexed URL was re-scraped %d times", mScrape.ScrapeCalls)
	}

	metaIdx := -1
	for i, ev := range events {
		if ev.Kind == stream.EventMeta {
			metaIdx = i
		}
	}
	if metaIdx == -1 {
		t.Fatal("no meta event emitted")
	}
	if !strings.Contains(string(events[metaIdx].Line), "https://example.com/docs") {
		t.Errorf("meta missing indexed URL: %s", events[metaIdx].Line)
	}
}

func TestAnswerQuestion_QuestionWithURL(t *testing.T) {
	mVec := &MockVectorDB{}
	mLLM := &MockLLM{}
	mEmbed := &MockEmbedder{}
	mScrape := &MockScraper{}

	mScrape.OnScrape = func(ctx context.Context, pageURL string) (scrape.Page, error) {
		return scrape.Page{Title: "Services Overview", Content: "We offer consulting and support."}, nil
	}
	upserts := 0
	mVec.OnUpsertChunks = func(ctx context.Context, doc kbModel.DocumentMeta, chunks []kbModel.Chunk, vectors [][]float32) error {
		upserts++
		return nil
	}
	mVec.OnSearch = func(ctx context.Context, v []float32, topK int) ([]kbModel.RetrievedMatch, error) {
		return []kbModel.RetrievedMatch{
			{Score: 0.9, Content: "We offer consulting and support.", SourceFile: "Services Overview (example.com)", Category: "web_page"},
		}, nil
	}
	mLLM.OnStreamCompletion = func(ctx context.Context, sys string, msgs []kbModel.ConversationTurn) (io.ReadCloser, error) {
		return WireStream(`{"choices":[{"delta":{"content":"We offer consulting and support [1]."}}]}`), nil
	}

	s := newTestService(mVec, mLLM, mEmbed, mScrape, &MockConversationStore{})

	as, err := s.AnswerQuestion(context.Background(), "chat-6", "What services do you offer? https://example.com/services")
	if err != nil {
		t.Fatalf("AnswerQuestion returned error: %v", err)
	}
	events := drain(t, as)

	if mScrape.ScrapeCalls != 1 {
		t.Errorf("scrape calls = %d; want 1", mScrape.ScrapeCalls)
	}
	if upserts != 1 {
		t.Errorf("upsert calls = %d; want 1 (page chunked and indexed once)", upserts)
	}
	if mLLM.StreamCalls != 1 {
		t.Errorf("llm calls = %d; want 1 (question still answered)", mLLM.StreamCalls)
	}

	content := deltaText(t, events)
	noticeAt := strings.Index(content, "Added to knowledge base: Services Overview")
	answerAt := strings.Index(content, "We offer consulting and support [1].")
	if noticeAt == -1 {
		t.Fatalf("ingestion notice missing: %q", content)
	}
	if answerAt == -1 {
		t.Fatalf("grounded answer missing: %q", content)
	}
	if noticeAt > answerAt {
		t.Error("ingestion notice must precede the answer deltas")
	}
	if !strings.Contains(content, "[1] Services Overview (example.com)") {
		t.Errorf("sources suffix missing the cited source: %q", content)
	}
}

func TestAnswerQuestion_GreetingSkipsRetrieval(t *testing.T) {
	mVec := &MockVectorDB{}
	mEmbed := &MockEmbedder{}
	mLLM := &MockLLM{}

	searchCalls := 0
	mVec.OnSearch = func(ctx context.Context, v []float32, topK int) ([]kbModel.RetrievedMatch, error) {
		searchCalls++
		return nil, nil
	}
	mLLM.OnStreamCompletion = func(ctx context.Context, sys string, msgs []kbModel.ConversationTurn) (io.ReadCloser, error) {
		return WireStream(`{"choices":[{"delta":{"content":"Hello! How can I help?"}}]}`), nil
	}

	s := newTestService(mVec, mLLM, mEmbed, &MockScraper{}, &MockConversationStore{})

	as, err := s.AnswerQuestion(context.Background(), "chat-7", "hi")
	if err != nil {
		t.Fatalf("AnswerQuestion returned error: %v", err)
	}
	events := drain(t, as)

	if mEmbed.EmbedCalls != 0 || searchCalls != 0 {
		t.Errorf("greeting hit the index (embed=%d search=%d)", mEmbed.EmbedCalls, searchCalls)
	}
	content := deltaText(t, events)
	if content != "Hello! How can I help?" {
		t.Errorf("greeting reply got %q", content)
	}
	metaIdx := -1
	for i, ev := range events {
		if ev.Kind == stream.EventMeta {
			metaIdx = i
		}
	}
	if metaIdx == -1 || !strings.Contains(string(events[metaIdx].Line), `"sources":[]`) {
		t.Errorf("greeting meta should carry empty sources, got %v", events)
	}
}

func TestAnswerQuestion_RefusalSuppressesSuffix(t *testing.T) {
	mLLM := &MockLLM{}
	mLLM.OnStreamCompletion = func(ctx context.Context, sys string, msgs []kbModel.ConversationTurn) (io.ReadCloser, error) {
		rec, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]string{"content": config.RefusalSentence}},
			},
		})
		return WireStream(string(rec)), nil
	}

	s := newTestService(&MockVectorDB{}, mLLM, &MockEmbedder{}, &MockScraper{}, &MockConversationStore{})

	as, err := s.AnswerQuestion(context.Background(), "chat-6", "question with no grounding")
	if err != nil {
		t.Fatalf("AnswerQuestion returned error: %v", err)
	}
	events := drain(t, as)

	content := deltaText(t, events)
	if strings.Contains(content, "Sources:") {
		t.Errorf("refusal carried a citation block: %q", content)
	}
	if !strings.Contains(content, config.RefusalSentence) {
		t.Errorf("refusal sentence missing from stream: %q", content)
	}
}

func TestIngestURLJob_Scenarios(t *testing.T) {
	tests := []struct {
		name           string
		setupMocks     func(v *MockVectorDB, sc *MockScraper)
		expectedStatus jobModel.JobStatus
		expectedTitle  string
		expectedRetry  bool
	}{
		{
			name: "Success",
			setupMocks: func(v *MockVectorDB, sc *MockScraper) {
				sc.OnScrape = func(ctx context.Context, pageURL string) (scrape.Page, error) {
					return scrape.Page{Content: strings.Repeat("useful paragraph. ", 40), Title: "Shipping FAQ"}, nil
				}
			},
			expectedStatus: jobModel.JobStatusComplete,
			expectedTitle:  "Shipping FAQ",
		},
		{
			name: "Failure_Scrape",
			setupMocks: func(v *MockVectorDB, sc *MockScraper) {
				sc.OnScrape = func(ctx context.Context, pageURL string) (scrape.Page, error) {
					return scrape.Page{}, errors.New("503 from origin")
				}
			},
			expectedStatus: jobModel.JobStatusError,
			expectedRetry:  true,
		},
		{
			name: "Failure_EmptyPage",
			setupMocks: func(v *MockVectorDB, sc *MockScraper) {
				sc.OnScrape = func(ctx context.Context, pageURL string) (scrape.Page, error) {
					return scrape.Page{Content: "   \n ", Title: "Empty"}, nil
				}
			},
			expectedStatus: jobModel.JobStatusError,
			expectedRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mVec := &MockVectorDB{}
			mScrape := &MockScraper{}
			tt.setupMocks(mVec, mScrape)

			s := newTestService(mVec, &MockLLM{}, &MockEmbedder{}, mScrape, &MockConversationStore{})

			job := jobModel.Job{
				Id:      "job-url-1",
				JobType: jobModel.JobTypeIngestURL,
				JobPayload: jobModel.JobPayload{
					IngestURL: "https://example.com/faq",
				},
			}
			result := s.IngestURLJob(context.Background(), job)

			if result.Status != tt.expectedStatus {
				t.Errorf("Status got %v, want %v", result.Status, tt.expectedStatus)
			}
			if tt.expectedTitle != "" && result.JobPayload.Title != tt.expectedTitle {
				t.Errorf("Title got %q, want %q", result.JobPayload.Title, tt.expectedTitle)
			}
			if tt.expectedStatus == jobModel.JobStatusError {
				if result.Error.Code != http.StatusInternalServerError {
					t.Errorf("Error code got %d", result.Error.Code)
				}
				if result.Error.Retry != tt.expectedRetry {
					t.Errorf("Retry got %v, want %v", result.Error.Retry, tt.expectedRetry)
				}
			}
			if result.EndTime.IsZero() {
				t.Error("EndTime was never stamped")
			}
		})
	}
}

func TestIngestDocumentJob_Success(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "handbook.txt")
	if err := os.WriteFile(docPath, []byte(strings.Repeat("policy line. ", 50)), 0644); err != nil {
		t.Fatal(err)
	}

	s := newTestService(&MockVectorDB{}, &MockLLM{}, &MockEmbedder{}, &MockScraper{}, &MockConversationStore{})

	job := jobModel.Job{
		Id:      "job-doc-1",
		JobType: jobModel.JobTypeIngestDocument,
		JobPayload: jobModel.JobPayload{
			DocumentName: "handbook.txt",
			DocumentPath: docPath,
		},
	}
	result := s.IngestDocumentJob(context.Background(), job)

	if result.Status != jobModel.JobStatusComplete {
		t.Fatalf("Status got %v, error %+v", result.Status, result.Error)
	}
	if result.JobPayload.ChunkCount == 0 {
		t.Error("ChunkCount got 0, want at least 1")
	}
	if result.CurrentStep != jobModel.Complete {
		t.Errorf("CurrentStep got %v", result.CurrentStep)
	}
}
