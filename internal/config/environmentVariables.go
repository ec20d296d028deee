package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"
)

const (
	IS_PROD        = false
	LOG_LEVEL_PROD = slog.LevelInfo
	TRACE_ID_KEY   = "traceId"

	RATE_LIMIT_PER_SECOND       = 2
	BURST_RATE_LIMIT_PER_SECOND = 5

	//serverTimeouts
	ReadTimeout            = 5 * time.Second
	WriteTimeout           = 0 //streaming responses - no deadline, the relay owns cancellation
	IdleTimeout            = 120 * time.Second
	ShutdownContextTimeout = 10 * time.Second

	ServerListenAddr = ":3000"

	//ingestion job requests buffer limit
	BufferLimit = 100

	RequestsPerNewWorkerCount int64 = 10
	MaxWorkerCount            int64 = 10
	MinWorkerCount            int64 = 1
	IdleWorkerTimeout               = 1 * time.Minute
	IngestJobTimeout                = 120 * time.Second

	//vectorDB
	QdrantGrpcPort                = 6334
	QdrantUseTLS                  = false
	QdrantPoolSize                = 1
	KnowledgeBaseCollection       = "knowledge-base"
	AnswerCacheCollection         = "answer-cache"
	CacheSimilarityCutoff float32 = 0.97

	EmbeddingOutputDimensionality int32 = 1536

	//providers
	OpenAIChatModel      = "gpt-4.1-mini"
	OpenAIEmbeddingModel = "text-embedding-3-large"
	GeminiEmbeddingModel = "gemini-embedding-001"
	ModelTemperature     = 0.2
	ModelMaxTokens       = 500

	//retrieval policy - the threshold is deployment-tunable, see KB_RELEVANCE_THRESHOLD
	DefaultRelevanceThreshold float32 = 0.4
	DefaultTopK                       = 5

	//chunking
	DefaultMaxChunkBytes = 40960

	//conversation history window, in turns
	HistoryWindowTurns = 10

	//url-only heuristic: residual non-url text below this means "just share a link"
	URLOnlyResidualChars = 15

	RefusalSentence = "I'm sorry, I don't have enough information in my knowledge base to answer this."
	FallbackAnswer  = "I apologize, but I'm having trouble processing your request. Please try again."

	//scraper
	ScrapeTimeout        = 30 * time.Second
	ScrapeMaxContentSize = 8 << 20 //8mb
	ScrapeMaxRedirects   = 5
	ScrapeUserAgent      = "GoKB-ingester/1.0"

	//upload ingestion
	MaxUploadSize = 32 << 20 //32mb

	//pooled http transport
	MaxIdleConns        = 50
	MaxIdleConnsPerHost = 25
	IdleConnTimeout     = 60 * time.Second

	//redis
	redisHost = "127.0.0.1"
	redisPort = "6379"
	RedisAddr = redisHost + ":" + redisPort
	RedisPassword = ""

	//redis has 16 DBs we can use
	RedisJobStore     = 0
	RedisMessageStore = 1

	RedisJobStoreTTL     = 24 * time.Hour
	RedisMessageStoreTTL = 24 * time.Hour

	//feedback sink
	WandbEntity  = "default"
	WandbProject = "kb-feedback"
	WandbRun     = "kb-feedback-production"
)

// EmbeddingProvider selects which embedder backs the index: "openai" or "google".
var EmbeddingProvider = envString("KB_EMBEDDING_PROVIDER", "openai")

var (
	OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	WandbAPIKey  = os.Getenv("WANDB_API_KEY")
	AuthToken    = os.Getenv("API_AUTH_TOKEN")

	//set for local runs without a token
	NoAuthBypass = os.Getenv("API_AUTH_BYPASS") == "true"

	RelevanceThreshold = envFloat32("KB_RELEVANCE_THRESHOLD", DefaultRelevanceThreshold)
	MaxChunkBytes      = envInt("KB_MAX_CHUNK_BYTES", DefaultMaxChunkBytes)
	RetrievalTopK      = envInt("KB_TOP_K", DefaultTopK)
)

// Validate reports missing provider credentials. The server refuses to start on a
// non-nil result - a request must never reach the pipeline half-configured.
func Validate() error {
	var missing []error
	if OpenAIAPIKey == "" {
		missing = append(missing, errors.New("OPENAI_API_KEY is not set"))
	}
	if EmbeddingProvider == "google" && GeminiAPIKey == "" {
		missing = append(missing, errors.New("KB_EMBEDDING_PROVIDER=google but GEMINI_API_KEY is not set"))
	}
	if !NoAuthBypass && AuthToken == "" {
		missing = append(missing, errors.New("API_AUTH_TOKEN is not set (or set API_AUTH_BYPASS=true)"))
	}
	return errors.Join(missing...)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat32(key string, fallback float32) float32 {
	v, err := strconv.ParseFloat(os.Getenv(key), 32)
	if err != nil {
		return fallback
	}
	return float32(v)
}
