package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/data/store"
	jobmodel "github.com/adevara/GoKB/internal/domain/jobModel"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/handlers"
	"github.com/adevara/GoKB/internal/job"
	"github.com/adevara/GoKB/internal/mcpserver"
	"github.com/adevara/GoKB/internal/rag"
	"github.com/adevara/GoKB/internal/rag/embedding"
	"github.com/adevara/GoKB/internal/rag/embedding/googleEmbedding"
	"github.com/adevara/GoKB/internal/rag/embedding/openaiEmbedding"
	"github.com/adevara/GoKB/internal/rag/llm/openaiLLM"
	"github.com/adevara/GoKB/internal/rag/scrape"
	"github.com/adevara/GoKB/internal/rag/vectorDB/qdrantDB"
	"github.com/adevara/GoKB/internal/server"
	"github.com/adevara/GoKB/internal/worker"
	"github.com/adevara/GoKB/pkg/logger_i"
)

var (
	listenAddr        string
	mcpMode           bool
	requestCount      int64
	stopWorkerChannel chan bool
	workerWaitGroup   sync.WaitGroup
)

func main() {

	logger_i.Init()
	var logger = logger_i.NewLogger("main")

	//config
	flag.StringVar(&listenAddr, "listen-addr", config.ServerListenAddr, "server listen address")
	flag.BoolVar(&mcpMode, "mcp", false, "serve MCP tools over stdio instead of HTTP")
	flag.Parse()

	if err := config.Validate(); err != nil {
		logger.Error("Configuration is incomplete, refusing to start", "error", err)
		os.Exit(1)
	}

	//init buffered job channel
	jobChannel := make(chan jobmodel.Job, config.BufferLimit)
	dispatcherChannel := make(chan bool, 1)
	stopWorkerChannel = make(chan bool, 1)

	serviceContext, closeExternalServices := context.WithCancel(context.Background())
	defer closeExternalServices()

	//init job service and stores
	serviceConfig := job.ServiceConfig{
		JobChannel:        jobChannel,
		RequestCount:      requestCount,
		DispatcherChannel: dispatcherChannel,
	}

	logger.Info("Starting job service")
	if redisJobStore := store.GetRedisJobStore(serviceContext); redisJobStore != nil {
		serviceConfig.JobStore = redisJobStore
	} else {
		logger.Error("Redis job store is offline, falling back to memory")
		serviceConfig.JobStore = store.InitInMemoryJobStore()
	}

	var conversationStore kbModel.ConversationStore
	if redisConvStore := store.GetRedisConversationStore(serviceContext); redisConvStore != nil {
		conversationStore = redisConvStore
	} else {
		logger.Error("Redis conversation store is offline, falling back to memory")
		conversationStore = store.InitInMemoryConversationStore()
	}
	service := job.InitJobService(serviceConfig)

	vectorDB := qdrantDB.GetQdrantClient(serviceContext)

	var embeddingService embedding.Embedder
	if config.EmbeddingProvider == "google" {
		embeddingService = googleEmbedding.GetGoogleEmbeddingClient(serviceContext, config.GeminiEmbeddingModel, config.GeminiAPIKey)
	} else {
		embeddingService = openaiEmbedding.GetOpenAIEmbeddingClient(config.OpenAIEmbeddingModel, config.OpenAIAPIKey)
	}
	llmProvider := openaiLLM.GetOpenAIClient(config.OpenAIChatModel, config.OpenAIAPIKey)

	if vectorDB == nil || embeddingService == nil || llmProvider == nil {
		logger.Error("One or more external services failed to initialize. Shutting down.")
		logger.Debug("Available services : ", "VectorDB", vectorDB != nil, "EmbeddingService", embeddingService != nil, "LLMProvider", llmProvider != nil)
		return
	}

	ragService := rag.NewService(vectorDB, llmProvider, embeddingService, scrape.NewWebScraper(), conversationStore)

	if mcpMode {
		// Expose kb_search and kb_ingest_url to MCP clients over stdio.
		// The HTTP server and worker pool stay out of the way.
		if err := mcpserver.Run(serviceContext, vectorDB, embeddingService, ragService); err != nil {
			logger.Error("MCP server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	handlers.InitHandlers(service, ragService, conversationStore)

	//init worker pool
	worker.InitServices(service, ragService)
	worker.InitWorkerPool(stopWorkerChannel, &workerWaitGroup)

	//server handling
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	stopExecution := make(chan bool, 1)

	shutdownParams := server.ShutdownParams{
		GracefulShutdown: gracefulShutdown,
		StopExecution:    stopExecution,
		WorkerStop:       stopWorkerChannel,
		Group:            &workerWaitGroup,
		CloseServices:    closeExternalServices,
	}
	go server.ShutDownHandler(shutdownParams)
	go server.CreateServer(listenAddr)

	<-stopExecution
	logger.Info("Server stopped")
}
