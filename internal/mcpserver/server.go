// Package mcpserver exposes the knowledge base to MCP clients over stdio:
// kb_search runs retrieval directly against the index, kb_ingest_url runs one
// URL through the ingestion pipeline.
package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/rag"
	"github.com/adevara/GoKB/internal/rag/embedding"
	"github.com/adevara/GoKB/internal/rag/retrieve"
	"github.com/adevara/GoKB/internal/rag/vectorDB"
	"github.com/adevara/GoKB/pkg/logger_i"
)

const Version = "1.0.0"

type Server struct {
	retriever  *retrieve.Retriever
	ragService rag.Service
	server     *mcp.Server
	logger     *logger_i.Logger
}

func NewServer(db vectorDB.DataProcessor, em embedding.Embedder, ragService rag.Service) *Server {
	impl := &mcp.Implementation{
		Name:    "gokb",
		Version: Version,
	}

	s := &Server{
		retriever:  retrieve.NewRetriever(db, em, config.RelevanceThreshold),
		ragService: ragService,
		server:     mcp.NewServer(impl, nil),
		logger:     logger_i.NewLogger("MCPServer"),
	}

	s.registerTools()
	return s
}

// Run serves until the context is cancelled or a transport error occurs.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server listening on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Run is the package-level entry point main calls in -mcp mode.
func Run(ctx context.Context, db vectorDB.DataProcessor, em embedding.Embedder, ragService rag.Service) error {
	return NewServer(db, em, ragService).Run(ctx)
}
