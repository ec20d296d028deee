package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adevara/GoKB/internal/adapter/utils"
	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/jobModel"
)

type SearchInput struct {
	Query string `json:"query" jsonschema:"the question to search the knowledge base for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of passages to return"`
}

type SearchSource struct {
	File     string `json:"file"`
	Category string `json:"category,omitempty"`
}

type SearchPassage struct {
	Content   string `json:"content"`
	SourceRef int    `json:"source_ref"`
}

type SearchOutput struct {
	Passages []SearchPassage `json:"passages"`
	Sources  []SearchSource  `json:"sources"`
	Count    int             `json:"count"`
}

type IngestURLInput struct {
	URL string `json:"url" jsonschema:"absolute http(s) URL of the page to index"`
}

type IngestURLOutput struct {
	Title          string `json:"title"`
	ChunkCount     int    `json:"chunk_count"`
	AlreadyIndexed bool   `json:"already_indexed"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "kb_search",
		Description: "Search the knowledge base for passages relevant to a question",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "kb_ingest_url",
		Description: "Scrape a web page and add its content to the knowledge base",
	}, s.handleIngestURL)
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	topK := input.TopK
	if topK <= 0 {
		topK = config.RetrievalTopK
	}

	passages, sources, err := s.retriever.Retrieve(ctx, input.Query, topK)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Passages: make([]SearchPassage, len(passages)),
		Sources:  make([]SearchSource, len(sources)),
		Count:    len(passages),
	}
	for i, p := range passages {
		output.Passages[i] = SearchPassage{Content: p.Content, SourceRef: p.SourceRef}
	}
	for i, src := range sources {
		output.Sources[i] = SearchSource{File: src.File, Category: src.Category}
	}
	return nil, output, nil
}

func (s *Server) handleIngestURL(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestURLInput,
) (*mcp.CallToolResult, IngestURLOutput, error) {
	job := jobModel.Job{
		Id:      utils.GetNewUUID(),
		JobType: jobModel.JobTypeIngestURL,
	}
	job.JobPayload.IngestURL = input.URL

	done := s.ragService.IngestURLJob(ctx, job)
	if done.Status != jobModel.JobStatusComplete {
		return nil, IngestURLOutput{}, fmt.Errorf("ingesting %s: %s", input.URL, done.Error.Message)
	}

	return nil, IngestURLOutput{
		Title:          done.JobPayload.Title,
		ChunkCount:     done.JobPayload.ChunkCount,
		AlreadyIndexed: done.JobPayload.AlreadyIndexed,
	}, nil
}
