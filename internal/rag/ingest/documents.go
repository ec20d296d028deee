package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dslipak/pdf"
	"github.com/lu4p/cat"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/rag/chunker"
)

// IngestDocument indexes an uploaded file (pdf, docx, txt, rtf, odt). The file
// is a temp upload and gets removed once its text is extracted.
func (c *Coordinator) IngestDocument(ctx context.Context, docName string, docPath string) (kbModel.IngestResult, error) {
	log := c.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "document", docName)

	text, err := extractText(docPath)
	if removeErr := os.Remove(docPath); removeErr != nil {
		log.Error("Error removing uploaded file", "error", removeErr)
	}
	if err != nil {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(docName, kbModel.IngestUpstreamFailure, err)
	}
	if strings.TrimSpace(text) == "" {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(docName, kbModel.IngestNoContent, nil)
	}

	chunks := chunker.Chunk(text, c.maxChunkBytes)
	if len(chunks) == 0 {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(docName, kbModel.IngestNoChunks, nil)
	}

	doc := kbModel.DocumentMeta{
		SourceFile: docName,
		Category:   "document",
	}
	if err := c.embedAndUpsert(ctx, doc, chunks); err != nil {
		return kbModel.IngestResult{}, kbModel.NewIngestionError(docName, kbModel.IngestUpstreamFailure, err)
	}

	log.Info("Indexed document", "chunks", len(chunks))
	return kbModel.IngestResult{
		Title:      docName,
		SourceFile: docName,
		ChunkCount: len(chunks),
	}, nil
}

func extractText(docPath string) (string, error) {
	switch strings.ToLower(filepath.Ext(docPath)) {
	case ".pdf":
		return extractPDF(docPath)
	case ".docx", ".txt", ".rtf", ".odt":
		return cat.File(docPath)
	default:
		return "", fmt.Errorf("unsupported document type: %s", filepath.Ext(docPath))
	}
}

func extractPDF(path string) (string, error) {
	f, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= f.NumPage(); i++ {
		page := f.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := guardedPageText(page)
		if err != nil {
			// one bad page does not sink the document
			continue
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n\n"), nil
}

// guardedPageText caps a single page extraction: the pdf parser can stall on
// malformed content streams.
func guardedPageText(page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resChan := make(chan result, 1)

	go func() {
		content, err := page.GetPlainText(nil)
		resChan <- result{content, err}
	}()

	select {
	case r := <-resChan:
		return r.content, r.err
	case <-time.After(10 * time.Second):
		return "", errors.New("page extraction timeout")
	}
}
