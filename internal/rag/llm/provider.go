package llm

import (
	"context"
	"io"

	"github.com/adevara/GoKB/internal/domain/kbModel"
)

// Provider is the completion collaborator. StreamCompletion hands back the raw
// newline-delimited "data: {json}" byte stream exactly as the provider framed it;
// the Stream Relay depends on seeing those bytes untouched. Closing the returned
// reader cancels the provider connection.
type Provider interface {
	Complete(ctx context.Context, systemPrompt string, messages []kbModel.ConversationTurn) (string, error)
	StreamCompletion(ctx context.Context, systemPrompt string, messages []kbModel.ConversationTurn) (io.ReadCloser, error)
}
