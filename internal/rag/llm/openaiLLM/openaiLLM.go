package openaiLLM

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/customHttpClient"
	"github.com/adevara/GoKB/internal/domain/kbModel"
	"github.com/adevara/GoKB/internal/rag/llm"
	"github.com/adevara/GoKB/pkg/logger_i"
)

const completionsURL = "https://api.openai.com/v1/chat/completions"

var (
	logger    *logger_i.Logger
	llmClient *client
	once      sync.Once
)

type client struct {
	api    openai.Client
	http   *http.Client
	apiKey string
	model  string
}

func GetOpenAIClient(modelName string, apikey string) llm.Provider {
	once.Do(func() {
		logger = logger_i.NewLogger("llm_openai")
		if apikey == "" {
			logger.Error("OpenAI client needs an api key")
			return
		}
		llmClient = &client{
			api:    openai.NewClient(option.WithAPIKey(apikey)),
			http:   customHttpClient.Get(),
			apiKey: apikey,
			model:  modelName,
		}
		logger.Info("OpenAI client created", "model", modelName)
	})

	if llmClient == nil {
		return nil
	}
	return llmClient
}

func (c *client) Complete(ctx context.Context, systemPrompt string, messages []kbModel.ConversationTurn) (string, error) {
	log := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toParamMessages(systemPrompt, messages),
		Temperature: openai.Float(config.ModelTemperature),
		MaxTokens:   openai.Int(config.ModelMaxTokens),
	}

	res, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error("Completion call failed", "error", err)
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty choices")
	}
	return res.Choices[0].Message.Content, nil
}

// StreamCompletion issues the streaming call over the pooled transport and
// returns the response body untouched. The relay needs the provider's own
// "data:" framing byte for byte, which the SDK's stream decoder would strip.
func (c *client) StreamCompletion(ctx context.Context, systemPrompt string, messages []kbModel.ConversationTurn) (io.ReadCloser, error) {
	log := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	payload := streamRequest{
		Model:       c.model,
		Messages:    toWireMessages(systemPrompt, messages),
		Temperature: config.ModelTemperature,
		MaxTokens:   config.ModelMaxTokens,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Error("Stream call failed", "error", err)
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		log.Error("Stream call rejected", "status", resp.StatusCode, "body", string(errBody))
		return nil, fmt.Errorf("openai stream: status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

type streamRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWireMessages(systemPrompt string, messages []kbModel.ConversationTurn) []wireMessage {
	out := make([]wireMessage, 0, len(messages)+1)
	out = append(out, wireMessage{Role: "system", Content: systemPrompt})
	for _, m := range messages {
		out = append(out, wireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func toParamMessages(systemPrompt string, messages []kbModel.ConversationTurn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	out = append(out, openai.SystemMessage(systemPrompt))
	for _, m := range messages {
		if m.Role == kbModel.RoleAssistant {
			out = append(out, openai.AssistantMessage(m.Content))
		} else {
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
