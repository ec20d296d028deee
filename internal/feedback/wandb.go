// Package feedback forwards user ratings of answers to a Weights & Biases
// run via the file_stream endpoint. Delivery is fire-and-forget: feedback is
// telemetry, and a slow or offline sink must never delay the caller.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/customHttpClient"
	"github.com/adevara/GoKB/pkg/logger_i"
)

type Entry struct {
	ChatId    string `json:"chat_id"`
	Helpful   bool   `json:"helpful"`
	Comment   string `json:"comment,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type Sink struct {
	client   *http.Client
	endpoint string
	apiKey   string
	offset   int64
	logger   *logger_i.Logger
}

var (
	sinkInstance *Sink
	once         sync.Once
)

func GetSink() *Sink {
	once.Do(func() {
		sinkInstance = &Sink{
			client: customHttpClient.Get(),
			endpoint: fmt.Sprintf("https://api.wandb.ai/files/%s/%s/%s/file_stream",
				config.WandbEntity, config.WandbProject, config.WandbRun),
			apiKey: config.WandbAPIKey,
			logger: logger_i.NewLogger("FeedbackSink"),
		}
	})
	return sinkInstance
}

// Submit queues one feedback entry for delivery and returns immediately.
func (s *Sink) Submit(entry Entry) {
	if s.apiKey == "" {
		s.logger.Debug("WANDB_API_KEY not set, dropping feedback entry")
		return
	}
	entry.Timestamp = time.Now().Unix()
	go s.deliver(entry)
}

func (s *Sink) deliver(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	line, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("Could not marshal feedback entry", "error", err)
		return
	}

	payload := map[string]any{
		"files": map[string]any{
			"wandb-events.jsonl": map[string]any{
				"offset":  atomic.AddInt64(&s.offset, 1) - 1,
				"content": []string{string(line)},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Could not marshal file_stream payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Could not build feedback request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Feedback delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("Feedback sink rejected entry", "status", resp.StatusCode)
	}
}
