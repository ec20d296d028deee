package customHttpClient

import (
	"net/http"
	"sync"

	"github.com/adevara/GoKB/internal/config"
)

// Shared pooled transport for every outbound HTTP call the service makes itself
// (provider SSE, scraping, feedback sink). Connection reuse keeps the per-request
// latency of the streaming path down.
var (
	once   sync.Once
	client *http.Client
)

func Get() *http.Client {
	once.Do(func() {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        config.MaxIdleConns,
				MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
				IdleConnTimeout:     config.IdleConnTimeout,
			},
		}
	})
	return client
}
