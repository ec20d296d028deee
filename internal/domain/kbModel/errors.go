package kbModel

import (
	"errors"
	"fmt"
)

// IngestReason classifies why one URL's ingestion failed. A single URL failure is
// isolated: the batch keeps going and the answer step still runs.
type IngestReason string

const (
	IngestNoContent       IngestReason = "NoContent"
	IngestNoChunks        IngestReason = "NoChunks"
	IngestUpstreamFailure IngestReason = "UpstreamFailure"
)

type IngestionError struct {
	URL    string
	Reason IngestReason
	Err    error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingesting %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("ingesting %s: %s", e.URL, e.Reason)
}

func (e *IngestionError) Unwrap() error { return e.Err }

func NewIngestionError(url string, reason IngestReason, err error) *IngestionError {
	return &IngestionError{URL: url, Reason: reason, Err: err}
}

// ErrRetrieval wraps index query failures. It aborts the request: an answer
// produced with zero context must not look like "no relevant content".
var ErrRetrieval = errors.New("retrieval failed")
