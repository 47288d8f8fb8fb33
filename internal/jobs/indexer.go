package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cadencebot/cadence/internal/store"
)

// Indexer processes one leased job. Returning a PermanentError parks the job
// immediately; any other error consumes one retry.
type Indexer interface {
	Index(ctx context.Context, job *store.IndexJob) error
}

// PermanentError marks a failure that retrying cannot fix (malformed
// payload, item rejected by the index service).
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return "permanent: " + e.Reason }

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// HTTPIndexer submits jobs to the index service over HTTP.
type HTTPIndexer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIndexer creates an indexer for the service at baseURL.
func NewHTTPIndexer(baseURL string, timeout time.Duration) *HTTPIndexer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPIndexer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type indexRequest struct {
	ItemType string          `json:"item_type"`
	RefID    string          `json:"ref_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Index POSTs the job to /index. 4xx responses are permanent (the item will
// never be accepted); 5xx and transport errors are retryable.
func (h *HTTPIndexer) Index(ctx context.Context, job *store.IndexJob) error {
	req := indexRequest{ItemType: job.ItemType, RefID: job.RefID}
	if job.Payload != "" {
		if !json.Valid([]byte(job.Payload)) {
			return &PermanentError{Reason: fmt.Sprintf("job %d payload is not valid JSON", job.ID)}
		}
		req.Payload = json.RawMessage(job.Payload)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return &PermanentError{Reason: fmt.Sprintf("marshal index request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/index", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build index request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("index service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &PermanentError{Reason: fmt.Sprintf("index service rejected job: %s: %s", resp.Status, detail)}
	}
	return fmt.Errorf("index service returned %s: %s", resp.Status, detail)
}
