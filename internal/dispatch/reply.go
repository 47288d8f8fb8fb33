// Package dispatch drives completed turns through admission, reply
// generation, and paced delivery.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cadencebot/cadence/internal/debounce"
)

// Reply is what the pipeline wants sent back into the turn's scene. An empty
// Messages slice means "stay silent".
type Reply struct {
	Messages []string
}

// ReplyPipeline turns a merged turn into reply content. Implementations are
// expected to be slow (model calls); the dispatcher handles pacing.
type ReplyPipeline interface {
	Reply(ctx context.Context, turn debounce.Turn) (Reply, error)
}

// HTTPReplyPipeline asks an external reply service over HTTP.
type HTTPReplyPipeline struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReplyPipeline creates a pipeline client for the service at baseURL.
func NewHTTPReplyPipeline(baseURL string, timeout time.Duration) *HTTPReplyPipeline {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPReplyPipeline{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type replyRequestMessage struct {
	SenderID string `json:"sender_id"`
	Kind     string `json:"kind"`
	Content  string `json:"content,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
}

type replyRequest struct {
	Scene         string                `json:"scene"`
	Channel       string                `json:"channel"`
	DirectedAtBot bool                  `json:"directed_at_bot"`
	Messages      []replyRequestMessage `json:"messages"`
}

type replyResponse struct {
	Messages []string `json:"messages"`
}

func (p *HTTPReplyPipeline) Reply(ctx context.Context, turn debounce.Turn) (Reply, error) {
	req := replyRequest{
		Scene:         turn.Scene.String(),
		Channel:       turn.Channel,
		DirectedAtBot: turn.DirectedAtBot,
	}
	for _, m := range turn.Messages {
		req.Messages = append(req.Messages, replyRequestMessage{
			SenderID: m.SenderID,
			Kind:     string(m.Kind),
			Content:  m.Content,
			ImageRef: m.ImageRef,
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal reply request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/reply", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build reply request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("reply service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Reply{}, fmt.Errorf("reply service returned %s: %s", resp.Status, detail)
	}

	var out replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Reply{}, fmt.Errorf("decode reply response: %w", err)
	}
	return Reply{Messages: out.Messages}, nil
}
