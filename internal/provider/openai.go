package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an upstream error body we keep for logs.
const maxErrorBody = 4 << 10

// ---------------------------------------------------------------------------
// OpenAI-compatible response types (unexported, only this file uses them)
// ---------------------------------------------------------------------------

// completionResponse is the top-level chat-completions response. Both
// OpenAI and DeepSeek return this shape.
type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   *completionUsage   `json:"usage"`
}

// completionChoice is one generated answer. We only ever read choices[0].
type completionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HTTPStatusError is returned when the provider answers with a non-2xx
// status. Body is kept for server-side logging only.
type HTTPStatusError struct {
	Provider   ID
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// ---------------------------------------------------------------------------
// Non-streaming: ChatCompletion
// ---------------------------------------------------------------------------

// ChatCompletion sends req to the provider's endpoint and returns the
// first choice. It blocks until the response arrives, ctx is cancelled,
// or the client timeout fires.
func (p *Provider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", p.ID, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &HTTPStatusError{
			Provider:   p.ID,
			StatusCode: httpResp.StatusCode,
			Body:       string(raw),
		}
	}

	var completion completionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", p.ID, err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.ID)
	}

	resp := &ChatResponse{
		ID:      completion.ID,
		Model:   completion.Model,
		Content: completion.Choices[0].Message.Content,
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if completion.Usage != nil {
		resp.Usage = Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}
	}

	return resp, nil
}
