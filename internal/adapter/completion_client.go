package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	completionService        = "chutes"
	defaultCompletionBaseURL = "https://llm.chutes.ai"
	defaultCompletionTimeout = 60 * time.Second
)

// CompletionClient calls an OpenAI-style text completion endpoint
type CompletionClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewCompletionClient creates a new completion client. An empty baseURL selects the public API.
func NewCompletionClient(apiKey, baseURL string, timeout time.Duration) *CompletionClient {
	if baseURL == "" {
		baseURL = defaultCompletionBaseURL
	}
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	return &CompletionClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CompletionRequest is the completion payload
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// CompletionResponse is the subset of the completion response that is consumed
type CompletionResponse struct {
	ID      string             `json:"id"`
	Choices []CompletionChoice `json:"choices"`
}

// CompletionChoice is one generated alternative
type CompletionChoice struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// FirstText returns the text of the first choice, or "" when there is none
func (r *CompletionResponse) FirstText() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Text
}

// Complete posts the request to /v1/completions
func (c *CompletionClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewAdapterError(completionService, "Complete", fmt.Errorf("failed to encode request: %w", err), nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewAdapterError(completionService, "Complete", fmt.Errorf("failed to create request: %w", err), nil)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewAdapterError(completionService, "Complete", fmt.Errorf("request failed: %w", err), nil)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewAdapterError(completionService, "Complete", fmt.Errorf("failed to read response: %w", err), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewAdapterError(completionService, "Complete", ErrUpstreamStatus, map[string]interface{}{
			"status": resp.StatusCode,
			"body":   truncate(respBody, maxErrorBodyBytes),
		})
	}

	var out CompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, NewAdapterError(completionService, "Complete", fmt.Errorf("failed to decode response: %w", err), nil)
	}

	return &out, nil
}
