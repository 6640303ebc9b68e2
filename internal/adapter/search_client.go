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
	searchService        = "datura"
	defaultSearchBaseURL = "https://apis.datura.ai"
	defaultSearchTimeout = 30 * time.Second
	maxErrorBodyBytes    = 512
)

// SearchClient queries the Datura social search API
type SearchClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewSearchClient creates a new search client. An empty baseURL selects the public API.
func NewSearchClient(apiKey, baseURL string, timeout time.Duration) *SearchClient {
	if baseURL == "" {
		baseURL = defaultSearchBaseURL
	}
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	return &SearchClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SearchRequest is the Datura twitter search payload
type SearchRequest struct {
	Query       string `json:"query"`
	Count       int    `json:"count"`
	Sort        string `json:"sort"`
	IsImage     bool   `json:"is_image"`
	IsQuote     bool   `json:"is_quote"`
	IsVideo     bool   `json:"is_video"`
	Lang        string `json:"lang"`
	MinLikes    int    `json:"min_likes"`
	MinReplies  int    `json:"min_replies"`
	MinRetweets int    `json:"min_retweets"`
}

// NewSearchRequest returns a request for the top English posts matching query
func NewSearchRequest(query string, count int) SearchRequest {
	return SearchRequest{
		Query: query,
		Count: count,
		Sort:  "Top",
		Lang:  "en",
	}
}

// Post is a single search result. Only the text is consumed.
type Post struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// Search posts the request and returns the raw results
func (c *SearchClient) Search(ctx context.Context, req SearchRequest) ([]Post, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewAdapterError(searchService, "Search", fmt.Errorf("failed to encode request: %w", err), nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/twitter", bytes.NewReader(body))
	if err != nil {
		return nil, NewAdapterError(searchService, "Search", fmt.Errorf("failed to create request: %w", err), nil)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewAdapterError(searchService, "Search", fmt.Errorf("request failed: %w", err), nil)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewAdapterError(searchService, "Search", fmt.Errorf("failed to read response: %w", err), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewAdapterError(searchService, "Search", ErrUpstreamStatus, map[string]interface{}{
			"status": resp.StatusCode,
			"body":   truncate(respBody, maxErrorBodyBytes),
		})
	}

	var posts []Post
	if err := json.Unmarshal(respBody, &posts); err != nil {
		return nil, NewAdapterError(searchService, "Search", fmt.Errorf("failed to decode response: %w", err), nil)
	}

	return posts, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
