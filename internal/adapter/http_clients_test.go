package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchClient_Search(t *testing.T) {
	var got SearchRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/twitter", r.URL.Path)
		assert.Equal(t, "datura-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1","text":"bullish on subnet 18"},{"id":"2","text":""}]`))
	}))
	defer ts.Close()

	client := NewSearchClient("datura-key", ts.URL, time.Second)
	posts, err := client.Search(context.Background(), NewSearchRequest("Bittensor netuid 18", 20))
	require.NoError(t, err)

	require.Len(t, posts, 2)
	assert.Equal(t, "bullish on subnet 18", posts[0].Text)

	assert.Equal(t, "Bittensor netuid 18", got.Query)
	assert.Equal(t, 20, got.Count)
	assert.Equal(t, "Top", got.Sort)
	assert.Equal(t, "en", got.Lang)
	assert.False(t, got.IsImage)
}

func TestSearchClient_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewSearchClient("key", ts.URL, time.Second)
	_, err := client.Search(context.Background(), NewSearchRequest("q", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamStatus)

	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, http.StatusTooManyRequests, adapterErr.Details["status"])
}

func TestSearchClient_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := NewSearchClient("key", url, time.Second)
	_, err := client.Search(context.Background(), NewSearchRequest("q", 1))
	assert.Error(t, err)
}

func TestSearchClient_MalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer ts.Close()

	client := NewSearchClient("key", ts.URL, time.Second)
	_, err := client.Search(context.Background(), NewSearchRequest("q", 1))
	assert.Error(t, err)
}

func TestCompletionClient_Complete(t *testing.T) {
	var got CompletionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, "Bearer chutes-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"index":0,"text":" 42"}]}`))
	}))
	defer ts.Close()

	client := NewCompletionClient("chutes-key", ts.URL, time.Second)
	resp, err := client.Complete(context.Background(), CompletionRequest{
		Model:       "m",
		Prompt:      "p",
		MaxTokens:   20,
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, " 42", resp.FirstText())

	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 20, got.MaxTokens)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
}

func TestCompletionClient_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewCompletionClient("key", ts.URL, time.Second)
	_, err := client.Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, ErrUpstreamStatus)
}

func TestCompletionResponse_FirstText(t *testing.T) {
	var nilResp *CompletionResponse
	assert.Equal(t, "", nilResp.FirstText())
	assert.Equal(t, "", (&CompletionResponse{}).FirstText())
}
