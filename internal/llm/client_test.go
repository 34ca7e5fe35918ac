package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messagesResponse(text string) string {
	resp := map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": text}},
		"usage":   map[string]int{"input_tokens": 10, "output_tokens": 5},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func testClient(baseURL string, maxRetries int) *AnthropicClient {
	return NewAnthropicClientWithConfig(AnthropicConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "claude-sonnet-4-20250514",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	})
}

func TestAnthropicClient_CompleteWithSystem(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(messagesResponse("  {\"ok\":true}\n")))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	text, err := c.CompleteWithSystem(context.Background(), "you are a grader", "read this transcript")
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, text, "completion text is trimmed")
	assert.Equal(t, "you are a grader", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "read this transcript", gotReq.Messages[0].Content)
}

func TestAnthropicClient_RetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(messagesResponse("recovered")))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	text, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAnthropicClient_ClientErrorIsFinal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx other than 429 must not be retried")
}

func TestAnthropicClient_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestAnthropicClient_RequiresAPIKey(t *testing.T) {
	c := NewAnthropicClient("")
	_, err := c.Complete(context.Background(), "hello")
	assert.Error(t, err)
}

func TestAnthropicClient_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := testClient(srv.URL, 3)
	_, err := c.Complete(ctx, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
