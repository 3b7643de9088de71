package llmservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&config.LLMConfig{BaseURL: srv.URL, Key: "csk-test", Model: "llama3.1-8b"})
	require.NoError(t, err)
	return c
}

func chatRequest() ChatRequest {
	return ChatRequest{
		Model: "gpt-oss-120b",
		Messages: []models.ConversationTurn{
			{Role: models.RoleSystem, Content: "persona"},
			{Role: models.RoleUser, Content: "prompt"},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
	}
}

func TestComplete(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-oss-120b",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Grace is a gift."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":4,"total_tokens":9}}`)
	})

	answer, err := c.Complete(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "Grace is a gift.", answer)

	assert.Equal(t, "gpt-oss-120b", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestComplete_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	_, err := c.Complete(context.Background(), chatRequest())
	assert.Error(t, err)
}

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "answer", StripThinking("<think>\nplan\n</think>\nanswer"))
	assert.Equal(t, "plain", StripThinking("plain"))
}

func sse(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func collect(s Stream) []string {
	var fragments []string
	for s.Next() {
		fragments = append(fragments, s.Fragment())
	}
	return fragments
}

func TestStream(t *testing.T) {
	var payload map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer csk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(
			`data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`data: {"choices":[{"index":0,"delta":{"content":"Grace "}}]}`,
			`data: {"choices":[{"index":0,"delta":{"content":"precedes faith."}}]}`,
			`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
			`data: [DONE]`,
		))
	})

	s, err := c.Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"Grace ", "precedes faith."}, collect(s))
	require.NoError(t, s.Err())
	assert.Equal(t, "Grace precedes faith.", s.Text())
	assert.False(t, s.Next(), "stream is not restartable")

	assert.Equal(t, true, payload["stream"])
	assert.EqualValues(t, 1000, payload["max_completion_tokens"])
	assert.Equal(t, "gpt-oss-120b", payload["model"])
}

func TestStream_FinishedWithoutDone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(`data: {"choices":[{"index":0,"delta":{"content":"last"},"finish_reason":"stop"}]}`))
	})

	s, err := c.Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"last"}, collect(s))
	assert.NoError(t, s.Err())
}

func TestStream_ConnectionDropped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(`data: {"choices":[{"index":0,"delta":{"content":"Grace is"}}]}`))
	})

	s, err := c.Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"Grace is"}, collect(s))
	assert.ErrorIs(t, s.Err(), ErrTruncatedStream)
	assert.ErrorIs(t, s.Err(), io.ErrUnexpectedEOF)
	assert.Equal(t, "Grace is", s.Text())
}

func TestStream_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	s, err := c.Stream(context.Background(), chatRequest())
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.Next())
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "503")
}

func TestStream_CloseStopsCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(`data: {"choices":[{"index":0,"delta":{"content":"Grace "}}]}`))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	s, err := c.Stream(context.Background(), chatRequest())
	require.NoError(t, err)

	require.True(t, s.Next())
	assert.Equal(t, "Grace ", s.Fragment())
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
}

func TestStripThinking_Unclosed(t *testing.T) {
	assert.Equal(t, "answer", StripThinking("answer<think>never closed"))
}
