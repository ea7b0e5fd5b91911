package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"id": "chatcmpl-1",
		"choices": []any{
			map[string]any{
				"index":   0,
				"message": map[string]any{"role": "assistant", "content": content},
			},
		},
	}
}

func TestClientComplete(t *testing.T) {
	var got chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatReply("Hello NAME_32ddaf65"))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: server.URL + "/"})
	answer, err := client.Complete(context.Background(), "greet NAME_32ddaf65", CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hello NAME_32ddaf65", answer)

	assert.Equal(t, defaultModel, got.Model)
	assert.Equal(t, defaultTemperature, got.Temperature)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "greet NAME_32ddaf65", got.Messages[0].Content)
}

func TestClientComplete_Overrides(t *testing.T) {
	var got chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer server.Close()

	zero := 0.0
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "base-model", Temperature: 0.2})
	_, err := client.Complete(context.Background(), "hi", CompleteOptions{Model: "other", Temperature: &zero, MaxTokens: 42})
	require.NoError(t, err)

	assert.Equal(t, "other", got.Model)
	assert.Equal(t, 0.0, got.Temperature)
	assert.Equal(t, 42, got.MaxTokens)
}

func TestClientComplete_NotConfigured(t *testing.T) {
	client := NewClient(Config{APIKey: "   "})
	assert.False(t, client.Configured())

	_, err := client.Complete(context.Background(), "hi", CompleteOptions{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClientComplete_StatusErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), "hi", CompleteOptions{})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(chatReply("finally"))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, WithRetryBackoff(10*time.Millisecond, 15*time.Millisecond))
	client.sleeper = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	answer, err := client.Complete(context.Background(), "hi", CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "finally", answer)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, slept)
}

func TestClientComplete_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, WithRetryMaxAttempts(2), WithRetryBackoff(0, 0))
	_, err := client.Complete(context.Background(), "hi", CompleteOptions{})
	require.Error(t, err)

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Contains(t, err.Error(), "failed after 2 attempts")
}

func TestClientComplete_BadPayloads(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>"},
		{name: "no choices", body: `{"choices":[]}`},
		{name: "api error", body: `{"error":{"message":"quota exceeded"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
			_, err := client.Complete(context.Background(), "hi", CompleteOptions{})
			assert.Error(t, err)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestBackoffDelay(t *testing.T) {
	c := NewClient(Config{}, WithRetryBackoff(time.Second, 5*time.Second))
	assert.Equal(t, time.Second, c.backoffDelay(1))
	assert.Equal(t, 2*time.Second, c.backoffDelay(2))
	assert.Equal(t, 4*time.Second, c.backoffDelay(3))
	assert.Equal(t, 5*time.Second, c.backoffDelay(4))
}
