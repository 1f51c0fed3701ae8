package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wastewise/relay/internal/config"
	"github.com/wastewise/relay/internal/models"
	"github.com/wastewise/relay/pkg/logger"
)

func testConfig(baseURL string) *config.ProviderConfig {
	return &config.ProviderConfig{
		BaseURL:   baseURL,
		Model:     "test-model",
		APIKeyEnv: "UNUSED",
		Timeout:   5 * time.Second,
	}
}

var testMessages = []models.Message{
	{Role: models.RoleSystem, Content: "be helpful"},
	{Role: models.RoleUser, Content: "Where do batteries go?"},
}

func TestNewClient(t *testing.T) {
	cfg := testConfig("https://example.com/v1")
	client := NewClient(cfg, logger.Discard())

	assert.NotNil(t, client)
	assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var apiReq models.ProviderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&apiReq))
		assert.Equal(t, "test-model", apiReq.Model)
		assert.Equal(t, 0.7, apiReq.Temperature)
		assert.Equal(t, 1000, apiReq.MaxTokens)
		assert.False(t, apiReq.Stream)
		assert.Equal(t, testMessages, apiReq.Messages)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Take them to an e-waste drop-off."}}],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL+"/v1/"), logger.Discard())

	completion, err := client.Complete(context.Background(), "sk-test", testMessages)

	require.NoError(t, err)
	assert.Equal(t, "Take them to an e-waste drop-off.", completion.Content)
	assert.JSONEq(t, `{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}`, string(completion.Usage))
}

func TestClient_Complete_MissingUsage(t *testing.T) {
	for name, body := range map[string]string{
		"absent": `{"choices":[{"message":{"content":"ok"}}]}`,
		"null":   `{"choices":[{"message":{"content":"ok"}}],"usage":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			completion, err := NewClient(testConfig(server.URL), logger.Discard()).
				Complete(context.Background(), "k", testMessages)

			require.NoError(t, err)
			assert.JSONEq(t, `{}`, string(completion.Usage))
		})
	}
}

func TestClient_Complete_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), logger.Discard())

	completion, err := client.Complete(context.Background(), "k", testMessages)

	assert.Nil(t, completion)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Equal(t, `{"error":"rate limited"}`, perr.Body)
	assert.Contains(t, perr.Error(), "429")
}

func TestClient_Complete_MalformedResponses(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		malformed bool
	}{
		{"not json", `<html>gateway</html>`, false},
		{"no choices", `{"choices":[]}`, true},
		{"null message", `{"choices":[{"message":null}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(testConfig(server.URL), logger.Discard()).
				Complete(context.Background(), "k", testMessages)

			require.Error(t, err)
			var perr *ProviderError
			assert.False(t, errors.As(err, &perr))
			assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformedResponse))
		})
	}
}

func TestClient_Complete_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(testConfig(url), logger.Discard()).
		Complete(context.Background(), "k", testMessages)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send request")
}

func TestClient_Complete_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(testConfig(server.URL), logger.Discard()).Complete(ctx, "k", testMessages)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
