package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/config"
	"github.com/wastewise/relay/internal/models"
)

// Sampling parameters sent with every completion request
const (
	Temperature = 0.7
	MaxTokens   = 1000
)

// ErrMalformedResponse is returned when a 2xx provider body has no usable completion
var ErrMalformedResponse = errors.New("malformed provider response")

// ProviderError is a non-2xx answer from the provider. Body is kept verbatim.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("AI provider request failed with status %d", e.StatusCode)
}

// Completion is a successful provider answer
type Completion struct {
	Content string
	Usage   json.RawMessage
}

// Service represents the AI service interface
type Service interface {
	Complete(ctx context.Context, apiKey string, messages []models.Message) (*Completion, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint. It makes
// exactly one request per call and never retries.
type Client struct {
	config     *config.ProviderConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new provider client
func NewClient(cfg *config.ProviderConfig, logger *logrus.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Complete sends one non-streaming chat completion request
func (c *Client) Complete(ctx context.Context, apiKey string, messages []models.Message) (*Completion, error) {
	reqBody := models.ProviderRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
		Stream:      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(c.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))

	c.logger.WithFields(logrus.Fields{
		"model":    c.config.Model,
		"url":      url,
		"messages": len(messages),
	}).Debug("Sending AI request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"body":     string(body),
			"duration": time.Since(start),
		}).Error("AI request failed")

		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result models.ProviderResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Choices) == 0 || result.Choices[0].Message == nil {
		return nil, fmt.Errorf("%w: no completion choices", ErrMalformedResponse)
	}

	c.logger.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("AI request completed")

	usage := result.Usage
	if len(usage) == 0 || string(usage) == "null" {
		usage = json.RawMessage("{}")
	}

	return &Completion{
		Content: result.Choices[0].Message.Content,
		Usage:   usage,
	}, nil
}
