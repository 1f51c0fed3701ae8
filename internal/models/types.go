package models

import (
	"encoding/json"
)

// Chat roles sent to the provider
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body a client posts to the relay
type ChatRequest struct {
	Message  string  `json:"message"`
	Context  *string `json:"context"`
	Language string  `json:"language"`
}

// ContextText returns the supplied context, or "" when absent
func (r *ChatRequest) ContextText() string {
	if r.Context == nil {
		return ""
	}
	return *r.Context
}

// ChatResponse is returned to the client on success. Usage is the provider's
// usage object passed through untouched.
type ChatResponse struct {
	Message string          `json:"message"`
	Usage   json.RawMessage `json:"usage"`
	HTML    string          `json:"html,omitempty"`
}

// ErrorResponse is the body of every non-2xx relay response. Details is nil
// for configuration errors and set, possibly empty, for everything else.
type ErrorResponse struct {
	Error   string  `json:"error"`
	Details *string `json:"details,omitempty"`
}

// NewErrorResponse builds an ErrorResponse carrying details
func NewErrorResponse(msg, details string) ErrorResponse {
	return ErrorResponse{Error: msg, Details: &details}
}

// ProviderRequest is the OpenAI-compatible chat completion request
type ProviderRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// ProviderResponse is the subset of a chat completion response the relay reads
type ProviderResponse struct {
	Choices []ProviderChoice `json:"choices"`
	Usage   json.RawMessage  `json:"usage"`
}

type ProviderChoice struct {
	Index   int      `json:"index"`
	Message *Message `json:"message"`
}
