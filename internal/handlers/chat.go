package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/config"
	"github.com/wastewise/relay/internal/i18n"
	"github.com/wastewise/relay/internal/middleware"
	"github.com/wastewise/relay/internal/models"
	"github.com/wastewise/relay/internal/services/ai"
	"github.com/wastewise/relay/internal/services/prompt"
	"github.com/wastewise/relay/pkg/logger"
	"github.com/wastewise/relay/pkg/markdown"
)

// Error messages returned to callers
const (
	MsgMissingAPIKey = "AI provider API key is not configured"
	MsgGenericError  = "Failed to process chat request. Please try again."
)

const maxBodyBytes = 1 << 20

// ChatHandler relays one chat message to the AI provider per request
type ChatHandler struct {
	config    *config.Config
	aiService ai.Service
	prompts   *prompt.Builder
	localizer *i18n.Localizer
	security  *middleware.SecurityMiddleware
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	cfg *config.Config,
	aiService ai.Service,
	prompts *prompt.Builder,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *ChatHandler {
	return &ChatHandler{
		config:    cfg,
		aiService: aiService,
		prompts:   prompts,
		localizer: localizer,
		security:  middleware.NewSecurityMiddleware(cfg.Relay.MaxMessageLength, logger),
		metrics:   metrics,
		logger:    logger,
	}
}

// ServeHTTP handles POST /chat. Preflight requests never get here; the CORS
// middleware answers them.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithRequest(h.logger, middleware.GetRequestID(r.Context()), r.Method, r.URL.Path)

	apiKey := h.config.Provider.APIKey()
	if apiKey == "" {
		log.WithField("env", h.config.Provider.APIKeyEnv).Error("Provider API key missing")
		h.record(middleware.OutcomeMissingKey)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: MsgMissingAPIKey})
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.fail(w, log, fmt.Errorf("failed to decode request body: %w", err))
		return
	}

	if err := h.security.ValidateInput(req.Message); err != nil {
		log.WithError(err).Info("Rejected chat request")
		h.record(middleware.OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	language := h.localizer.Resolve(req.Language)
	if h.metrics != nil {
		h.metrics.RecordLanguage(language)
	}

	messages := []models.Message{
		{Role: models.RoleSystem, Content: h.prompts.Build(req.ContextText(), language)},
		{Role: models.RoleUser, Content: req.Message},
	}

	start := time.Now()
	completion, err := h.aiService.Complete(r.Context(), apiKey, messages)
	duration := time.Since(start)

	var providerErr *ai.ProviderError
	switch {
	case errors.As(err, &providerErr):
		h.recordProvider(fmt.Sprint(providerErr.StatusCode), duration)
		log.WithFields(logrus.Fields{
			"status":      providerErr.StatusCode,
			"duration_ms": duration.Milliseconds(),
		}).Warn("AI provider returned an error")
		h.record(middleware.OutcomeProviderError)
		writeJSON(w, providerErr.StatusCode, models.NewErrorResponse(providerErr.Error(), providerErr.Body))
		return
	case err != nil:
		h.recordProvider("error", duration)
		h.fail(w, log, err)
		return
	}
	h.recordProvider("200", duration)

	resp := models.ChatResponse{
		Message: completion.Content,
		Usage:   completion.Usage,
	}
	if h.config.Relay.RenderHTML {
		resp.HTML = markdown.ToHTML(completion.Content)
	}

	log.WithFields(logrus.Fields{
		"language":    language,
		"duration_ms": duration.Milliseconds(),
	}).Info("Chat request relayed")
	h.record(middleware.OutcomeSuccess)
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) fail(w http.ResponseWriter, log *logrus.Entry, err error) {
	log.WithError(err).Error("Chat request failed")
	h.record(middleware.OutcomeFailure)
	writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse(MsgGenericError, err.Error()))
}

func (h *ChatHandler) record(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordChatRequest(outcome)
	}
}

func (h *ChatHandler) recordProvider(status string, duration time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordProviderRequest(h.config.Provider.Model, status, duration)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Debug("Failed to write response body")
	}
}
