// Command mock-provider is an OpenAI-compatible chat completions endpoint for
// running the relay locally. It echoes the last user message and can be told
// to fail, either always (-status), randomly (-fail-rate) or per request with
// ?fail=<status|timeout|malformed>. "malformed" answers 200 with no choices.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/models"
)

type options struct {
	status   int
	failRate float64
	delay    time.Duration
}

type completionResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []completionItem `json:"choices"`
	Usage   usage            `json:"usage"`
}

type completionItem struct {
	Index        int            `json:"index"`
	Message      models.Message `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func main() {
	port := flag.Int("port", 8001, "Port to listen on")
	status := flag.Int("status", 0, "Fail every request with this HTTP status (0 disables)")
	failRate := flag.Float64("fail-rate", 0, "Fraction of requests answered with 503")
	delay := flag.Duration("delay", 0, "Delay before answering")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	r := newRouter(options{status: *status, failRate: *failRate, delay: *delay})

	log.Infof("Mock LLM provider starting on :%d", *port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), r); err != nil {
		log.WithError(err).Fatal("Mock provider stopped")
	}
}

func newRouter(opts options) http.Handler {
	r := mux.NewRouter()

	completions := handleChatCompletion(opts)
	r.HandleFunc("/chat/completions", completions).Methods(http.MethodPost)
	r.HandleFunc("/v1/chat/completions", completions).Methods(http.MethodPost)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)

	return r
}

func handleChatCompletion(opts options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fail := r.URL.Query().Get("fail")
		delay := opts.delay
		if ms, err := strconv.Atoi(r.URL.Query().Get("delay")); err == nil && ms > 0 {
			delay = time.Duration(ms) * time.Millisecond
		}

		log.WithFields(log.Fields{
			"delay": delay,
			"fail":  fail,
		}).Info("Received request")

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeProviderError(w, http.StatusUnauthorized, "Missing bearer token", "invalid_request_error")
			return
		}

		switch {
		case fail != "":
			handleFailure(w, r, fail)
			return
		case opts.status != 0:
			handleFailure(w, r, strconv.Itoa(opts.status))
			return
		case opts.failRate > 0 && rand.Float64() < opts.failRate:
			handleFailure(w, r, "503")
			return
		}

		var req models.ProviderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProviderError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error(), "invalid_request_error")
			return
		}

		var prompt, question string
		for _, m := range req.Messages {
			prompt += m.Content + " "
			if m.Role == models.RoleUser {
				question = m.Content
			}
		}

		reply := "Mock reply: " + question
		u := usage{
			PromptTokens:     countTokens(prompt),
			CompletionTokens: countTokens(reply),
		}
		u.TotalTokens = u.PromptTokens + u.CompletionTokens

		writeJSON(w, http.StatusOK, completionResponse{
			ID:      "chatcmpl-" + uuid.New().String(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []completionItem{{
				Index:        0,
				Message:      models.Message{Role: models.RoleAssistant, Content: reply},
				FinishReason: "stop",
			}},
			Usage: u,
		})
	}
}

func handleFailure(w http.ResponseWriter, r *http.Request, failType string) {
	log.Warnf("Simulating failure: %s", failType)

	switch failType {
	case "429":
		writeProviderError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please retry after some time.", "rate_limit_error")
	case "timeout":
		// hold the connection until the caller gives up
		<-r.Context().Done()
	case "malformed":
		writeJSON(w, http.StatusOK, map[string]interface{}{"choices": []interface{}{}})
	default:
		code, err := strconv.Atoi(failType)
		if err != nil || code < 400 || code >= 600 {
			code = http.StatusInternalServerError
		}
		writeProviderError(w, code, fmt.Sprintf("Simulated error %d", code), "simulated_error")
	}
}

func writeProviderError(w http.ResponseWriter, status int, msg, errType string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// countTokens approximates tokens as whitespace-separated words
func countTokens(s string) int {
	return len(strings.Fields(s))
}
