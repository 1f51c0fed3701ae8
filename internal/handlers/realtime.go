package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/middleware"
	"github.com/wastewise/relay/internal/models"
	"github.com/wastewise/relay/internal/realtime"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RealtimeHandler streams table change events to websocket clients
type RealtimeHandler struct {
	source  realtime.Source
	tables  map[string]bool
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewRealtimeHandler creates a handler that only serves the given tables
func NewRealtimeHandler(source realtime.Source, tables []string, metrics *middleware.Metrics, logger *logrus.Logger) *RealtimeHandler {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	return &RealtimeHandler{
		source:  source,
		tables:  allowed,
		metrics: metrics,
		logger:  logger,
	}
}

// ServeHTTP handles GET /realtime/{table}?filter=column=op.value
func (h *RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	if !h.tables[table] {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "unknown table " + table})
		return
	}

	filter, err := realtime.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(r.Context()),
		"table":      table,
		"filter":     filter.String(),
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.source.Subscribe(ctx, table, filter)
	if err != nil {
		log.WithError(err).Error("Failed to subscribe to realtime source")
		writeJSON(w, http.StatusBadGateway, models.NewErrorResponse("Failed to subscribe to changes", err.Error()))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.SubscriptionOpened(table)
		defer h.metrics.SubscriptionClosed(table)
	}
	log.Info("Realtime subscription opened")

	// Clients only ever close; any read error ends the subscription
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Realtime subscription closed")
			return
		case event, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "change stream ended"),
					time.Now().Add(writeWait))
				log.Warn("Realtime source ended the subscription")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("Failed to write change event")
				return
			}
			if h.metrics != nil {
				h.metrics.RecordRealtimeEvent(table)
			}
		}
	}
}
