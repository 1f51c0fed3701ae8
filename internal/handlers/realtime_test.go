package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wastewise/relay/internal/middleware"
	"github.com/wastewise/relay/internal/realtime"
	"github.com/wastewise/relay/pkg/logger"
)

func newRealtimeServer(t *testing.T, source realtime.Source) *httptest.Server {
	t.Helper()
	h := NewRealtimeHandler(source, []string{"issue_reports", "waste_listings"}, middleware.NewMetrics(), logger.Discard())

	r := mux.NewRouter()
	r.Handle("/realtime/{table}", h).Methods(http.MethodGet)

	srv := httptest.NewServer(middleware.RequestID(middleware.Logging(logger.Discard())(r)))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestRealtime_UnknownTable(t *testing.T) {
	srv := newRealtimeServer(t, realtime.NewMemorySource(4, logger.Discard()))

	resp, err := http.Get(srv.URL + "/realtime/users")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestRealtime_BadFilter(t *testing.T) {
	srv := newRealtimeServer(t, realtime.NewMemorySource(4, logger.Discard()))

	resp, err := http.Get(srv.URL + "/realtime/issue_reports?filter=votes%3Dgt.3")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRealtime_StreamsMatchingEvents(t *testing.T) {
	source := realtime.NewMemorySource(8, logger.Discard())
	srv := newRealtimeServer(t, source)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/realtime/issue_reports?filter=user_id%3Deq.42"), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return source.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, source.Publish(ctx, realtime.ChangeEvent{
		Type: realtime.EventInsert, Table: "issue_reports",
		Record: map[string]interface{}{"user_id": 7, "title": "not mine"},
	}))
	require.NoError(t, source.Publish(ctx, realtime.ChangeEvent{
		Type: realtime.EventInsert, Table: "issue_reports",
		Record: map[string]interface{}{"user_id": 42, "title": "Overflowing bin"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got realtime.ChangeEvent
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, realtime.EventInsert, got.Type)
	assert.Equal(t, "issue_reports", got.Table)
	assert.Equal(t, "Overflowing bin", got.Record["title"])
}

func TestRealtime_DisconnectEndsSubscription(t *testing.T) {
	source := realtime.NewMemorySource(8, logger.Discard())
	srv := newRealtimeServer(t, source)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/realtime/waste_listings"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return source.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return source.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
