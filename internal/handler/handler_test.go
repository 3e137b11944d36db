package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"device-bridge/internal/config"
	"device-bridge/internal/model"
	"device-bridge/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type commandCall struct {
	payload     string
	format      model.Format
	expectReply bool
}

// fakeBridge records calls and answers with canned results
type fakeBridge struct {
	mu       sync.Mutex
	response *model.Response
	err      error
	probeErr error
	queries  []map[string]string
	commands []commandCall
}

func (f *fakeBridge) Info(context.Context) (*model.Response, error) {
	return &model.Response{
		Kind:    model.OperationKindInfo,
		Format:  model.FormatXML,
		Decoded: &model.DeviceInfo{DeviceName: "Panel A"},
	}, nil
}

func (f *fakeBridge) ReadData(_ context.Context, query map[string]string) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.response, f.err
}

func (f *fakeBridge) SendCommand(_ context.Context, payload []byte, format model.Format, expectReply bool) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, commandCall{string(payload), format, expectReply})
	return f.response, f.err
}

func (f *fakeBridge) Execute(context.Context, *model.Operation) (*model.Response, error) {
	return f.response, f.err
}

func (f *fakeBridge) Probe(context.Context) error { return f.probeErr }

func (f *fakeBridge) lastCommand() commandCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{
			Transport:      "tcp",
			Format:         "xml",
			ConnectTimeout: time.Second,
			IOTimeout:      time.Second,
		},
		Bridge: config.BridgeConfig{
			RequestTimeout:  2 * time.Second,
			StreamInterval:  50 * time.Millisecond,
			MinStreamPeriod: 10 * time.Millisecond,
			EventBufferSize: 16,
			MaxCommandBytes: 64,
		},
		Security: config.SecurityConfig{AllowedOrigins: []string{"*"}},
		App:      config.AppConfig{Name: "device-bridge", Version: "test"},
	}
}

func xmlResponse() *model.Response {
	return &model.Response{
		Kind:    model.OperationKindReadData,
		Format:  model.FormatXML,
		Decoded: map[string]interface{}{"status": "ok"},
		Raw:     []byte("<status>ok</status>"),
		Exchange: &model.WireExchange{
			Termination: model.TerminationPeerClosed,
		},
	}
}

func newTestRouter(t *testing.T, fake *fakeBridge) (*gin.Engine, *EventBus, *WebSocketHandler) {
	t.Helper()

	cfg := testConfig()
	// websocket pumps can outlive the test, so they must not log through t
	logger := zap.NewNop()
	bus := NewEventBus(cfg.Bridge.EventBufferSize, logger)
	go bus.Start()
	t.Cleanup(bus.Stop)

	router := gin.New()
	NewBridgeHandler(fake, cfg, logger).RegisterRoutes(router)
	NewHealthHandler(fake, cfg, logger).RegisterRoutes(router)
	ws := NewWebSocketHandler(fake, bus, cfg, logger)
	ws.RegisterRoutes(router.Group("/ws"))
	t.Cleanup(ws.Shutdown)

	return router, bus, ws
}

func perform(router http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var body utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestGetInfo(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeBridge{})

	w := perform(router, http.MethodGet, "/info", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeEnvelope(t, w)
	assert.True(t, body.Success)
	assert.Contains(t, w.Body.String(), `"device_name":"Panel A"`)
}

func TestReadData(t *testing.T) {
	fake := &fakeBridge{response: xmlResponse()}
	router, _, _ := newTestRouter(t, fake)

	w := perform(router, http.MethodGet, "/data?sensor=t1&zone=3", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, map[string]string{"sensor": "t1", "zone": "3"}, fake.queries[0])
	assert.Contains(t, w.Body.String(), `"value":{"status":"ok"}`)
}

func TestReadData_Raw(t *testing.T) {
	fake := &fakeBridge{response: xmlResponse()}
	router, _, _ := newTestRouter(t, fake)

	w := perform(router, http.MethodGet, "/data?raw=true", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "<status>ok</status>", w.Body.String())
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	assert.Equal(t, "peer_closed", w.Header().Get("X-Device-Termination"))
	assert.Empty(t, fake.queries[0])
}

func TestReadData_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"timeout", model.NewTimeout("no reply within 1s", nil), http.StatusGatewayTimeout, true},
		{"connect failed", model.NewConnectFailed("connection refused", nil), http.StatusBadGateway, true},
		{"malformed reply", model.NewMalformedDeviceReply("invalid XML reply", nil), http.StatusBadGateway, false},
		{"rejected", model.NewDeviceRejected("zone armed"), http.StatusBadRequest, false},
		{"unknown", context.Canceled, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, _ := newTestRouter(t, &fakeBridge{err: tt.err})

			w := perform(router, http.MethodGet, "/data", "", "")
			assert.Equal(t, tt.status, w.Code)

			body := decodeEnvelope(t, w)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.retryable, body.Error.Retryable)
			assert.NotEmpty(t, body.Error.Kind)
		})
	}
}

func TestReadData_InvalidRawFlag(t *testing.T) {
	fake := &fakeBridge{response: xmlResponse()}
	router, _, _ := newTestRouter(t, fake)

	w := perform(router, http.MethodGet, "/data?raw=maybe", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fake.queries)
}

func TestSendCommand_FormatSelection(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		contentType string
		format      model.Format
	}{
		{"query wins", "/cmd?format=json", "application/xml", model.FormatJSON},
		{"content type", "/cmd", "text/csv", model.FormatCSV},
		{"configured", "/cmd", "", ""},
		{"unknown content type", "/cmd", "application/octet-stream", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeBridge{response: xmlResponse()}
			router, _, _ := newTestRouter(t, fake)

			w := perform(router, http.MethodPost, tt.target, tt.contentType, "ARM 1")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			call := fake.lastCommand()
			assert.Equal(t, "ARM 1", call.payload)
			assert.Equal(t, tt.format, call.format)
			assert.True(t, call.expectReply)
		})
	}
}

func TestSendCommand_NoReply(t *testing.T) {
	fake := &fakeBridge{response: &model.Response{
		Kind:     model.OperationKindSendCommand,
		Exchange: &model.WireExchange{Termination: model.TerminationNoReply},
	}}
	router, _, _ := newTestRouter(t, fake)

	w := perform(router, http.MethodPost, "/cmd?expect_reply=false", "text/plain", "RESET")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, fake.lastCommand().expectReply)
}

func TestSendCommand_BadInput(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"empty body", "/cmd", "", http.StatusBadRequest},
		{"unknown format", "/cmd?format=yaml", "ARM", http.StatusBadRequest},
		{"bad expect_reply", "/cmd?expect_reply=sometimes", "ARM", http.StatusBadRequest},
		{"too large", "/cmd", strings.Repeat("A", 65), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeBridge{response: xmlResponse()}
			router, _, _ := newTestRouter(t, fake)

			w := perform(router, http.MethodPost, tt.target, "", tt.body)
			assert.Equal(t, tt.status, w.Code)

			body := decodeEnvelope(t, w)
			require.NotNil(t, body.Error)
			assert.Equal(t, model.ErrorKindMalformedRequest, body.Error.Kind)
			assert.Empty(t, fake.commands)
		})
	}
}

func TestSendCommand_InvalidFlagsListed(t *testing.T) {
	fake := &fakeBridge{response: xmlResponse()}
	router, _, _ := newTestRouter(t, fake)

	w := perform(router, http.MethodPost, "/cmd?format=yaml&raw=perhaps&expect_reply=true", "", "ARM")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeEnvelope(t, w)
	require.NotNil(t, body.Error)
	assert.Equal(t, model.ErrorKindMalformedRequest, body.Error.Kind)
	assert.False(t, body.Error.Retryable)
	assert.Equal(t, "invalid parameters: format, raw", body.Error.Details)

	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	invalid, ok := data["validation_errors"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, `invalid raw value "perhaps"`, invalid["raw"])
	assert.Contains(t, invalid["format"], "unsupported format")
	assert.NotContains(t, invalid, "expect_reply")
	assert.Empty(t, fake.commands)
}

func TestBridgeHandler_LogsUnknownFailuresWithRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	fake := &fakeBridge{err: errors.New("codec exploded")}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(utils.RequestIDKey, "req-42")
		c.Next()
	})
	NewBridgeHandler(fake, testConfig(), zap.New(core)).RegisterRoutes(router)

	w := perform(router, http.MethodGet, "/data", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	entries := logs.FilterMessage("Bridge call failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "/data", entries[0].ContextMap()["path"])

	// known kinds are answered without an error log
	fake.err = model.NewTimeout("no answer", nil)
	perform(router, http.MethodGet, "/data", "", "")
	assert.Len(t, logs.FilterMessage("Bridge call failed").All(), 1)
}

func TestBridgeHandler_RecordsOutcomeForAccessLog(t *testing.T) {
	fake := &fakeBridge{response: xmlResponse()}

	var recorded []interface{}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Next()
		exchange, _ := c.Get(utils.ExchangeKey)
		kind, _ := c.Get(utils.ErrorKindKey)
		recorded = append(recorded, exchange, kind)
	})
	NewBridgeHandler(fake, testConfig(), zap.NewNop()).RegisterRoutes(router)

	perform(router, http.MethodGet, "/data", "", "")
	require.Len(t, recorded, 2)
	assert.Same(t, fake.response.Exchange, recorded[0])
	assert.Nil(t, recorded[1])

	fake.err = model.NewDeviceRejected("zone bypassed")
	perform(router, http.MethodGet, "/data", "", "")
	require.Len(t, recorded, 4)
	assert.Nil(t, recorded[2])
	assert.Equal(t, model.ErrorKindDeviceRejected, recorded[3])
}

func TestHealthEndpoints(t *testing.T) {
	fake := &fakeBridge{}
	router, _, _ := newTestRouter(t, fake)

	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/live", "", "").Code)

	fake.probeErr = model.NewConnectFailed("connection refused", nil)

	w := perform(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "connection refused", health.Checks["device"].Message)

	w = perform(router, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "CONNECT_FAILED")

	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/live", "", "").Code)
}

func dialWebSocket(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message WebSocketMessage
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

func TestWebSocket_Stream(t *testing.T) {
	fake := &fakeBridge{response: xmlResponse()}
	router, _, _ := newTestRouter(t, fake)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWebSocket(t, server, "/ws/stream?interval=20ms&zone=1")

	first := readMessage(t, conn)
	assert.Equal(t, "data", first.Type)
	second := readMessage(t, conn)
	assert.Equal(t, "data", second.Type)

	fake.mu.Lock()
	assert.Equal(t, map[string]string{"zone": "1"}, fake.queries[0])
	fake.mu.Unlock()
}

func TestWebSocket_StreamRejectsShortInterval(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeBridge{response: xmlResponse()})

	w := perform(router, http.MethodGet, "/ws/stream?interval=1ms", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocket_StatsShowStreamInterval(t *testing.T) {
	router, _, ws := newTestRouter(t, &fakeBridge{response: xmlResponse()})
	server := httptest.NewServer(router)
	defer server.Close()

	dialWebSocket(t, server, "/ws/stream?interval=250ms")
	dialWebSocket(t, server, "/ws/events")
	require.Eventually(t, func() bool { return ws.connections.GetStats().TotalConnections == 2 }, time.Second, 10*time.Millisecond)

	w := perform(router, http.MethodGet, "/ws/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data ConnectionStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.ByType[ClientTypeStream])
	for _, client := range body.Data.Clients {
		if client.Type == ClientTypeStream {
			assert.Equal(t, 250*time.Millisecond, client.Interval)
		} else {
			assert.Zero(t, client.Interval)
		}
	}
}

func TestWebSocket_PingAndCommand(t *testing.T) {
	fake := &fakeBridge{response: xmlResponse()}
	router, _, _ := newTestRouter(t, fake)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWebSocket(t, server, "/ws/events")

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping", RequestID: "p1"}))
	pong := readMessage(t, conn)
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, "p1", pong.RequestID)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "device_command",
		"request_id": "c1",
		"data":       map[string]interface{}{"payload": "ARM 1", "format": "raw"},
	}))
	reply := readMessage(t, conn)
	assert.Equal(t, "command_response", reply.Type)
	assert.Equal(t, "c1", reply.RequestID)

	call := fake.lastCommand()
	assert.Equal(t, "ARM 1", call.payload)
	assert.Equal(t, model.FormatRawLine, call.format)
}

func TestWebSocket_Events(t *testing.T) {
	router, bus, _ := newTestRouter(t, &fakeBridge{})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWebSocket(t, server, "/ws/events")
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	bus.PublishExchange(&model.ExchangeEvent{
		EventType:     model.EventExchangeFailed,
		OperationKind: model.OperationKindReadData,
		ErrorKind:     model.ErrorKindTimeout,
	})

	message := readMessage(t, conn)
	assert.Equal(t, "exchange_event", message.Type)
	data, ok := message.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "EXCHANGE_FAILED", data["event_type"])
	assert.Equal(t, "TIMEOUT", data["error_kind"])
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1, zaptest.NewLogger(t))
	bus.PublishExchange(&model.ExchangeEvent{EventType: model.EventExchangeCompleted})
	bus.PublishExchange(&model.ExchangeEvent{EventType: model.EventExchangeCompleted})

	assert.Len(t, bus.events, 1)

	bus.Stop()
	bus.Stop()
}
