// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"device-bridge/internal/config"
	"device-bridge/internal/model"
	"device-bridge/internal/service"
	"device-bridge/internal/utils"
	"device-bridge/pkg/bridge"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler streams device data and exchange events over websockets
type WebSocketHandler struct {
	upgrader        websocket.Upgrader
	connections     *ConnectionManager
	bridge          bridge.Bridge
	eventBus        *EventBus
	streamInterval  time.Duration
	minStreamPeriod time.Duration
	requestTimeout  time.Duration
	logger          *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(b bridge.Bridge, eventBus *EventBus, cfg *config.Config, logger *zap.Logger) *WebSocketHandler {
	origins := cfg.Security.AllowedOrigins

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), origins)
			},
		},
		connections:     NewConnectionManager(),
		bridge:          b,
		eventBus:        eventBus,
		streamInterval:  cfg.Bridge.StreamInterval,
		minStreamPeriod: cfg.Bridge.MinStreamPeriod,
		requestTimeout:  cfg.Bridge.RequestTimeout,
		logger:          utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/stream", h.HandleStreamConnection)
	router.GET("/events", h.HandleEventConnection)
	router.GET("/stats", h.GetConnectionStats)
}

// HandleStreamConnection polls the device and pushes every reading
// @Summary Stream device data
// @Description Upgrades to a websocket and pushes a ReadData result every interval. Query parameters other than interval are forwarded as the read query.
// @Tags WebSocket
// @Param interval query string false "Poll interval, a Go duration or milliseconds"
// @Router /ws/stream [get]
func (h *WebSocketHandler) HandleStreamConnection(c *gin.Context) {
	interval, err := h.parseInterval(c.Query(paramInterval))
	if err != nil {
		respondBridgeError(c, err)
		return
	}
	query := readQuery(c, paramInterval)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := h.register(c, ClientTypeStream, conn, interval)
	h.logger.Info("Stream WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.Duration("interval", interval),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
	go h.streamReadings(client, query)
}

// HandleEventConnection pushes exchange events as they happen
// @Summary Exchange events
// @Description Upgrades to a websocket and pushes an event for every device exchange.
// @Tags WebSocket
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := h.register(c, ClientTypeEvents, conn, 0)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
	)

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
	go h.forwardEvents(client)
}

// GetConnectionStats returns websocket connection statistics
// @Summary WebSocket statistics
// @Tags WebSocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /ws/stats [get]
func (h *WebSocketHandler) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket statistics", h.connections.GetStats())
}

// Shutdown disconnects every websocket client
func (h *WebSocketHandler) Shutdown() {
	h.connections.CloseAll()
}

// register fills in the client before it becomes visible to /ws/stats
func (h *WebSocketHandler) register(c *gin.Context, clientType string, conn *websocket.Conn, interval time.Duration) *Client {
	client := newClient(clientType, conn, uuid.NewString())
	client.UserAgent = c.Request.UserAgent()
	client.RemoteAddr = c.Request.RemoteAddr
	client.Interval = interval
	h.connections.Register(client)
	return client
}

func (h *WebSocketHandler) parseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return h.streamInterval, nil
	}

	interval, err := time.ParseDuration(raw)
	if err != nil {
		ms, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, model.NewMalformedRequest(fmt.Sprintf("invalid interval %q", raw))
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	if interval < h.minStreamPeriod {
		return 0, model.NewMalformedRequest(fmt.Sprintf("interval must be at least %s", h.minStreamPeriod))
	}
	return interval, nil
}

// streamReadings issues one ReadData per tick until the client leaves
func (h *WebSocketHandler) streamReadings(client *Client, query map[string]string) {
	ticker := time.NewTicker(client.Interval)
	defer ticker.Stop()

	h.pushReading(client, query)
	for {
		select {
		case <-client.Done():
			return
		case <-ticker.C:
			h.pushReading(client, query)
		}
	}
}

func (h *WebSocketHandler) pushReading(client *Client, query map[string]string) {
	ctx, cancel := h.callContext(client)
	defer cancel()

	response, err := h.bridge.ReadData(ctx, query)
	if err != nil {
		select {
		case <-client.Done():
			return
		default:
		}
		h.sendBridgeError(client, "data_error", "", err)
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "data",
		Data:      response,
		Timestamp: time.Now(),
	})
}

func (h *WebSocketHandler) forwardEvents(client *Client) {
	id, events := h.eventBus.Subscribe()
	defer h.eventBus.Unsubscribe(id)

	for {
		select {
		case <-client.Done():
			return
		case event := <-events:
			h.sendMessage(client, &WebSocketMessage{
				Type:      "exchange_event",
				Data:      event,
				Timestamp: time.Now(),
			})
		}
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer h.connections.Unregister(client)

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message: expected a JSON object with a type")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				client.close()
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.close()
				return
			}

		case <-client.Done():
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			client.Connection.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "device_command":
		h.handleDeviceCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			RequestID: message.RequestID,
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// handleDeviceCommand forwards a command sent over the socket to the device
func (h *WebSocketHandler) handleDeviceCommand(client *Client, message *WebSocketMessage) {
	raw, err := json.Marshal(message.Data)
	if err != nil {
		h.sendBridgeError(client, "command_response", message.RequestID, model.NewMalformedRequest("invalid command data"))
		return
	}

	var command CommandMessage
	if err := json.Unmarshal(raw, &command); err != nil {
		h.sendBridgeError(client, "command_response", message.RequestID, model.NewMalformedRequest("invalid command data"))
		return
	}

	var format model.Format
	if command.Format != "" {
		format, err = model.ParseFormat(command.Format)
		if err != nil {
			h.sendBridgeError(client, "command_response", message.RequestID, model.NewMalformedRequest(err.Error()))
			return
		}
	}

	expectReply := true
	if command.ExpectReply != nil {
		expectReply = *command.ExpectReply
	}

	go h.executeDeviceCommand(client, message.RequestID, []byte(command.Payload), format, expectReply)
}

func (h *WebSocketHandler) executeDeviceCommand(client *Client, requestID string, payload []byte, format model.Format, expectReply bool) {
	ctx, cancel := h.callContext(client)
	defer cancel()

	response, err := h.bridge.SendCommand(ctx, payload, format, expectReply)
	if err != nil {
		h.sendBridgeError(client, "command_response", requestID, err)
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type: "command_response",
		Data: map[string]interface{}{
			"success": true,
			"result":  response,
		},
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

// callContext bounds a device call by the request timeout and the client's lifetime
func (h *WebSocketHandler) callContext(client *Client) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if h.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), h.requestTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	case <-client.Done():
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

func (h *WebSocketHandler) sendBridgeError(client *Client, messageType, requestID string, err error) {
	bridgeErr := service.Translate(err)
	signal := service.SignalFor(bridgeErr.Kind)
	h.sendMessage(client, &WebSocketMessage{
		Type: messageType,
		Data: map[string]interface{}{
			"success": false,
			"error": &utils.APIError{
				Code:      signal.Code,
				Message:   bridgeErr.Error(),
				Details:   bridgeErr.Detail,
				Kind:      bridgeErr.Kind,
				Retryable: signal.Retryable,
			},
		},
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendBridgeError(client, "error", "", model.NewMalformedRequest(errorMsg))
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || candidate == origin {
			return true
		}
	}
	return false
}
