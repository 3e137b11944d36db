// internal/handler/bridge_handler.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"device-bridge/internal/config"
	"device-bridge/internal/model"
	"device-bridge/internal/service"
	"device-bridge/internal/utils"
	"device-bridge/pkg/bridge"
)

// Query parameters the façade consumes itself; everything else on /data is
// forwarded to the device as the read query.
const (
	paramRaw         = "raw"
	paramFormat      = "format"
	paramExpectReply = "expect_reply"
	paramInterval    = "interval"
)

// BridgeHandler exposes the bridge operations over HTTP
type BridgeHandler struct {
	bridge          bridge.Bridge
	format          model.Format
	requestTimeout  time.Duration
	maxCommandBytes int64
	logger          *utils.ServiceLogger
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(b bridge.Bridge, cfg *config.Config, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		bridge:          b,
		format:          cfg.WireFormat(),
		requestTimeout:  cfg.Bridge.RequestTimeout,
		maxCommandBytes: cfg.Bridge.MaxCommandBytes,
		logger:          utils.NewServiceLogger(logger, "bridge-handler"),
	}
}

// RegisterRoutes registers the bridge routes
func (h *BridgeHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/info", h.GetInfo)
	router.GET("/data", h.ReadData)
	router.POST("/cmd", h.SendCommand)
}

// GetInfo returns the static device description
// @Summary Device information
// @Description Static description of the bridged device. Never contacts the device.
// @Tags Bridge
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Response} "Device information"
// @Router /info [get]
func (h *BridgeHandler) GetInfo(c *gin.Context) {
	response, err := h.bridge.Info(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device information", response)
}

// ReadData reads data points from the device
// @Summary Read device data
// @Description Sends one GET_DATA request to the device. Query parameters other than raw are forwarded as the read query.
// @Tags Bridge
// @Produce json
// @Param raw query bool false "Return the device bytes verbatim"
// @Success 200 {object} utils.APIResponse{data=model.Response} "Decoded device reply"
// @Failure 400 {object} utils.APIResponse "Device rejected the request"
// @Failure 502 {object} utils.APIResponse "Device unreachable or sent an invalid reply"
// @Failure 504 {object} utils.APIResponse "Device did not answer in time"
// @Router /data [get]
func (h *BridgeHandler) ReadData(c *gin.Context) {
	raw, err := boolParam(c, paramRaw, false)
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{paramRaw: err.Error()})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	response, err := h.bridge.ReadData(ctx, readQuery(c, paramRaw))
	if err != nil {
		h.respondError(c, err)
		return
	}
	recordExchange(c, response)

	if raw {
		writeRaw(c, http.StatusOK, response)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device data read", response)
}

// SendCommand forwards the request body to the device
// @Summary Send device command
// @Description Forwards the request body as one command. The wire format comes from ?format=, then Content-Type, then the device configuration.
// @Tags Bridge
// @Accept plain
// @Produce json
// @Param format query string false "Wire format override (JSON, XML, CSV, RAW_LINE)"
// @Param expect_reply query bool false "Wait for a device reply (default true)"
// @Param raw query bool false "Return the device bytes verbatim"
// @Success 200 {object} utils.APIResponse{data=model.Response} "Decoded device reply"
// @Success 202 {object} utils.APIResponse{data=model.Response} "Command sent, no reply requested"
// @Failure 400 {object} utils.APIResponse "Malformed command or device rejection"
// @Failure 413 {object} utils.APIResponse "Command too large"
// @Failure 502 {object} utils.APIResponse "Device unreachable or sent an invalid reply"
// @Failure 504 {object} utils.APIResponse "Device did not answer in time"
// @Router /cmd [post]
func (h *BridgeHandler) SendCommand(c *gin.Context) {
	opts, invalid := h.parseCommandOptions(c)
	if len(invalid) > 0 {
		utils.ValidationErrorResponse(c, invalid)
		return
	}

	payload, err := h.readBody(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.BridgeErrorResponse(c, http.StatusRequestEntityTooLarge, false,
				model.NewMalformedRequest(fmt.Sprintf("command exceeds %d bytes", tooLarge.Limit)))
			return
		}
		h.respondError(c, model.NewMalformedRequest(fmt.Sprintf("failed to read request body: %v", err)))
		return
	}

	if len(payload) == 0 {
		h.respondError(c, model.NewMalformedRequest("missing command payload"))
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	response, err := h.bridge.SendCommand(ctx, payload, opts.format, opts.expectReply)
	if err != nil {
		h.respondError(c, err)
		return
	}
	recordExchange(c, response)

	if !opts.expectReply {
		utils.SuccessResponse(c, http.StatusAccepted, "Command sent", response)
		return
	}

	if opts.raw {
		writeRaw(c, http.StatusOK, response)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command executed", response)
}

// commandOptions are the query flags of POST /cmd
type commandOptions struct {
	format      model.Format
	expectReply bool
	raw         bool
}

// parseCommandOptions parses the /cmd flags and collects every invalid one
func (h *BridgeHandler) parseCommandOptions(c *gin.Context) (commandOptions, map[string]string) {
	var (
		opts commandOptions
		err  error
	)
	invalid := make(map[string]string)

	if opts.expectReply, err = boolParam(c, paramExpectReply, true); err != nil {
		invalid[paramExpectReply] = err.Error()
	}
	if opts.raw, err = boolParam(c, paramRaw, false); err != nil {
		invalid[paramRaw] = err.Error()
	}
	if opts.format, err = h.commandFormat(c); err != nil {
		invalid[paramFormat] = err.Error()
	}
	return opts, invalid
}

// commandFormat picks the command's wire format. An empty result means the
// device's configured format.
func (h *BridgeHandler) commandFormat(c *gin.Context) (model.Format, error) {
	if name := c.Query(paramFormat); name != "" {
		return model.ParseFormat(name)
	}

	if format, ok := model.FormatFromContentType(c.ContentType()); ok {
		return format, nil
	}

	return "", nil
}

func (h *BridgeHandler) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}

	body := c.Request.Body
	if h.maxCommandBytes > 0 {
		body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxCommandBytes)
	}
	return io.ReadAll(body)
}

func (h *BridgeHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.requestTimeout)
}

func (h *BridgeHandler) respondError(c *gin.Context, err error) {
	bridgeErr := respondBridgeError(c, err)
	if bridgeErr.Kind == model.ErrorKindUnknown {
		utils.LoggerWithRequestID(h.logger.Logger, c.GetString(utils.RequestIDKey)).Error("Bridge call failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(bridgeErr),
		)
	}
}

// recordExchange hands the device exchange to the access log
func recordExchange(c *gin.Context, response *model.Response) {
	if response != nil && response.Exchange != nil {
		c.Set(utils.ExchangeKey, response.Exchange)
	}
}

// respondBridgeError translates err and writes the error envelope
func respondBridgeError(c *gin.Context, err error) *model.BridgeError {
	bridgeErr := service.Translate(err)
	signal := service.SignalFor(bridgeErr.Kind)
	utils.BridgeErrorResponse(c, signal.Status, signal.Retryable, bridgeErr)
	return bridgeErr
}

// readQuery collects the request's query string as a read query
func readQuery(c *gin.Context, reserved ...string) map[string]string {
	values := c.Request.URL.Query()
	query := make(map[string]string, len(values))
	for key, vals := range values {
		if isReserved(key, reserved) || len(vals) == 0 {
			continue
		}
		query[key] = vals[0]
	}
	return query
}

func isReserved(key string, reserved []string) bool {
	for _, r := range reserved {
		if key == r {
			return true
		}
	}
	return false
}

func boolParam(c *gin.Context, name string, fallback bool) (bool, error) {
	value := c.Query(name)
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s value %q", name, value)
	}
	return parsed, nil
}

func writeRaw(c *gin.Context, status int, response *model.Response) {
	if response.Exchange != nil {
		c.Header("X-Device-Termination", string(response.Exchange.Termination))
		c.Header("X-Device-Partial", strconv.FormatBool(response.Exchange.Partial))
	}
	c.Data(status, response.Format.ContentType(), response.Raw)
}
