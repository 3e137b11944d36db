// internal/service/dispatcher.go
package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"device-bridge/internal/codec"
	"device-bridge/internal/model"
	"device-bridge/internal/protocol"
	"device-bridge/internal/utils"
	"device-bridge/pkg/bridge"
)

// Dispatch states, logged as each call moves through them
const (
	stateReceived        = "received"
	stateEncoded         = "encoded"
	stateSent            = "sent"
	stateWaitingForReply = "waiting_for_reply"
	stateCompleted       = "completed"
	stateDecoded         = "decoded"
	stateDone            = "done"
	stateFailed          = "failed"
)

// Dispatcher turns operations into exactly one wire exchange each.
// It holds no mutable state, so one instance serves concurrent calls.
type Dispatcher struct {
	transport    protocol.Transport
	codecs       *codec.Registry
	format       model.Format
	info         model.DeviceInfo
	eagerFraming bool
	publisher    bridge.EventPublisher
	logger       *utils.ServiceLogger
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithEventPublisher publishes an event for every device exchange
func WithEventPublisher(publisher bridge.EventPublisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.publisher = publisher
	}
}

// WithEagerFraming ends reads as soon as the codec sees a complete reply
func WithEagerFraming(enabled bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.eagerFraming = enabled
	}
}

// WithCodecRegistry replaces the built-in codecs
func WithCodecRegistry(registry *codec.Registry) DispatcherOption {
	return func(d *Dispatcher) {
		d.codecs = registry
	}
}

// NewDispatcher creates a dispatcher for one device
func NewDispatcher(transport protocol.Transport, format model.Format, info model.DeviceInfo, logger *zap.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	d := &Dispatcher{
		transport: transport,
		codecs:    codec.NewRegistry(),
		format:    format,
		info:      info,
		logger:    utils.NewServiceLogger(logger, "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}

	if _, err := d.codecs.Get(format); err != nil {
		return nil, fmt.Errorf("unsupported device format: %w", err)
	}

	return d, nil
}

var _ bridge.Bridge = (*Dispatcher)(nil)

// Info returns the static device description
func (d *Dispatcher) Info(ctx context.Context) (*model.Response, error) {
	return d.Execute(ctx, model.NewInfoOperation())
}

// ReadData requests data points from the device
func (d *Dispatcher) ReadData(ctx context.Context, query map[string]string) (*model.Response, error) {
	return d.Execute(ctx, model.NewReadDataOperation(query))
}

// SendCommand forwards a command to the device
func (d *Dispatcher) SendCommand(ctx context.Context, payload []byte, format model.Format, expectReply bool) (*model.Response, error) {
	return d.Execute(ctx, model.NewSendCommandOperation(payload, format, expectReply))
}

// Probe checks that the device accepts connections
func (d *Dispatcher) Probe(ctx context.Context) error {
	if err := d.transport.Probe(ctx); err != nil {
		return Translate(err)
	}
	return nil
}

// Format returns the device's configured wire format
func (d *Dispatcher) Format() model.Format {
	return d.format
}

// Execute runs one operation. Errors are always *model.BridgeError.
func (d *Dispatcher) Execute(ctx context.Context, op *model.Operation) (*model.Response, error) {
	if err := op.Validate(); err != nil {
		return nil, Translate(err)
	}

	opLogger := utils.NewOperationLogger(d.logger.Logger, op.Kind, uuid.NewString())
	opLogger.Start(zap.String("format", string(d.formatFor(op))))
	opLogger.Step(stateReceived)

	if op.Kind == model.OperationKindInfo {
		info := d.info
		opLogger.Step(stateDone)
		return &model.Response{Kind: op.Kind, Format: d.format, Decoded: &info}, nil
	}

	started := time.Now()
	response, exchange, err := d.exchange(ctx, op, opLogger)
	if err != nil {
		bridgeErr := Translate(err)
		opLogger.Step(stateFailed, zap.String("error_kind", string(bridgeErr.Kind)))
		opLogger.Error(bridgeErr)
		d.publish(op, exchange, bridgeErr, started)
		return nil, bridgeErr
	}

	opLogger.Step(stateDone)
	opLogger.Success(
		zap.String("termination", string(exchange.Termination)),
		zap.Bool("partial", exchange.Partial),
		zap.Int("response_bytes", len(exchange.Response)),
	)
	d.publish(op, exchange, nil, started)
	return response, nil
}

func (d *Dispatcher) exchange(ctx context.Context, op *model.Operation, opLogger *utils.OperationLogger) (*model.Response, *model.WireExchange, error) {
	format := d.formatFor(op)
	c, err := d.codecs.Get(format)
	if err != nil {
		return nil, nil, err
	}

	request, err := c.Encode(op)
	if err != nil {
		return nil, nil, err
	}
	opLogger.Step(stateEncoded, zap.Int("request_bytes", len(request)))

	exchangeRequest := &protocol.ExchangeRequest{
		Payload:     request,
		ExpectReply: op.ExpectReply,
	}
	if d.eagerFraming {
		exchangeRequest.Complete = c.Complete
	}

	exchange, err := d.transport.Exchange(ctx, exchangeRequest)
	if err != nil {
		return nil, nil, err
	}
	opLogger.Step(stateSent, zap.String("exchange_id", exchange.ID.String()))

	response := &model.Response{
		Kind:     op.Kind,
		Format:   format,
		Raw:      exchange.Response,
		Exchange: exchange,
	}

	if !op.ExpectReply {
		opLogger.Step(stateCompleted, zap.String("termination", string(exchange.Termination)))
		return response, exchange, nil
	}

	opLogger.Step(stateWaitingForReply,
		zap.String("termination", string(exchange.Termination)),
		zap.Bool("partial", exchange.Partial),
		zap.Int("response_bytes", len(exchange.Response)),
	)

	if len(bytes.TrimSpace(exchange.Response)) == 0 {
		return nil, exchange, model.NewMalformedDeviceReply("device returned no data", nil)
	}

	// a reply cut short by the timeout succeeds only if it still decodes
	decoded, err := c.Decode(exchange.Response)
	if err != nil {
		return nil, exchange, err
	}
	opLogger.Step(stateDecoded)

	if detail, rejected := c.Rejection(decoded); rejected {
		return nil, exchange, model.NewDeviceRejected(detail)
	}

	response.Decoded = decoded
	return response, exchange, nil
}

// formatFor returns the wire format an operation is encoded with
func (d *Dispatcher) formatFor(op *model.Operation) model.Format {
	if op.Kind == model.OperationKindSendCommand && op.Format != "" {
		return op.Format
	}
	return d.format
}

func (d *Dispatcher) publish(op *model.Operation, exchange *model.WireExchange, bridgeErr *model.BridgeError, started time.Time) {
	if d.publisher == nil {
		return
	}

	event := &model.ExchangeEvent{
		ID:            uuid.New(),
		EventType:     model.EventExchangeCompleted,
		OperationKind: op.Kind,
		Format:        d.formatFor(op),
		Address:       d.transport.Address(),
		DurationMs:    time.Since(started).Milliseconds(),
		Timestamp:     time.Now(),
	}

	if exchange != nil {
		event.RequestBytes = len(exchange.Request)
		event.ResponseBytes = len(exchange.Response)
		event.Termination = exchange.Termination
		event.Partial = exchange.Partial
	}

	if bridgeErr != nil {
		event.EventType = model.EventExchangeFailed
		event.ErrorKind = bridgeErr.Kind
		event.ErrorDetail = bridgeErr.Detail
	}

	d.publisher.PublishExchange(event)
}
