// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"device-bridge/internal/model"
	"device-bridge/internal/utils"
)

type openFunc func(portName string, mode *serial.Mode) (serial.Port, error)

// SerialTransport implements Transport over a serial line. The port is
// opened for every exchange; a serial line has no peer close, so replies
// end on the completion check or the I/O timeout.
type SerialTransport struct {
	config *SerialConfig
	logger *utils.DeviceLogger
	open   openFunc
}

// NewSerialTransport creates a new serial transport
func NewSerialTransport(config *SerialConfig, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		config: config,
		logger: utils.NewDeviceLogger(logger, model.TransportTypeSerial, config.Port),
		open:   serial.Open,
	}
}

// Type returns TransportTypeSerial
func (s *SerialTransport) Type() model.TransportType {
	return model.TransportTypeSerial
}

// Address returns the serial port name
func (s *SerialTransport) Address() string {
	return s.config.Port
}

// Exchange opens the port, writes the payload, reads the reply and closes
func (s *SerialTransport) Exchange(ctx context.Context, req *ExchangeRequest) (*model.WireExchange, error) {
	if req == nil {
		return nil, model.NewMalformedRequest("exchange request is required")
	}

	exchange := &model.WireExchange{
		ID:        uuid.New(),
		Request:   req.Payload,
		StartedAt: time.Now(),
	}
	exchangeID := exchange.ID.String()

	port, err := s.connect(ctx)
	if err != nil {
		s.logger.LogConnection("open", exchangeID, err)
		return nil, err
	}
	defer port.Close()
	s.logger.LogConnection("open", exchangeID, nil)

	stop := context.AfterFunc(ctx, func() {
		port.Close()
	})
	defer stop()

	deadline := time.Now().Add(s.config.IOTimeout)

	if err := s.write(ctx, port, req.Payload); err != nil {
		s.logger.LogConnection("write", exchangeID, err)
		return nil, err
	}

	if !req.ExpectReply {
		finish(exchange, nil, model.TerminationNoReply)
		s.logger.LogExchange(exchange)
		return exchange, nil
	}

	reply, termination, err := readReply(ctx, serialReader{port: port}, deadline, req.Complete,
		s.config.MaxResponseBytes, bufferSize(s.config.ReadBufferSize))
	if err != nil {
		s.logger.LogConnection("read", exchangeID, err)
		return nil, err
	}

	finish(exchange, reply, termination)
	s.logger.LogExchange(exchange)
	return exchange, nil
}

// write sends the payload. A write still blocked after the I/O timeout is
// ended by closing the port.
func (s *SerialTransport) write(ctx context.Context, port serial.Port, payload []byte) error {
	if s.config.IOTimeout <= 0 {
		return writeAll(ctx, port, payload)
	}

	timer := time.AfterFunc(s.config.IOTimeout, func() {
		port.Close()
	})

	err := writeAll(ctx, port, payload)
	if !timer.Stop() {
		return model.NewTimeout(fmt.Sprintf("writing to serial port %s timed out after %s", s.config.Port, s.config.IOTimeout), err)
	}
	return err
}

// Probe opens and closes the port
func (s *SerialTransport) Probe(ctx context.Context) error {
	port, err := s.connect(ctx)
	if err != nil {
		return err
	}
	return port.Close()
}

// connect opens the port, giving up after the connect timeout
func (s *SerialTransport) connect(ctx context.Context) (serial.Port, error) {
	if ctx.Err() != nil {
		return nil, contextError(ctx)
	}

	mode, err := serialMode(s.config)
	if err != nil {
		return nil, model.NewConnectFailed(err.Error(), err)
	}

	done := make(chan openResult, 1)
	go func() {
		port, err := s.open(s.config.Port, mode)
		done <- openResult{port: port, err: err}
	}()

	timer := time.NewTimer(s.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, model.NewConnectFailed(fmt.Sprintf("failed to open serial port %s: %v", s.config.Port, r.err), r.err)
		}
		return r.port, nil
	case <-timer.C:
		go closeLate(done)
		return nil, model.NewConnectFailed(fmt.Sprintf("opening serial port %s timed out after %s", s.config.Port, s.config.ConnectTimeout), nil)
	case <-ctx.Done():
		go closeLate(done)
		return nil, contextError(ctx)
	}
}

type openResult struct {
	port serial.Port
	err  error
}

// closeLate releases a port whose open finished after the caller gave up
func closeLate(done <-chan openResult) {
	if r := <-done; r.err == nil {
		r.port.Close()
	}
}

// serialMode translates line settings into a serial.Mode
func serialMode(config *SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
	}

	switch config.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", config.StopBits)
	}

	switch strings.ToLower(config.Parity) {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity: %q", config.Parity)
	}

	return mode, nil
}

type serialReader struct {
	port serial.Port
}

// ReadChunk polls the port in short slices until data arrives or the deadline passes.
// A serial read that times out returns zero bytes and no error.
func (r serialReader) ReadChunk(p []byte, deadline time.Time) (int, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, errReadDeadline
		}
		if remaining > serialPollInterval {
			remaining = serialPollInterval
		}
		if err := r.port.SetReadTimeout(remaining); err != nil {
			return 0, err
		}

		n, err := r.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
