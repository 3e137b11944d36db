// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"device-bridge/internal/model"
	"device-bridge/internal/utils"
)

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPTransport implements Transport over a fresh TCP connection per exchange
type TCPTransport struct {
	config *TCPConfig
	logger *utils.DeviceLogger
	dial   dialFunc
}

// NewTCPTransport creates a new TCP transport
func NewTCPTransport(config *TCPConfig, logger *zap.Logger) *TCPTransport {
	dialer := &net.Dialer{}
	if config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	} else {
		dialer.KeepAlive = -1
	}

	return &TCPTransport{
		config: config,
		logger: utils.NewDeviceLogger(logger, model.TransportTypeTCP, config.Endpoint.Address()),
		dial:   dialer.DialContext,
	}
}

// Type returns TransportTypeTCP
func (t *TCPTransport) Type() model.TransportType {
	return model.TransportTypeTCP
}

// Address returns host:port of the device
func (t *TCPTransport) Address() string {
	return t.config.Endpoint.Address()
}

// Exchange connects, writes the payload, reads the reply and closes
func (t *TCPTransport) Exchange(ctx context.Context, req *ExchangeRequest) (*model.WireExchange, error) {
	if req == nil {
		return nil, model.NewMalformedRequest("exchange request is required")
	}

	exchange := &model.WireExchange{
		ID:        uuid.New(),
		Request:   req.Payload,
		StartedAt: time.Now(),
	}
	exchangeID := exchange.ID.String()

	conn, err := t.connect(ctx)
	if err != nil {
		t.logger.LogConnection("connect", exchangeID, err)
		return nil, err
	}
	defer conn.Close()
	t.logger.LogConnection("connect", exchangeID, nil)

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	deadline := time.Now().Add(t.config.Endpoint.IOTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, model.NewConnectFailed("failed to set connection deadline", err)
	}

	if err := writeAll(ctx, conn, req.Payload); err != nil {
		t.logger.LogConnection("write", exchangeID, err)
		return nil, err
	}

	if !req.ExpectReply {
		finish(exchange, nil, model.TerminationNoReply)
		t.logger.LogExchange(exchange)
		return exchange, nil
	}

	reply, termination, err := readReply(ctx, tcpReader{conn: conn}, deadline, req.Complete,
		t.config.MaxResponseBytes, bufferSize(t.config.ReadBufferSize))
	if err != nil {
		t.logger.LogConnection("read", exchangeID, err)
		return nil, err
	}

	finish(exchange, reply, termination)
	t.logger.LogExchange(exchange)
	return exchange, nil
}

// Probe dials the device and closes the connection straight away
func (t *TCPTransport) Probe(ctx context.Context) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// connect opens a connection bounded by the endpoint's connect timeout
func (t *TCPTransport) connect(ctx context.Context) (net.Conn, error) {
	if ctx.Err() != nil {
		return nil, contextError(ctx)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.config.Endpoint.ConnectTimeout)
	defer cancel()

	address := t.config.Endpoint.Address()
	conn, err := t.dial(dialCtx, "tcp", address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, model.NewConnectFailed(
				fmt.Sprintf("connect to %s timed out after %s", address, t.config.Endpoint.ConnectTimeout), err)
		}
		return nil, model.NewConnectFailed(fmt.Sprintf("failed to connect to %s: %v", address, err), err)
	}
	return conn, nil
}

// Probe dials an endpoint once and closes the connection
func Probe(ctx context.Context, endpoint model.DeviceEndpoint) error {
	transport := NewTCPTransport(&TCPConfig{Endpoint: endpoint}, zap.NewNop())
	return transport.Probe(ctx)
}

type tcpReader struct {
	conn net.Conn
}

// ReadChunk relies on the connection deadline set before writing
func (r tcpReader) ReadChunk(p []byte, _ time.Time) (int, error) {
	n, err := r.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, errReadDeadline
	}
	return n, err
}
