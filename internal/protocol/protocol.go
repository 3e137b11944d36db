// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"device-bridge/internal/model"
)

// Transport performs one request/response exchange per call.
// Implementations open a fresh connection for every exchange and close it
// before returning, whatever the outcome.
type Transport interface {
	// Exchange writes the request and collects the reply
	Exchange(ctx context.Context, req *ExchangeRequest) (*model.WireExchange, error)

	// Probe checks that the device can be reached, without sending anything
	Probe(ctx context.Context) error

	// Type returns the transport type
	Type() model.TransportType

	// Address returns a printable device address
	Address() string
}

// ExchangeRequest is the input of one exchange
type ExchangeRequest struct {
	Payload     []byte
	ExpectReply bool

	// Complete, when set, ends the read early once the buffer holds a full reply
	Complete func([]byte) bool
}

// errReadDeadline marks that the I/O budget of an exchange ran out
var errReadDeadline = errors.New("read deadline reached")

// chunkReader reads one chunk of a reply, giving up at the deadline with errReadDeadline
type chunkReader interface {
	ReadChunk(p []byte, deadline time.Time) (int, error)
}

// readReply accumulates reply bytes until the peer closes, the completion
// check matches or the deadline passes
func readReply(ctx context.Context, reader chunkReader, deadline time.Time, complete func([]byte) bool, maxBytes, chunkSize int) ([]byte, model.Termination, error) {
	var reply []byte
	chunk := make([]byte, chunkSize)

	for {
		n, err := reader.ReadChunk(chunk, deadline)
		if n > 0 {
			if maxBytes > 0 && len(reply)+n > maxBytes {
				return nil, "", model.NewMalformedDeviceReply(fmt.Sprintf("device reply exceeds %d bytes", maxBytes), nil)
			}
			reply = append(reply, chunk[:n]...)
			if complete != nil && complete(reply) {
				return reply, model.TerminationMarker, nil
			}
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return nil, "", contextError(ctx)
		}

		switch {
		case errors.Is(err, io.EOF):
			return reply, model.TerminationPeerClosed, nil
		case errors.Is(err, errReadDeadline):
			if len(reply) > 0 {
				return reply, model.TerminationTimeout, nil
			}
			return nil, "", model.NewTimeout("no reply from device within io timeout", err)
		default:
			return nil, "", model.NewConnectFailed(fmt.Sprintf("read failed after %d bytes: %v", len(reply), err), err)
		}
	}
}

// writeAll writes the whole payload or reports how much got through
func writeAll(ctx context.Context, w io.Writer, payload []byte) error {
	written := 0
	for written < len(payload) {
		n, err := w.Write(payload[written:])
		written += n
		if err != nil {
			if ctx.Err() != nil {
				return contextError(ctx)
			}
			return model.NewConnectFailed(fmt.Sprintf("partial write: %d of %d bytes", written, len(payload)), err)
		}
		if n == 0 {
			return model.NewConnectFailed(fmt.Sprintf("partial write: %d of %d bytes", written, len(payload)), io.ErrShortWrite)
		}
	}
	return nil
}

// contextError maps an ended caller context onto the error taxonomy
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeout("request deadline exceeded", err)
	}
	return model.WrapBridgeError(model.ErrorKindUnknown, "request cancelled", err)
}

// finish stamps the completion fields of an exchange
func finish(exchange *model.WireExchange, response []byte, termination model.Termination) *model.WireExchange {
	exchange.Response = response
	exchange.Termination = termination
	exchange.Partial = termination == model.TerminationTimeout
	exchange.CompletedAt = time.Now()
	return exchange
}
