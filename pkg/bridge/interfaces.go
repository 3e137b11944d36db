// pkg/bridge/interfaces.go
package bridge

import (
	"context"

	"device-bridge/internal/model"
)

// Bridge is the call surface the façade consumes. Every method performs at
// most one wire exchange and returns either a Response or a *model.BridgeError.
type Bridge interface {
	// Info returns the static device description without touching the device
	Info(ctx context.Context) (*model.Response, error)

	// ReadData requests data points from the device
	ReadData(ctx context.Context, query map[string]string) (*model.Response, error)

	// SendCommand forwards a command payload in the given format.
	// An empty format means the device's configured format.
	SendCommand(ctx context.Context, payload []byte, format model.Format, expectReply bool) (*model.Response, error)

	// Execute runs an arbitrary operation
	Execute(ctx context.Context, op *model.Operation) (*model.Response, error)
}

// HealthChecker reports whether the device accepts connections
type HealthChecker interface {
	Probe(ctx context.Context) error
}

// EventPublisher receives the outcome of every device exchange
type EventPublisher interface {
	PublishExchange(event *model.ExchangeEvent)
}
