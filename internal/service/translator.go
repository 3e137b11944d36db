// internal/service/translator.go
package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"device-bridge/internal/model"
)

// Signal is what a caller sees for an error kind
type Signal struct {
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable"`
	Code      string `json:"code"`
}

var signals = map[model.ErrorKind]Signal{
	model.ErrorKindConnectFailed:        {Status: http.StatusBadGateway, Retryable: true},
	model.ErrorKindTimeout:              {Status: http.StatusGatewayTimeout, Retryable: true},
	model.ErrorKindMalformedRequest:     {Status: http.StatusBadRequest, Retryable: false},
	model.ErrorKindMalformedDeviceReply: {Status: http.StatusBadGateway, Retryable: false},
	model.ErrorKindDeviceRejected:       {Status: http.StatusBadRequest, Retryable: false},
	model.ErrorKindUnknown:              {Status: http.StatusInternalServerError, Retryable: false},
}

// SignalFor maps an error kind onto its caller-visible status and retry hint.
// Kinds outside the taxonomy map like Unknown.
func SignalFor(kind model.ErrorKind) Signal {
	if !kind.Known() {
		kind = model.ErrorKindUnknown
	}
	signal := signals[kind]
	signal.Code = string(kind)
	return signal
}

// Translate turns any error into a *model.BridgeError. Bridge errors pass
// through unchanged; nil stays nil.
func Translate(err error) *model.BridgeError {
	if err == nil {
		return nil
	}

	if bridgeErr, ok := model.AsBridgeError(err); ok {
		return bridgeErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewTimeout("request deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return model.WrapBridgeError(model.ErrorKindUnknown, "request cancelled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewTimeout("", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return model.NewConnectFailed("", err)
	}

	return model.WrapBridgeError(model.ErrorKindUnknown, "", err)
}
