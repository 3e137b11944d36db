// internal/model/errors.go
package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of bridge failures
type ErrorKind string

const (
	ErrorKindConnectFailed        ErrorKind = "CONNECT_FAILED"
	ErrorKindTimeout              ErrorKind = "TIMEOUT"
	ErrorKindMalformedRequest     ErrorKind = "MALFORMED_REQUEST"
	ErrorKindMalformedDeviceReply ErrorKind = "MALFORMED_DEVICE_REPLY"
	ErrorKindDeviceRejected       ErrorKind = "DEVICE_REJECTED"
	ErrorKindUnknown              ErrorKind = "UNKNOWN"
)

// ErrorKinds lists every error kind
var ErrorKinds = []ErrorKind{
	ErrorKindConnectFailed,
	ErrorKindTimeout,
	ErrorKindMalformedRequest,
	ErrorKindMalformedDeviceReply,
	ErrorKindDeviceRejected,
	ErrorKindUnknown,
}

// Known reports whether k belongs to the taxonomy
func (k ErrorKind) Known() bool {
	for _, kind := range ErrorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// BridgeError is the only error type that leaves the bridge
type BridgeError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
	cause  error
}

// Error implements error
func (e *BridgeError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause, if any
func (e *BridgeError) Unwrap() error {
	return e.cause
}

// NewBridgeError creates a bridge error of the given kind
func NewBridgeError(kind ErrorKind, detail string) *BridgeError {
	return &BridgeError{Kind: kind, Detail: detail}
}

// WrapBridgeError creates a bridge error carrying an underlying cause
func WrapBridgeError(kind ErrorKind, detail string, cause error) *BridgeError {
	if cause != nil && detail == "" {
		detail = cause.Error()
	}
	return &BridgeError{Kind: kind, Detail: detail, cause: cause}
}

// NewConnectFailed creates a ConnectFailed error
func NewConnectFailed(detail string, cause error) *BridgeError {
	return WrapBridgeError(ErrorKindConnectFailed, detail, cause)
}

// NewTimeout creates a Timeout error
func NewTimeout(detail string, cause error) *BridgeError {
	return WrapBridgeError(ErrorKindTimeout, detail, cause)
}

// NewMalformedRequest creates a MalformedRequest error
func NewMalformedRequest(detail string) *BridgeError {
	return NewBridgeError(ErrorKindMalformedRequest, detail)
}

// NewMalformedDeviceReply creates a MalformedDeviceReply error
func NewMalformedDeviceReply(detail string, cause error) *BridgeError {
	return WrapBridgeError(ErrorKindMalformedDeviceReply, detail, cause)
}

// NewDeviceRejected creates a DeviceRejected error
func NewDeviceRejected(detail string) *BridgeError {
	return NewBridgeError(ErrorKindDeviceRejected, detail)
}

// AsBridgeError extracts a BridgeError from an error chain
func AsBridgeError(err error) (*BridgeError, bool) {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr, true
	}
	return nil, false
}

// IsKind reports whether err is a BridgeError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	bridgeErr, ok := AsBridgeError(err)
	return ok && bridgeErr.Kind == kind
}
