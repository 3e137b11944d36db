// internal/codec/codec.go

// Package codec maps bridge operations onto device wire bytes and back.
//
// Every Format has exactly one Codec. Codecs are stateless and safe for
// concurrent use; they are selected once when the dispatcher is built.
package codec

import (
	"fmt"
	"sort"

	"device-bridge/internal/model"
)

// ReadCommand is the request verb sent for ReadData operations
const ReadCommand = "GET_DATA"

// Codec encodes operations and decodes device replies for one wire format
type Codec interface {
	// Format returns the wire format handled by the codec
	Format() model.Format

	// Encode serializes an operation into request bytes, including any
	// framing the format needs. Failures are MalformedRequest errors.
	Encode(op *model.Operation) ([]byte, error)

	// Decode parses reply bytes. Empty input yields a nil value and no error;
	// anything unparsable or truncated is a MalformedDeviceReply error.
	Decode(data []byte) (interface{}, error)

	// Complete reports whether buf already holds a complete reply.
	// It is only a fast path; peer close and timeout stay authoritative.
	Complete(buf []byte) bool

	// Rejection reports whether a decoded reply is an explicit refusal by the device
	Rejection(decoded interface{}) (string, bool)
}

// sortedKeys returns the keys of a query mapping in a stable order
func sortedKeys(query map[string]string) []string {
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func unsupportedOperation(format model.Format, op *model.Operation) error {
	if op == nil {
		return model.NewMalformedRequest("operation is required")
	}
	if op.Kind == model.OperationKindInfo {
		return model.NewMalformedRequest("info operations are answered locally and have no wire encoding")
	}
	return model.NewMalformedRequest(fmt.Sprintf("%s codec cannot encode %s operations", format, op.Kind))
}

func truncatedReply(format model.Format, cause error) error {
	return model.NewMalformedDeviceReply(fmt.Sprintf("truncated %s reply: %v", format, cause), cause)
}

func malformedReply(format model.Format, cause error) error {
	return model.NewMalformedDeviceReply(fmt.Sprintf("invalid %s reply: %v", format, cause), cause)
}

// isRejectionStatus reports whether a status word means the device refused the request
func isRejectionStatus(status string) bool {
	switch status {
	case "error", "ERROR", "Error",
		"rejected", "REJECTED", "Rejected",
		"fail", "FAIL", "Fail",
		"failed", "FAILED", "Failed":
		return true
	default:
		return false
	}
}
