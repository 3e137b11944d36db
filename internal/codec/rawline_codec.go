// internal/codec/rawline_codec.go
package codec

import (
	"bytes"
	"strings"

	"device-bridge/internal/model"
)

// RawLineCodec speaks single newline-terminated text lines
type RawLineCodec struct{}

// Format returns FormatRawLine
func (RawLineCodec) Format() model.Format {
	return model.FormatRawLine
}

// Encode terminates the command with a newline. ReadData becomes the
// GET_DATA request line.
func (c RawLineCodec) Encode(op *model.Operation) ([]byte, error) {
	if op == nil {
		return nil, unsupportedOperation(c.Format(), op)
	}

	switch op.Kind {
	case model.OperationKindReadData:
		return encodeReadRequest(op.Query)

	case model.OperationKindSendCommand:
		line := bytes.TrimRight(op.Payload, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			return nil, model.NewMalformedRequest("missing command payload")
		}
		if bytes.ContainsAny(line, "\r\n") {
			return nil, model.NewMalformedRequest("raw line command must be a single line")
		}
		return append(append([]byte{}, line...), '\n'), nil

	default:
		return nil, unsupportedOperation(c.Format(), op)
	}
}

// Decode returns the reply as a trimmed string
func (RawLineCodec) Decode(data []byte) (interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	return string(trimmed), nil
}

// Complete reports whether a line terminator has arrived
func (RawLineCodec) Complete(buf []byte) bool {
	return bytes.IndexByte(buf, '\n') >= 0
}

// Rejection recognises lines starting with ERR or NAK
func (RawLineCodec) Rejection(decoded interface{}) (string, bool) {
	line, ok := decoded.(string)
	if !ok {
		return "", false
	}

	upper := strings.ToUpper(line)
	if strings.HasPrefix(upper, "ERR") || strings.HasPrefix(upper, "NAK") {
		return line, true
	}
	return "", false
}
