// internal/codec/json_codec.go
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"device-bridge/internal/model"
)

// JSONCodec speaks newline-terminated JSON documents
type JSONCodec struct{}

// Format returns FormatJSON
func (JSONCodec) Format() model.Format {
	return model.FormatJSON
}

// Encode writes the GET_DATA request line, or validates and compacts a
// command payload and frames it as CMD:<json>
func (c JSONCodec) Encode(op *model.Operation) ([]byte, error) {
	if op == nil {
		return nil, unsupportedOperation(c.Format(), op)
	}

	switch op.Kind {
	case model.OperationKindReadData:
		return encodeReadRequest(op.Query)

	case model.OperationKindSendCommand:
		payload := bytes.TrimSpace(op.Payload)
		if len(payload) == 0 {
			return nil, model.NewMalformedRequest("missing command payload")
		}
		if !json.Valid(payload) {
			return nil, model.NewMalformedRequest("command payload is not valid JSON")
		}

		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return nil, model.NewMalformedRequest("command payload is not valid JSON: " + err.Error())
		}
		return frameJSONCommand(buf.Bytes()), nil

	default:
		return nil, unsupportedOperation(c.Format(), op)
	}
}

// Decode parses one or more concatenated JSON values. Numbers keep their
// textual form as json.Number; several values decode into a slice.
func (c JSONCodec) Decode(data []byte) (interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var values []interface{}
	for {
		var value interface{}
		err := decoder.Decode(&value)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, truncatedReply(c.Format(), err)
			}
			return nil, malformedReply(c.Format(), err)
		}
		values = append(values, value)
	}

	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// Complete reports whether buf holds exactly one complete JSON value
func (JSONCodec) Complete(buf []byte) bool {
	trimmed := bytes.TrimSpace(buf)
	return len(trimmed) > 0 && json.Valid(trimmed)
}

// Rejection recognises {"error": "..."}, {"status": "error"}, {"result": "error"}
// and {"success": false} replies
func (JSONCodec) Rejection(decoded interface{}) (string, bool) {
	object, ok := decoded.(map[string]interface{})
	if !ok {
		return "", false
	}

	if message, ok := object["error"].(string); ok && message != "" {
		return message, true
	}

	for _, key := range []string{"status", "result"} {
		if status, ok := object[key].(string); ok && isRejectionStatus(status) {
			return jsonDetail(object, status), true
		}
	}

	if success, ok := object["success"].(bool); ok && !success {
		return jsonDetail(object, "device reported failure"), true
	}

	return "", false
}

// jsonDetail picks the most descriptive message field of a rejection reply
func jsonDetail(object map[string]interface{}, fallback string) string {
	for _, key := range []string{"message", "reason", "error", "detail"} {
		if message, ok := object[key].(string); ok && message != "" {
			return message
		}
	}
	return fallback
}
