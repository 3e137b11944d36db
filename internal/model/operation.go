// internal/model/operation.go
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationKind represents the kind of bridge invocation
type OperationKind string

const (
	OperationKindInfo        OperationKind = "INFO"
	OperationKindReadData    OperationKind = "READ_DATA"
	OperationKindSendCommand OperationKind = "SEND_COMMAND"
)

// Format represents the wire format spoken by the device
type Format string

const (
	FormatJSON    Format = "JSON"
	FormatXML     Format = "XML"
	FormatCSV     Format = "CSV"
	FormatRawLine Format = "RAW_LINE"
)

// Formats lists every supported wire format
var Formats = []Format{FormatJSON, FormatXML, FormatCSV, FormatRawLine}

// ParseFormat parses a loosely written format name into a Format
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "xml":
		return FormatXML, nil
	case "csv":
		return FormatCSV, nil
	case "raw", "rawline", "raw_line", "line":
		return FormatRawLine, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", name)
	}
}

// ContentType returns the MIME type used when relaying raw device bytes
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXML:
		return "application/xml"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/plain; charset=utf-8"
	}
}

// FormatFromContentType maps a request Content-Type onto a Format
func FormatFromContentType(contentType string) (Format, bool) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch mediaType {
	case "application/json":
		return FormatJSON, true
	case "application/xml", "text/xml":
		return FormatXML, true
	case "text/csv":
		return FormatCSV, true
	case "text/plain":
		return FormatRawLine, true
	default:
		return "", false
	}
}

// Operation represents one bridge invocation. Only the fields that belong to
// Kind are meaningful: Query for ReadData, Payload/Format/ExpectReply for SendCommand.
type Operation struct {
	Kind        OperationKind     `json:"kind"`
	Query       map[string]string `json:"query,omitempty"`
	Payload     []byte            `json:"payload,omitempty"`
	Format      Format            `json:"format,omitempty"`
	ExpectReply bool              `json:"expect_reply"`
}

// NewInfoOperation creates an Info operation
func NewInfoOperation() *Operation {
	return &Operation{Kind: OperationKindInfo}
}

// NewReadDataOperation creates a ReadData operation
func NewReadDataOperation(query map[string]string) *Operation {
	return &Operation{
		Kind:        OperationKindReadData,
		Query:       query,
		ExpectReply: true,
	}
}

// NewSendCommandOperation creates a SendCommand operation
func NewSendCommandOperation(payload []byte, format Format, expectReply bool) *Operation {
	return &Operation{
		Kind:        OperationKindSendCommand,
		Payload:     payload,
		Format:      format,
		ExpectReply: expectReply,
	}
}

// Validate checks that the operation is a well-formed member of the union
func (op *Operation) Validate() error {
	if op == nil {
		return NewMalformedRequest("operation is required")
	}

	switch op.Kind {
	case OperationKindInfo:
		return nil
	case OperationKindReadData:
		if !op.ExpectReply {
			return NewMalformedRequest("read data operations always expect a reply")
		}
		return nil
	case OperationKindSendCommand:
		if len(op.Payload) == 0 {
			return NewMalformedRequest("missing command payload")
		}
		return nil
	default:
		return NewMalformedRequest(fmt.Sprintf("unknown operation kind: %q", op.Kind))
	}
}

// Termination records why the transport stopped reading
type Termination string

const (
	TerminationPeerClosed Termination = "peer_closed"
	TerminationMarker     Termination = "marker"
	TerminationTimeout    Termination = "timeout"
	TerminationNoReply    Termination = "no_reply"
)

// WireExchange is the single request/response byte exchange performed for one operation
type WireExchange struct {
	ID          uuid.UUID   `json:"id"`
	Request     []byte      `json:"-"`
	Response    []byte      `json:"-"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Termination Termination `json:"termination"`
	Partial     bool        `json:"partial"`
}

// Duration returns how long the exchange took
func (we *WireExchange) Duration() time.Duration {
	if we.CompletedAt.IsZero() {
		return 0
	}
	return we.CompletedAt.Sub(we.StartedAt)
}

// Response is the decoded result of an operation
type Response struct {
	Kind     OperationKind `json:"kind"`
	Format   Format        `json:"format,omitempty"`
	Decoded  interface{}   `json:"value"`
	Raw      []byte        `json:"-"`
	Exchange *WireExchange `json:"exchange,omitempty"`
}
