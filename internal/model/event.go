// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventExchangeCompleted EventType = "EXCHANGE_COMPLETED"
	EventExchangeFailed    EventType = "EXCHANGE_FAILED"
)

// ExchangeEvent describes the outcome of one bridge call
type ExchangeEvent struct {
	ID            uuid.UUID     `json:"id"`
	EventType     EventType     `json:"event_type"`
	OperationKind OperationKind `json:"operation_kind"`
	Format        Format        `json:"format,omitempty"`
	Address       string        `json:"address,omitempty"`
	DurationMs    int64         `json:"duration_ms"`
	RequestBytes  int           `json:"request_bytes"`
	ResponseBytes int           `json:"response_bytes"`
	Termination   Termination   `json:"termination,omitempty"`
	Partial       bool          `json:"partial"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
