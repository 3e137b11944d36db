// internal/codec/csv_codec.go
package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"unicode/utf8"

	"device-bridge/internal/model"
)

// CSVCodec speaks comma separated records
type CSVCodec struct{}

// Table is a decoded CSV reply: the first record and every record after it
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Records returns every record, header first
func (t *Table) Records() [][]string {
	records := make([][]string, 0, len(t.Rows)+1)
	records = append(records, t.Header)
	return append(records, t.Rows...)
}

// Maps returns the rows keyed by header column. Missing cells are left out,
// extra cells are dropped.
func (t *Table) Maps() []map[string]string {
	result := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		entry := make(map[string]string, len(t.Header))
		for i, column := range t.Header {
			if i < len(row) {
				entry[column] = row[i]
			}
		}
		result = append(result, entry)
	}
	return result
}

// Format returns FormatCSV
func (CSVCodec) Format() model.Format {
	return model.FormatCSV
}

// Encode writes the GET_DATA request line, or parses and re-emits a
// command payload
func (c CSVCodec) Encode(op *model.Operation) ([]byte, error) {
	if op == nil {
		return nil, unsupportedOperation(c.Format(), op)
	}

	switch op.Kind {
	case model.OperationKindReadData:
		return encodeReadRequest(op.Query)

	case model.OperationKindSendCommand:
		if len(bytes.TrimSpace(op.Payload)) == 0 {
			return nil, model.NewMalformedRequest("missing command payload")
		}
		if !utf8.Valid(op.Payload) {
			return nil, model.NewMalformedRequest("command payload is not valid UTF-8")
		}

		records, err := readRecords(op.Payload)
		if err != nil {
			return nil, model.NewMalformedRequest("command payload is not valid CSV: " + err.Error())
		}
		if len(records) == 0 {
			return nil, model.NewMalformedRequest("command payload holds no CSV records")
		}
		return writeRecords(records)

	default:
		return nil, unsupportedOperation(c.Format(), op)
	}
}

// Decode parses the reply into a *Table
func (c CSVCodec) Decode(data []byte) (interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	records, err := readRecords(data)
	if err != nil {
		if endsInOpenQuote(data, err) {
			return nil, truncatedReply(c.Format(), err)
		}
		return nil, malformedReply(c.Format(), err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	return &Table{Header: records[0], Rows: records[1:]}, nil
}

// Complete always reports false; CSV replies end on peer close or timeout
func (CSVCodec) Complete([]byte) bool {
	return false
}

// Rejection recognises a first record that reads ERROR or NAK
func (CSVCodec) Rejection(decoded interface{}) (string, bool) {
	table, ok := decoded.(*Table)
	if !ok || table == nil || len(table.Header) == 0 {
		return "", false
	}

	switch table.Header[0] {
	case "ERROR", "error", "NAK":
		if len(table.Header) > 1 && table.Header[1] != "" {
			return table.Header[1], true
		}
		return table.Header[0], true
	}
	return "", false
}

// endsInOpenQuote reports whether a parse failure comes from a quoted
// field the reply never closed
func endsInOpenQuote(data []byte, err error) bool {
	var parseErr *csv.ParseError
	if !errors.As(err, &parseErr) || !errors.Is(parseErr.Err, csv.ErrQuote) {
		return false
	}
	return bytes.Count(data, []byte{'"'})%2 == 1
}

func readRecords(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	return reader.ReadAll()
}

func writeRecords(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(records); err != nil {
		return nil, model.NewMalformedRequest("failed to encode CSV records: " + err.Error())
	}
	return buf.Bytes(), nil
}
