// internal/simulator/wire.go
package simulator

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"device-bridge/internal/codec"
	"device-bridge/internal/model"
)

// Request is one command received from the bridge
type Request struct {
	Command string
	Args    []string
	Params  map[string]string
}

// ReadRequest reads one request: a single line, or for XML a CMD ... END block
func ReadRequest(r *bufio.Reader, format model.Format) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil || format != model.FormatXML || string(bytes.TrimSpace(line)) != codec.CommandPrefix {
		return line, err
	}

	request := line
	for {
		line, err = r.ReadBytes('\n')
		request = append(request, line...)
		if err != nil || string(bytes.TrimSpace(line)) == codec.CommandTrailer {
			return request, err
		}
	}
}

// ParseRequest decodes a request in the given wire format. Data requests are
// a GET_DATA line in every format; JSON and XML commands arrive CMD framed.
func ParseRequest(format model.Format, data []byte) (*Request, error) {
	body, framed := codec.Unframe(format, data)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty request")
	}

	var (
		req *Request
		err error
	)
	if fields := strings.Fields(string(body)); !framed && strings.EqualFold(fields[0], codec.ReadCommand) {
		req = parseFields(fields)
	} else {
		switch format {
		case model.FormatJSON:
			req, err = parseJSONRequest(body)
		case model.FormatXML:
			req, err = parseXMLRequest(body)
		case model.FormatCSV:
			req, err = parseCSVRequest(body)
		case model.FormatRawLine:
			req = parseFields(fields)
		default:
			return nil, fmt.Errorf("unsupported format %q", format)
		}
	}
	if err != nil {
		return nil, err
	}

	if req.Command == "" {
		return nil, fmt.Errorf("missing command")
	}
	req.Command = strings.ToUpper(req.Command)
	return req, nil
}

type jsonRequest struct {
	Command string                 `json:"command"`
	Args    []interface{}          `json:"args"`
	Params  map[string]interface{} `json:"params"`
}

func parseJSONRequest(body []byte) (*Request, error) {
	var cmd jsonRequest
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("invalid JSON request: %w", err)
	}

	req := parseFields(strings.Fields(cmd.Command))
	for _, arg := range cmd.Args {
		req.Args = append(req.Args, fmt.Sprint(arg))
	}
	for key, value := range cmd.Params {
		req.Params[key] = fmt.Sprint(value)
	}
	return req, nil
}

type xmlRequest struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
	Params  []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:",chardata"`
	} `xml:"param"`
}

func parseXMLRequest(body []byte) (*Request, error) {
	var cmd xmlRequest
	if err := xml.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("invalid XML request: %w", err)
	}
	if cmd.XMLName.Local != "command" {
		return nil, fmt.Errorf("unsupported request element <%s>", cmd.XMLName.Local)
	}

	req := parseFields(strings.Fields(cmd.Text))
	for _, param := range cmd.Params {
		req.Params[param.Name] = param.Value
	}
	return req, nil
}

func parseCSVRequest(line []byte) (*Request, error) {
	reader := csv.NewReader(bytes.NewReader(line))
	reader.FieldsPerRecord = -1
	record, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV request: %w", err)
	}
	return parseFields(record), nil
}

// parseFields treats the first field as the command and key=value fields as params
func parseFields(fields []string) *Request {
	req := &Request{Params: make(map[string]string)}
	if len(fields) == 0 {
		return req
	}

	req.Command = fields[0]
	for _, field := range fields[1:] {
		if key, value, ok := strings.Cut(field, "="); ok && key != "" {
			req.Params[key] = value
			continue
		}
		req.Args = append(req.Args, field)
	}
	return req
}

// RenderReply encodes a successful reply
func RenderReply(format model.Format, points map[string]string) []byte {
	keys := sortedKeys(points)

	switch format {
	case model.FormatJSON:
		body, _ := json.Marshal(map[string]interface{}{"status": "ok", "data": points})
		return append(body, '\n')

	case model.FormatXML:
		var buf bytes.Buffer
		buf.WriteString(`<response status="ok">`)
		for _, key := range keys {
			buf.WriteString("<" + key + ">")
			xml.EscapeText(&buf, []byte(points[key]))
			buf.WriteString("</" + key + ">")
		}
		buf.WriteString("</response>\n")
		return buf.Bytes()

	case model.FormatCSV:
		records := [][]string{{"point", "value"}}
		for _, key := range keys {
			records = append(records, []string{key, points[key]})
		}
		return writeCSV(records)

	default:
		fields := []string{"OK"}
		for _, key := range keys {
			fields = append(fields, key+"="+quoteIfNeeded(points[key]))
		}
		return []byte(strings.Join(fields, " ") + "\n")
	}
}

// RenderError encodes a rejection the way the host reports failures
func RenderError(format model.Format, message string) []byte {
	switch format {
	case model.FormatJSON:
		body, _ := json.Marshal(map[string]string{"status": "error", "message": message})
		return append(body, '\n')

	case model.FormatXML:
		var buf bytes.Buffer
		buf.WriteString(`<response status="error"><message>`)
		xml.EscapeText(&buf, []byte(message))
		buf.WriteString("</message></response>\n")
		return buf.Bytes()

	case model.FormatCSV:
		return writeCSV([][]string{{"ERROR", message}})

	default:
		return []byte("ERR " + strings.ReplaceAll(message, "\n", " ") + "\n")
	}
}

func writeCSV(records [][]string) []byte {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.WriteAll(records)
	return buf.Bytes()
}

func quoteIfNeeded(value string) string {
	if value == "" || strings.ContainsAny(value, " \t\"=") {
		return strconv.Quote(value)
	}
	return value
}
