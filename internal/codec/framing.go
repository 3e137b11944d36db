// internal/codec/framing.go
package codec

import (
	"bytes"
	"strings"
	"unicode"

	"device-bridge/internal/model"
)

// Command framing shared with the devices
const (
	// CommandPrefix starts every framed JSON or XML command
	CommandPrefix = "CMD"
	// CommandTrailer closes a framed XML command on its own line
	CommandTrailer = "END"
)

// encodeReadRequest builds the data request line used by every format:
// GET_DATA, then the query as k=v fields with keys sorted.
func encodeReadRequest(query map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(ReadCommand)
	for _, key := range sortedKeys(query) {
		value := query[key]
		if key == "" || strings.ContainsRune(key, '=') {
			return nil, model.NewMalformedRequest("invalid query key: " + key)
		}
		if strings.IndexFunc(key+value, unicode.IsSpace) >= 0 {
			return nil, model.NewMalformedRequest("query parameters must not contain whitespace or line breaks")
		}
		buf.WriteByte(' ')
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(value)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// frameJSONCommand sends a JSON command as CMD:<json>\n
func frameJSONCommand(body []byte) []byte {
	framed := make([]byte, 0, len(CommandPrefix)+len(body)+2)
	framed = append(framed, CommandPrefix+":"...)
	framed = append(framed, body...)
	return append(framed, '\n')
}

// frameXMLCommand sends an XML command as CMD\n<xml>\nEND\n
func frameXMLCommand(body []byte) []byte {
	framed := make([]byte, 0, len(body)+len(CommandPrefix)+len(CommandTrailer)+3)
	framed = append(framed, CommandPrefix+"\n"...)
	framed = append(framed, body...)
	framed = append(framed, "\n"+CommandTrailer+"\n"...)
	return framed
}

// Unframe strips the command framing of a request in the given format and
// reports whether the request carried it. Unframed requests come back trimmed.
func Unframe(format model.Format, data []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(data)

	switch format {
	case model.FormatJSON:
		if body, ok := bytes.CutPrefix(trimmed, []byte(CommandPrefix+":")); ok {
			return bytes.TrimSpace(body), true
		}
	case model.FormatXML:
		body, ok := bytes.CutPrefix(trimmed, []byte(CommandPrefix+"\n"))
		if !ok {
			body, ok = bytes.CutPrefix(trimmed, []byte(CommandPrefix+"\r\n"))
		}
		if !ok {
			break
		}
		body = bytes.TrimSpace(body)
		if body, ok = bytes.CutSuffix(body, []byte(CommandTrailer)); ok {
			return bytes.TrimSpace(body), true
		}
	}
	return trimmed, false
}

// looksLikeMarkup reports whether a command payload is an XML document
// rather than text that merely starts with '<'
func looksLikeMarkup(payload []byte) bool {
	if len(payload) < 2 || payload[0] != '<' {
		return false
	}
	next := payload[1]
	return next == '?' || next == '!' || next == '_' || next == ':' ||
		(next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') || next >= 0x80
}
