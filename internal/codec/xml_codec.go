// internal/codec/xml_codec.go
package codec

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"device-bridge/internal/model"
)

// XMLCodec speaks single-root XML documents
type XMLCodec struct{}

// Attr is an XML attribute in document order
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Element is an ordered XML element tree
type Element struct {
	Name     string     `json:"name"`
	Attrs    []Attr     `json:"attrs,omitempty"`
	Text     string     `json:"text,omitempty"`
	Children []*Element `json:"children,omitempty"`
}

// Attr returns the value of the named attribute
func (e *Element) Attr(name string) (string, bool) {
	for _, attr := range e.Attrs {
		if strings.EqualFold(attr.Name, name) {
			return attr.Value, true
		}
	}
	return "", false
}

// Child returns the first child element with the given name
func (e *Element) Child(name string) *Element {
	for _, child := range e.Children {
		if strings.EqualFold(child.Name, name) {
			return child
		}
	}
	return nil
}

// Simplify converts the tree into nested maps keyed by element name.
// Leaf elements become their text, attributes are keyed "@name", repeated
// children become slices and mixed text is kept under "#text".
func (e *Element) Simplify() map[string]interface{} {
	return map[string]interface{}{e.Name: e.simpleValue()}
}

func (e *Element) simpleValue() interface{} {
	if len(e.Attrs) == 0 && len(e.Children) == 0 {
		return e.Text
	}

	value := make(map[string]interface{}, len(e.Attrs)+len(e.Children))
	for _, attr := range e.Attrs {
		value["@"+attr.Name] = attr.Value
	}
	for _, child := range e.Children {
		childValue := child.simpleValue()
		existing, seen := value[child.Name]
		if !seen {
			value[child.Name] = childValue
			continue
		}
		if list, ok := existing.([]interface{}); ok {
			value[child.Name] = append(list, childValue)
		} else {
			value[child.Name] = []interface{}{existing, childValue}
		}
	}
	if e.Text != "" {
		value["#text"] = e.Text
	}
	return value
}

// MarshalJSON renders the simplified form
func (e *Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Simplify())
}

// Format returns FormatXML
func (XMLCodec) Format() model.Format {
	return model.FormatXML
}

// Encode writes the GET_DATA request line. Commands are framed as
// CMD\n<xml>\nEND; well-formed documents pass through and plain text is
// escaped into a <command> element.
func (c XMLCodec) Encode(op *model.Operation) ([]byte, error) {
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
		if !utf8.Valid(payload) {
			return nil, model.NewMalformedRequest("command payload is not valid UTF-8")
		}

		if looksLikeMarkup(payload) {
			if _, err := parseElement(payload); err != nil {
				return nil, model.NewMalformedRequest("command payload is not well-formed XML: " + err.Error())
			}
			return frameXMLCommand(payload), nil
		}

		var buf bytes.Buffer
		buf.WriteString("<command>")
		if err := xml.EscapeText(&buf, payload); err != nil {
			return nil, model.NewMalformedRequest("invalid command text: " + err.Error())
		}
		buf.WriteString("</command>")
		return frameXMLCommand(buf.Bytes()), nil

	default:
		return nil, unsupportedOperation(c.Format(), op)
	}
}

// Decode parses a single-root XML document into an *Element
func (c XMLCodec) Decode(data []byte) (interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	root, err := parseElement(trimmed)
	if err != nil {
		if errors.Is(err, errXMLTruncated) {
			return nil, truncatedReply(c.Format(), err)
		}
		return nil, malformedReply(c.Format(), err)
	}
	return root, nil
}

// Complete reports whether buf holds a closed root element
func (XMLCodec) Complete(buf []byte) bool {
	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] != '>' {
		return false
	}
	_, err := parseElement(trimmed)
	return err == nil
}

// Rejection recognises <error> documents and status values of error, rejected, fail or failed
func (XMLCodec) Rejection(decoded interface{}) (string, bool) {
	root, ok := decoded.(*Element)
	if !ok || root == nil {
		return "", false
	}

	if strings.EqualFold(root.Name, "error") {
		return xmlDetail(root, "device returned error"), true
	}

	if status, ok := root.Attr("status"); ok && isRejectionStatus(strings.TrimSpace(status)) {
		return xmlDetail(root, status), true
	}
	if child := root.Child("status"); child != nil && isRejectionStatus(strings.TrimSpace(child.Text)) {
		return xmlDetail(root, child.Text), true
	}

	return "", false
}

// xmlDetail picks the most descriptive message of a rejection document
func xmlDetail(root *Element, fallback string) string {
	for _, name := range []string{"message", "reason", "detail"} {
		if child := root.Child(name); child != nil && child.Text != "" {
			return child.Text
		}
		if value, ok := root.Attr(name); ok && value != "" {
			return value
		}
	}
	if len(root.Children) == 0 && root.Text != "" {
		return root.Text
	}
	return fallback
}

var errXMLTruncated = errors.New("document ended before the root element was closed")

// parseElement builds an ordered tree from a document that must hold exactly one root element
func parseElement(data []byte) (*Element, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true

	var root *Element
	var stack []*Element

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.Is(err, io.ErrUnexpectedEOF) ||
				(errors.As(err, &syntaxErr) && syntaxErr.Msg == "unexpected EOF") {
				return nil, fmt.Errorf("%w: %v", errXMLTruncated, err)
			}
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			element := &Element{Name: t.Name.Local}
			for _, attr := range t.Attr {
				element.Attrs = append(element.Attrs, Attr{Name: attr.Name.Local, Value: attr.Value})
			}

			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements: <%s> follows <%s>", element.Name, root.Name)
				}
				root = element
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, element)
			}
			stack = append(stack, element)

		case xml.EndElement:
			closed := stack[len(stack)-1]
			closed.Text = strings.TrimSpace(closed.Text)
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			} else if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("text outside the root element")
			}
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: <%s> is not closed", errXMLTruncated, stack[len(stack)-1].Name)
	}
	if root == nil {
		return nil, fmt.Errorf("no root element")
	}
	return root, nil
}
