package subsonic

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Record is one element of the normalized response tree: a name, a flat
// attribute map, and ordered child records. XML and JSON payloads decode to
// the same shape so the reconciler never cares about the wire format.
type Record struct {
	Name     string
	Attr     map[string]string
	Children []*Record
}

// Envelope is a decoded subsonic-response: protocol status and version plus
// the payload record (nil for bare acknowledgements like ping).
type Envelope struct {
	Status  string
	Version string
	Payload *Record
}

// Decode parses a raw response body into an Envelope. The mime type selects
// the wire format; when absent the body is sniffed. Malformed input yields a
// *CodecError and an application-level failure a *ProtocolError, never a
// partial silently-wrong structure.
func Decode(body []byte, mime string) (*Envelope, error) {
	var root *Record
	var err error

	switch {
	case strings.Contains(mime, "json"):
		root, err = decodeJSON(body)
	case strings.Contains(mime, "xml"):
		root, err = decodeXML(body)
	default:
		if looksLikeJSON(body) {
			root, err = decodeJSON(body)
		} else {
			root, err = decodeXML(body)
		}
	}
	if err != nil {
		return nil, err
	}
	return envelope(root)
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func envelope(root *Record) (*Envelope, error) {
	if root == nil || root.Name != "subsonic-response" {
		return nil, &CodecError{Reason: "missing subsonic-response element"}
	}

	env := &Envelope{
		Status:  root.Attr["status"],
		Version: root.Attr["version"],
	}

	for _, child := range root.Children {
		if child.Name == "error" {
			code, _ := strconv.Atoi(child.Attr["code"])
			return nil, &ProtocolError{Code: code, Message: child.Attr["message"]}
		}
	}
	if env.Status != "ok" {
		return nil, &ProtocolError{Code: CodeGeneric, Message: "server reported status " + env.Status}
	}
	if len(root.Children) > 0 {
		env.Payload = root.Children[0]
	}
	return env, nil
}

func decodeXML(body []byte) (*Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var root *Record
	var stack []*Record

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &CodecError{Reason: "malformed XML", Cause: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			rec := &Record{Name: t.Name.Local, Attr: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				rec.Attr[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, &CodecError{Reason: "multiple root elements"}
				}
				root = rec
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, rec)
			}
			stack = append(stack, rec)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, &CodecError{Reason: "unbalanced XML"}
			}
			stack = stack[:len(stack)-1]
		}
	}

	if root == nil {
		return nil, &CodecError{Reason: "empty document"}
	}
	if len(stack) != 0 {
		return nil, &CodecError{Reason: "unterminated XML"}
	}
	return root, nil
}

func decodeJSON(body []byte) (*Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &CodecError{Reason: "malformed JSON", Cause: err}
	}

	resp, ok := doc["subsonic-response"].(map[string]any)
	if !ok {
		return nil, &CodecError{Reason: "missing subsonic-response element"}
	}
	return jsonRecord("subsonic-response", resp), nil
}

// jsonRecord maps a JSON object onto the same tree XML produces: scalar
// fields become attributes, nested objects and object arrays become children
// named after their key.
func jsonRecord(name string, obj map[string]any) *Record {
	rec := &Record{Name: name, Attr: make(map[string]string)}
	for k, v := range obj {
		switch val := v.(type) {
		case map[string]any:
			rec.Children = append(rec.Children, jsonRecord(k, val))
		case []any:
			for _, item := range val {
				if child, ok := item.(map[string]any); ok {
					rec.Children = append(rec.Children, jsonRecord(k, child))
				}
			}
		case nil:
			// absent optional field
		default:
			rec.Attr[k] = jsonScalar(val)
		}
	}
	return rec
}

func jsonScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// Str returns a string attribute, empty when absent.
func (r *Record) Str(name string) string {
	return r.Attr[name]
}

// Int returns a numeric attribute, nil when absent or unparseable. Absent
// optional numerics stay unset rather than zero.
func (r *Record) Int(name string) *int {
	s, ok := r.Attr[name]
	if !ok || s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// Int64 is Int for 64-bit fields (file sizes, timestamps).
func (r *Record) Int64(name string) *int64 {
	s, ok := r.Attr[name]
	if !ok || s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Bool normalizes both wire forms of booleans: "true"/"false" and "1"/"0".
func (r *Record) Bool(name string) bool {
	switch r.Attr[name] {
	case "true", "1":
		return true
	default:
		return false
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000Z",
}

// Time parses a timestamp attribute; the zero time means absent or
// unparseable.
func (r *Record) Time(name string) time.Time {
	s, ok := r.Attr[name]
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Named returns the direct children with the given element name, in document
// order.
func (r *Record) Named(name string) []*Record {
	var out []*Record
	for _, c := range r.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// First returns the first direct child with the given name, or nil.
func (r *Record) First(name string) *Record {
	for _, c := range r.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}
