// Package webhook turns inbound form-builder submissions into a flat field
// map and records every invocation in an append-then-update audit log.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"
)

// ErrMalformed is returned when a body cannot be decoded in any supported
// encoding.
var ErrMalformed = errors.New("malformed payload")

const (
	KeyEntries  = "entries"
	KeyFormID   = "form_id"
	KeyFormName = "form_name"
	KeyEntryID  = "entry_id"
	KeySecret   = "secret"
)

const multipartMaxMemory = 4 << 20

// Fields maps a submitted key to either a string or a []string.
type Fields map[string]interface{}

// String returns the value under key. For list values the first non-blank
// element is returned.
func (f Fields) String(key string) (string, bool) {
	switch v := f[key].(type) {
	case string:
		return v, true
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

// Strings returns the value under key as a list. Scalars become a one element
// slice.
func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Payload is a decoded submission. Envelope keys are lifted out of Fields.
type Payload struct {
	FormID     string `validate:"omitempty,max=128"`
	FormName   string `validate:"omitempty,max=256"`
	EntryID    string `validate:"required,max=256"`
	Secret     string
	HasEntries bool
	Fields     Fields

	raw json.RawMessage
}

// Raw returns the submission as JSON. JSON bodies are returned as sent and
// form bodies are re-encoded from their decoded values. In both, \u0000
// escapes and invalid UTF-8 are replaced with U+FFFD because a jsonb column
// rejects them.
func (p *Payload) Raw() json.RawMessage {
	return p.raw
}

// Normalize decodes body according to contentType. An empty or text/plain
// content type is sniffed as JSON first and then as form encoding.
func Normalize(body []byte, contentType string) (*Payload, error) {
	mediaType, params := "", map[string]string(nil)
	if strings.TrimSpace(contentType) != "" {
		var err error
		mediaType, params, err = mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: content type %q: %v", ErrMalformed, contentType, err)
		}
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return fromJSON(body)
	case mediaType == "application/x-www-form-urlencoded":
		return fromForm(body)
	case mediaType == "multipart/form-data":
		return fromMultipart(body, params["boundary"])
	case mediaType == "" || mediaType == "text/plain":
		return sniff(body)
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformed, mediaType)
	}
}

func sniff(body []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if trimmed[0] == '{' {
		if p, err := fromJSON(trimmed); err == nil {
			return p, nil
		}
	}
	if bytes.ContainsRune(trimmed, '=') {
		if p, err := fromForm(trimmed); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: body is neither JSON nor form encoded", ErrMalformed)
}

func fromJSON(body []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: JSON body must be an object", ErrMalformed)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformed)
	}

	p := &Payload{Fields: Fields{}, raw: storable(bytes.TrimSpace(body))}

	var entries map[string]interface{}
	if v, ok := doc[KeyEntries]; ok && v != nil {
		m, err := asObject(v)
		if err != nil {
			return nil, err
		}
		entries = m
		p.HasEntries = true
	}

	for k, v := range doc {
		if p.liftEnvelope(k, flatten(v)) || k == KeyEntries {
			continue
		}
		p.put(k, flatten(v))
	}
	for k, v := range entries {
		if cur, isEnvelope := p.envelope(k); isEnvelope {
			if cur == "" {
				p.liftEnvelope(k, flatten(v))
			}
			continue
		}
		p.put(k, flatten(v))
	}
	return p, nil
}

// asObject accepts an object or a string holding a JSON object. Some form
// builders post entries double-encoded.
func asObject(v interface{}) (map[string]interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, nil
	case string:
		dec := json.NewDecoder(strings.NewReader(t))
		dec.UseNumber()
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil || m == nil {
			return nil, fmt.Errorf("%w: entries must be an object", ErrMalformed)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: entries must be an object", ErrMalformed)
}

func fromForm(body []byte) (*Payload, error) {
	values, err := url.ParseQuery(string(bytes.TrimSpace(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromValues(values)
}

func fromMultipart(body []byte, boundary string) (*Payload, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart body without boundary", ErrMalformed)
	}
	form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(multipartMaxMemory)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer form.RemoveAll()
	return fromValues(url.Values(form.Value))
}

func fromValues(values url.Values) (*Payload, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty form", ErrMalformed)
	}

	p := &Payload{Fields: Fields{}}
	top, entries := formGroup{}, formGroup{}

	for key, vals := range values {
		if inner, ok := bracketed(key, KeyEntries); ok {
			p.HasEntries = true
			entries.add(inner, vals)
			continue
		}
		top.add(key, vals)
	}

	if vals, ok := top.values[KeyEntries]; ok {
		delete(top.values, KeyEntries)
		m, err := asObject(firstOf(vals))
		if err != nil {
			return nil, err
		}
		p.HasEntries = true
		for k, v := range m {
			if _, dup := entries.values[k]; dup {
				continue
			}
			switch f := flatten(v).(type) {
			case string:
				entries.add(k, []string{f})
			case []string:
				entries.add(k+"[]", f)
			}
		}
	}

	for k := range top.values {
		v := top.get(k)
		if p.liftEnvelope(k, v) {
			continue
		}
		p.put(k, v)
	}
	for k := range entries.values {
		if cur, isEnvelope := p.envelope(k); isEnvelope {
			if cur == "" {
				p.liftEnvelope(k, entries.get(k))
			}
			continue
		}
		p.put(k, entries.get(k))
	}

	raw := top.view()
	if len(entries.values) > 0 {
		raw[KeyEntries] = entries.view()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode form payload: %w", err)
	}
	p.raw = storable(b)
	return p, nil
}

var nulEscape = []byte(`\u0000`)

func storable(raw []byte) json.RawMessage {
	raw = bytes.ToValidUTF8(raw, []byte("\uFFFD"))
	if !bytes.Contains(raw, nulEscape) {
		return raw
	}
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 == len(raw) {
			out = append(out, raw[i])
			continue
		}
		// An escaped backslash followed by "u0000" is literal text, so escapes
		// are consumed in pairs.
		if bytes.HasPrefix(raw[i:], nulEscape) {
			out = append(out, `\ufffd`...)
			i += len(nulEscape) - 1
			continue
		}
		out = append(out, raw[i], raw[i+1])
		i++
	}
	return out
}

// formGroup collects form values by key. Keys submitted with a [] suffix or
// more than once are lists.
type formGroup struct {
	values map[string][]string
	lists  map[string]bool
}

func (g *formGroup) add(key string, vals []string) {
	if g.values == nil {
		g.values = map[string][]string{}
		g.lists = map[string]bool{}
	}
	if strings.HasSuffix(key, "[]") {
		key = strings.TrimSuffix(key, "[]")
		g.lists[key] = true
	}
	g.values[key] = append(g.values[key], vals...)
	if len(g.values[key]) > 1 {
		g.lists[key] = true
	}
}

func (g *formGroup) get(key string) interface{} {
	vals := g.values[key]
	if g.lists[key] {
		return vals
	}
	return firstOf(vals)
}

func (g *formGroup) view() map[string]interface{} {
	out := make(map[string]interface{}, len(g.values))
	for k := range g.values {
		out[k] = g.get(k)
	}
	return out
}

// bracketed reports whether key has the form prefix[inner] and returns inner.
func bracketed(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix+"[") {
		return "", false
	}
	rest := key[len(prefix)+1:]
	i := strings.IndexByte(rest, ']')
	if i < 0 {
		return "", false
	}
	return rest[:i] + rest[i+1:], true
}

func (p *Payload) liftEnvelope(key string, v interface{}) bool {
	s, _ := Fields{key: v}.String(key)
	switch key {
	case KeyFormID:
		p.FormID = s
	case KeyFormName:
		p.FormName = s
	case KeyEntryID:
		p.EntryID = s
	case KeySecret:
		p.Secret = s
	default:
		return false
	}
	return true
}

// envelope returns the current value of an envelope key and whether key is
// one. Envelope keys inside entries only fill gaps left by the top level.
func (p *Payload) envelope(key string) (string, bool) {
	switch key {
	case KeyFormID:
		return p.FormID, true
	case KeyFormName:
		return p.FormName, true
	case KeyEntryID:
		return p.EntryID, true
	case KeySecret:
		return p.Secret, true
	}
	return "", false
}

func (p *Payload) put(key string, v interface{}) {
	if isNoise(key) || v == nil {
		return
	}
	p.Fields[key] = v
}

func isNoise(key string) bool {
	return strings.TrimSpace(key) == "" || strings.HasPrefix(key, "__")
}

// flatten reduces a decoded JSON value to string, []string or nil.
func flatten(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch s := flatten(item).(type) {
			case string:
				out = append(out, s)
			case []string:
				out = append(out, s...)
			}
		}
		return out
	default:
		return scalar(v)
	}
}

func scalar(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	}
}

func firstOf(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
