package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frame is one decoded inbound JSON object. Values stay raw so the roles
// can read them leniently: the engine is inconsistent about numbers versus
// booleans versus numeric strings.
type Frame map[string]json.RawMessage

// DecodeFrame parses a single wire message. Anything other than a JSON
// object is rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame == nil {
		return nil, errors.New("decode frame: not a JSON object")
	}
	return frame, nil
}

// Has reports whether key is present and not null
func (f Frame) Has(key string) bool {
	raw, ok := f[key]
	return ok && string(raw) != "null"
}

// Text returns a string field, or "" when absent or not a string
func (f Frame) Text(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Int returns a numeric field. Numeric strings are accepted.
func (f Frame) Int(key string) (int, bool) {
	raw, ok := f[key]
	if !ok {
		return 0, false
	}
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return int(n), true
}

// Bool returns a flag field. true, any non-zero number, "1" and "true"
// are truthy.
func (f Frame) Bool(key string) bool {
	raw, ok := f[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	if n, ok := f.Int(key); ok {
		return n != 0
	}
	return strings.EqualFold(f.Text(key), "true")
}

// Decode unmarshals a single field into v
func (f Frame) Decode(key string, v any) error {
	raw, ok := f[key]
	if !ok {
		return fmt.Errorf("field %q missing", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}
