package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrDecode marks a frame that is not a JSON array headed by an event name.
var ErrDecode = errors.New("intake: malformed frame")

// Event is one decoded intake message.
type Event struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
}

// Field returns the value of key or "" when absent.
func (e Event) Field(key string) string { return e.Fields[key] }

// Path returns the stream path the event refers to.
func (e Event) Path() string { return e.Fields[FieldPath] }

// Decode parses a frame of the form [name, payload...].
//
// Object payload elements are merged into Fields; any other element is stored
// positionally as argN (N counting from 1). Nested values keep their JSON text.
// Keys sent by the relay in environment form (MTX_PATH, ...) are normalized.
func Decode(frame []byte) (Event, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(frame), &parts); err != nil {
		return Event{}, fmt.Errorf("%w: not a JSON array: %v", ErrDecode, err)
	}
	if len(parts) == 0 {
		return Event{}, fmt.Errorf("%w: empty array", ErrDecode)
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return Event{}, fmt.Errorf("%w: first element must be a string event name", ErrDecode)
	}
	if name == "" {
		return Event{}, fmt.Errorf("%w: empty event name", ErrDecode)
	}
	ev := Event{Name: name, Fields: make(map[string]string)}
	for i, raw := range parts[1:] {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
			for k, v := range obj {
				ev.Fields[normalizeKey(k)] = scalar(v)
			}
			continue
		}
		ev.Fields["arg"+strconv.Itoa(i+1)] = scalar(raw)
	}
	return ev, nil
}

// Encode builds the frame a hook client sends for name and fields.
func Encode(name string, fields map[string]string) ([]byte, error) {
	if name == "" {
		return nil, errors.New("intake: empty event name")
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return json.Marshal([]any{name, fields})
}

func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	t := string(bytes.TrimSpace(raw))
	if t == "null" {
		return ""
	}
	return t
}
