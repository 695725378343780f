package resources

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

// EventType is the change notification tag of a watch message.
type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
)

// Known reports whether t is one of the three change types. Matching is
// case-sensitive.
func (t EventType) Known() bool {
	switch t {
	case Added, Modified, Deleted:
		return true
	}
	return false
}

// Event is one decoded change notification. Unknown types are preserved so
// that the consumer can report them.
type Event struct {
	Type   EventType
	Object *unstructured.Unstructured
}

var (
	// ErrMalformedEvent marks watch messages that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed watch event")
	// ErrIncompleteEvent marks watch messages without a type or an object.
	ErrIncompleteEvent = errors.New("incomplete watch event")
)

type rawEvent struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// ParseEvent decodes a raw watch message of the form
// {"type": "ADDED"|"MODIFIED"|"DELETED", "object": {...}}.
func ParseEvent(data []byte) (*Event, error) {
	var raw rawEvent
	if err := utiljson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	obj := bytes.TrimSpace(raw.Object)
	if raw.Type == "" || len(obj) == 0 || bytes.Equal(obj, []byte("null")) {
		return nil, ErrIncompleteEvent
	}
	var m map[string]interface{}
	if err := utiljson.Unmarshal(obj, &m); err != nil {
		return nil, fmt.Errorf("%w: object: %v", ErrMalformedEvent, err)
	}
	return &Event{Type: EventType(raw.Type), Object: &unstructured.Unstructured{Object: m}}, nil
}
