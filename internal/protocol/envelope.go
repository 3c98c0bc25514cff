// Package protocol defines the {event, data} envelope exchanged over a
// websocket connection and the payloads carried for each event tag.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client to server tags.
const (
	EventPing        = "ping"
	EventMessageSend = "message:send"
	EventMessageRead = "message:read"
	EventReadAll     = "message:read_all"
	EventTyping      = "user:typing"
)

// Server to client tags. EventReadAll and EventTyping are used in both directions.
const (
	EventPong                  = "pong"
	EventMessageNew            = "message:new"
	EventMessageStatus         = "message:status"
	EventUserStatus            = "user:status"
	EventUserUpdate            = "user:update"
	EventFriendRequestReceived = "friend:request_received"
	EventFriendRequestAccepted = "friend:request_accepted"
)

var (
	// ErrMalformed is returned when a frame is not a JSON object.
	ErrMalformed = errors.New("protocol: malformed envelope")
	// ErrMissingEvent is returned when the event tag is absent or blank.
	ErrMissingEvent = errors.New("protocol: missing event tag")
	// ErrMissingField is returned when a payload lacks a required field.
	ErrMissingField = errors.New("protocol: missing required field")
	// ErrInvalidType is returned for an unknown message type.
	ErrInvalidType = errors.New("protocol: invalid message type")
)

// Envelope is the unit exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw frame. Only the presence of the event tag is checked;
// payload validation belongs to the handler for that tag.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// Encode marshals an outbound envelope.
func Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}
	env := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads that are known to marshal.
func MustEncode(event string, data any) []byte {
	b, err := Encode(event, data)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeData unmarshals the envelope payload into dst. A missing payload
// decodes as an empty object.
func (e Envelope) DecodeData(dst any) error {
	data := e.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Event, err)
	}
	return nil
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return nil
}
