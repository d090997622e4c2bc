package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names owned by the relay.
const (
	EventHandshake     = "handshake"
	EventConnection    = "connection"
	EventDisconnection = "disconnection"
)

var errMissingEvent = errors.New("missing event")

// Envelope is the wire shape of every message: an event name, an opaque
// payload and, on worker traffic, the id of the client concerned.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// DecodeEnvelope parses a raw frame. Frames that are not JSON objects or
// carry no event name are rejected.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: %w", errMissingEvent)
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type idPayload struct {
	ID string `json:"id"`
}

// idEnvelope builds the {"event": event, "data": {"id": id}} frames used for
// handshake acknowledgements and worker-facing lifecycle notifications.
func idEnvelope(event, id string) Envelope {
	data, _ := json.Marshal(idPayload{ID: id})
	return Envelope{Event: event, Data: data}
}
