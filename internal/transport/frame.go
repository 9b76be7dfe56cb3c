package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the JSON frame the opencode server wraps every event in.
type Envelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

var kindAliases = map[string]string{
	"server.connected": KindConnect,
	"server.heartbeat": KindHeartbeat,
}

// NormalizeKind maps server event names onto the control kinds.
func NormalizeKind(kind string) string {
	if alias, ok := kindAliases[kind]; ok {
		return alias
	}
	return kind
}

// DecodeFrame turns one frame into an Event.
//
// Unnamed frames (and frames named "message") carry an Envelope. Any other name is the
// event kind itself and data is its payload. ok is false for empty frames, which carry
// nothing to deliver. Payloads of non-control kinds must be valid JSON.
func DecodeFrame(name string, data []byte) (ev Event, ok bool, err error) {
	data = bytes.TrimSpace(data)

	if name == "" || name == "message" {
		if len(data) == 0 {
			return Event{}, false, nil
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if env.Type == "" {
			return Event{}, false, fmt.Errorf("%w: missing type", ErrMalformedFrame)
		}
		payload := env.Properties
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		return Event{Kind: NormalizeKind(env.Type), Data: payload}, true, nil
	}

	kind := NormalizeKind(name)
	if IsControl(kind) {
		return Event{Kind: kind, Data: json.RawMessage(bytes.Clone(data))}, true, nil
	}
	if !json.Valid(data) {
		return Event{}, false, fmt.Errorf("%w: %s payload is not JSON", ErrMalformedFrame, kind)
	}
	return Event{Kind: kind, Data: json.RawMessage(bytes.Clone(data))}, true, nil
}
