// Package envelope implements the JSON message protocol spoken between the
// browser client and the gateway. Inbound frames are parsed into a validated
// tagged message; anything malformed is rejected with a ProtocolError rather
// than propagated.
package envelope

import (
	"encoding/json"
	"fmt"
)

// ProtocolError reports a malformed or unrecognized client frame.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Cause)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Message is a decoded client frame. Exactly one payload field is set,
// matching Type.
type Message struct {
	Type  string
	Start *Start
	Audio *Audio
}

type rawMessage struct {
	Type     string `json:"type"`
	APIKey   string `json:"apiKey"`
	Language string `json:"language"`
	Audio    string `json:"audio"`
}

// Decode parses one inbound transport frame.
func Decode(data []byte) (*Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ProtocolError{Reason: "invalid JSON", Cause: err}
	}

	switch raw.Type {
	case TypeStart:
		return &Message{
			Type:  TypeStart,
			Start: &Start{APIKey: raw.APIKey, Language: raw.Language},
		}, nil
	case TypeAudio:
		if raw.Audio == "" {
			return nil, &ProtocolError{Reason: "audio message missing audio payload"}
		}
		return &Message{
			Type:  TypeAudio,
			Audio: &Audio{Audio: raw.Audio},
		}, nil
	case TypeStop:
		return &Message{Type: TypeStop}, nil
	case "":
		return nil, &ProtocolError{Reason: "missing message type"}
	default:
		return nil, &ProtocolError{Reason: "unknown message type: " + raw.Type}
	}
}

// Encode serializes a server envelope. v must be one of the server payload
// types in this package with its Type field already set.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// NewStatus builds a status envelope.
func NewStatus(status, message string) Status {
	return Status{Type: TypeStatus, Status: status, Message: message}
}

// NewError builds an error envelope. code and errType are omitted when zero.
func NewError(message string, code int, errType string) Error {
	return Error{Type: TypeError, Message: message, Code: code, ErrorType: errType}
}
