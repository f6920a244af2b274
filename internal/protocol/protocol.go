// Package protocol defines the newline-delimited JSON wire format spoken on
// the chat TCP port.
//
// Every frame is a single line holding one Envelope: a type tag plus a
// type-specific data object. The payload structs in this package are the
// only shapes that ever cross the wire; services and transport exchange
// them instead of raw maps so the two sides cannot drift apart.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event types carried in Envelope.Type.
const (
	TypeAuthRequest     = "AUTH_REQUEST"
	TypeAuthResponse    = "AUTH_RESPONSE"
	TypeChatMessage     = "CHAT_MESSAGE"
	TypeDirectMessage   = "DIRECT_MESSAGE"
	TypeHistoryRequest  = "HISTORY_REQUEST"
	TypeHistoryResponse = "HISTORY_RESPONSE"
	TypeUserPresence    = "USER_PRESENCE"
	TypeError           = "ERROR"
	TypeLogout          = "LOGOUT"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeInvalidJSON     = "INVALID_JSON"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeUnknownAction   = "UNKNOWN_ACTION"
	CodeUnknownScope    = "UNKNOWN_SCOPE"
	CodeUserOffline     = "USER_OFFLINE"
	CodeUserExists      = "USER_EXISTS"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeInvalidPassword = "INVALID_PASSWORD"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Auth actions accepted in AuthRequest.Action.
const (
	ActionLogin    = "LOGIN"
	ActionRegister = "REGISTER"
)

// History scopes accepted in HistoryRequest.Scope.
const (
	ScopeRoom = "ROOM"
	ScopeDM   = "DM"
)

// Domain defaults shared by server and clients.
const (
	DefaultRoom         = "General"
	DefaultHistoryLimit = 150
	MaxMessageLength    = 1000
)

// Envelope is one wire frame: a type tag and its raw payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrEmptyData is returned by Bind when a frame arrives without a payload.
var ErrEmptyData = errors.New("protocol: envelope has no data payload")

// NewEnvelope wraps a payload value into an Envelope of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payload types the server itself constructs,
// where a marshal failure is a programming error.
func MustEnvelope(typ string, payload any) Envelope {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// EncodeLine serializes the envelope as a single newline-terminated frame.
func EncodeLine(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope %s: %w", env.Type, err)
	}
	return append(raw, '\n'), nil
}

// DecodeLine parses one wire frame. The trailing newline, if still present,
// is ignored. A frame that is not a JSON object with a string type fails.
func DecodeLine(line []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Envelope{}, errors.New("protocol: empty frame")
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	return env, nil
}

// Bind unmarshals the envelope payload into v. Frames without a payload
// return ErrEmptyData so handlers can distinguish "missing" from "malformed".
func (e Envelope) Bind(v any) error {
	if len(bytes.TrimSpace(e.Data)) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		return ErrEmptyData
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("protocol: bind %s payload: %w", e.Type, err)
	}
	return nil
}
