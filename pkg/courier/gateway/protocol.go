// protocol.go defines the control-plane wire protocol: JSON envelopes
// over a persistent bidirectional socket. Requests carry an id and a
// method; each request gets exactly one correlated response. Events are
// broadcast with a process-lifetime sequence number.
package gateway

import (
	"encoding/json"
	"time"
)

// Envelope types.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Error codes returned in response envelopes.
const (
	CodeNotAuthenticated   = "NOT_AUTHENTICATED"
	CodeAuthFailed         = "AUTH_FAILED"
	CodeUnknownMethod      = "UNKNOWN_METHOD"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidParams      = "INVALID_PARAMS"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeChannelUnavailable = "CHANNEL_UNAVAILABLE"
)

// Request is a client-to-server envelope.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a server-to-client envelope correlated to one request.
type Response struct {
	Type    string     `json:"type"`
	ID      string     `json:"id"`
	OK      bool       `json:"ok"`
	Payload any        `json:"payload,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventEnvelope is a broadcast state-change notification. Seq strictly
// increases for the lifetime of the gateway process.
type EventEnvelope struct {
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

func okResponse(id string, payload any) Response {
	return Response{Type: TypeResponse, ID: id, OK: true, Payload: payload}
}

func errResponse(id, code, message string) Response {
	return Response{Type: TypeResponse, ID: id, OK: false, Error: &ErrorInfo{Code: code, Message: message}}
}

// protoError carries a typed protocol failure out of a handler.
type protoError struct {
	code    string
	message string
}

func (e *protoError) Error() string { return e.message }

func newProtoError(code, message string) *protoError {
	return &protoError{code: code, message: message}
}
