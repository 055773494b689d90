// ABOUTME: Wire frame types for the gateway RPC protocol.
// ABOUTME: Defines request/response/push frames and the protocol error taxonomy.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Error codes surfaced to callers. INVALID_REQUEST errors are the caller's
// fault and must not be retried; UNAVAILABLE errors are transient and safe
// to retry with the same idempotency key.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnavailable    = "UNAVAILABLE"
)

// Request is a single inbound RPC frame. The ID is an opaque correlation
// token chosen by the client; it is echoed on every response frame.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the outbound frame answering a Request. Accept-then-finalize
// methods emit a second Response with the same ID once the underlying work
// settles.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
}

// Meta carries response metadata that is not part of the method payload.
type Meta struct {
	Cached bool `json:"cached,omitempty"`
}

// Push is an out-of-band broadcast frame sent to all connected listeners.
type Push struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Error is a protocol-level error with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvalidRequest builds an INVALID_REQUEST error.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// Unavailable builds an UNAVAILABLE error.
func Unavailable(format string, args ...any) *Error {
	return &Error{Code: CodeUnavailable, Message: fmt.Sprintf(format, args...)}
}

// OKResponse builds a success response for the given request ID.
// The payload is marshaled to JSON; a marshal failure is converted to an
// UNAVAILABLE error response so a frame always goes back to the caller.
func OKResponse(id string, payload any) *Response {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ErrorResponse(id, Unavailable("encoding payload: %v", err))
	}
	return &Response{ID: id, OK: true, Payload: raw}
}

// ErrorResponse builds a failure response for the given request ID.
func ErrorResponse(id string, perr *Error) *Response {
	return &Response{ID: id, OK: false, Error: perr}
}
