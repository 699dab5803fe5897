// Package protocol defines the Agent Interchange Protocol wire types shared by
// the dispatcher and requester roles. It has no dependencies on other internal
// packages.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the protocol version stamped on every envelope and manifest.
const Version = "0.1"

// MessageType identifies the kind of envelope. The set is closed: decoding
// rejects any value not listed here.
type MessageType string

const (
	TypeTaskRequest        MessageType = "task.request"
	TypeTaskAccept         MessageType = "task.accept"
	TypeTaskProgress       MessageType = "task.progress"
	TypeTaskResult         MessageType = "task.result"
	TypeTaskError          MessageType = "task.error"
	TypeTaskCancel         MessageType = "task.cancel"
	TypeTaskQuote          MessageType = "task.quote"
	TypeTaskOffer          MessageType = "task.offer"
	TypeTaskNegotiate      MessageType = "task.negotiate"
	TypePing               MessageType = "ping"
	TypePong               MessageType = "pong"
	TypeCapabilityQuery    MessageType = "capability.query"
	TypeCapabilityResponse MessageType = "capability.response"
)

// MessageTypes lists every declared message type in protocol order.
var MessageTypes = []MessageType{
	TypeTaskRequest, TypeTaskAccept, TypeTaskProgress,
	TypeTaskResult, TypeTaskError, TypeTaskCancel,
	TypeTaskQuote, TypeTaskOffer, TypeTaskNegotiate,
	TypePing, TypePong, TypeCapabilityQuery, TypeCapabilityResponse,
}

// Valid reports whether t is one of the declared message types.
func (t MessageType) Valid() bool {
	for _, mt := range MessageTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// UnmarshalText rejects undeclared message types.
func (t *MessageType) UnmarshalText(b []byte) error {
	mt := MessageType(b)
	if !mt.Valid() {
		return fmt.Errorf("unknown message type %q", string(b))
	}
	*t = mt
	return nil
}

// ErrorCode is the machine-readable code carried in a task.error payload.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"
	ErrCapabilityNotFound    ErrorCode = "CAPABILITY_NOT_FOUND"
	ErrInputValidationFailed ErrorCode = "INPUT_VALIDATION_FAILED"
	ErrTaskTimeout           ErrorCode = "TASK_TIMEOUT"
	ErrRateLimited           ErrorCode = "RATE_LIMITED"
	ErrUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrForbidden             ErrorCode = "FORBIDDEN"
	ErrInternal              ErrorCode = "INTERNAL_ERROR"
	ErrCostExceeded          ErrorCode = "COST_EXCEEDED"
)

// TaskRequestPayload is the payload of a task.request envelope.
type TaskRequestPayload struct {
	Capability  string         `json:"capability"`
	Input       map[string]any `json:"input"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// TaskErrorPayload is the payload of a task.error envelope.
type TaskErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// TaskError is returned by a Handler to answer with a specific error code.
// Any other handler error is reported as INTERNAL_ERROR.
type TaskError struct {
	Code    ErrorCode
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Payload converts the error into its wire payload.
func (e *TaskError) Payload() TaskErrorPayload {
	return TaskErrorPayload{Code: e.Code, Message: e.Message}
}

// SearchResult is one match returned by a registry search. It is a read-only
// projection owned by the caller.
type SearchResult struct {
	AgentID    string   `json:"agentId"`
	AgentName  string   `json:"agentName"`
	Capability string   `json:"capability"`
	Endpoint   string   `json:"endpoint"`
	TrustScore float64  `json:"trustScore"`
	Pricing    *Pricing `json:"pricing,omitempty"`
	LastSeen   string   `json:"lastSeen,omitempty"`
}

// marshalJSON encodes v without HTML escaping so that canonical bytes match
// what other protocol implementations produce.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	// Encoder appends a newline.
	return b[:len(b)-1], nil
}
