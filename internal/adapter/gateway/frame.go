package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged with WebSocket clients. Event frames carry
// a domain.Notification as payload.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`      // request/response correlation
	Method  string          `json:"method,omitempty"`  // request only
	Payload json.RawMessage `json:"payload,omitempty"` // params, result or notification
	Error   string          `json:"error,omitempty"`   // response only
	Code    string          `json:"code,omitempty"`    // machine-readable error code
}
