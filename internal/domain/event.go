package domain

import "time"

// EventType identifies the kind of stream event delivered to the client.
type EventType string

const (
	EventStart         EventType = "start"
	EventContent       EventType = "content"
	EventToolCallStart EventType = "tool_call_start"
	EventToolExecuting EventType = "tool_executing"
	EventToolResult    EventType = "tool_result"
	EventToolError     EventType = "tool_error"
	EventEnd           EventType = "end"
	EventError         EventType = "error"
)

// Terminal reports whether no further events follow t in a turn.
func (t EventType) Terminal() bool {
	return t == EventEnd || t == EventError
}

// StreamEvent is one named, ordered event of a conversation turn.
type StreamEvent struct {
	Type    EventType `json:"type"`
	TurnID  string    `json:"turnId"`
	Seq     int       `json:"seq"`
	Payload any       `json:"payload"`
}

// StartPayload is the payload of EventStart.
type StartPayload struct {
	TurnID    string    `json:"turnId"`
	Timestamp time.Time `json:"timestamp"`
}

// ContentPayload is the payload of EventContent.
type ContentPayload struct {
	Content string `json:"content"`
}

// ToolCallPayload is the payload of EventToolCallStart and EventToolExecuting.
type ToolCallPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolResultPayload is the payload of EventToolResult. A failed execution
// is reported with Success false and Error set.
type ToolResultPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Status  int    `json:"status,omitempty"`
	TimeMs  int64  `json:"timeMs"`
	Error   string `json:"error,omitempty"`
}

// ToolErrorPayload is the payload of EventToolError.
type ToolErrorPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// EndPayload is the payload of EventEnd.
type EndPayload struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is the payload of EventError.
type ErrorPayload struct {
	Error string    `json:"error"`
	Code  ErrorCode `json:"code"`
}
