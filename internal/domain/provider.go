package domain

import "context"

// Stop reasons reported by a provider at the end of a round.
const (
	StopEnd       = "stop"
	StopToolCalls = "tool_calls"
	StopLength    = "length"
)

// ToolCallDelta is a fragment of a tool call. The first fragment for an
// index carries ID and Name; later ones carry only Arguments.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
type StreamDelta struct {
	Content    string          `json:"content,omitempty"`
	ToolCalls  []ToolCallDelta `json:"tool_calls,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Done       bool            `json:"done,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
	// Err is set on the final delta when the stream broke mid-flight.
	Err error `json:"-"`
}

// StreamingProvider is the model contract the orchestrator depends on.
type StreamingProvider interface {
	// ChatStream sends a request and returns a channel of incremental deltas.
	// The channel is closed when the round ends.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
	// Name returns the provider's identifier (e.g., "openai", "groq").
	Name() string
}
