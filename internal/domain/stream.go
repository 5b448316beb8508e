package domain

import (
	"encoding/json"
	"strings"
)

// PartialToolCall accumulates one tool call while its arguments arrive in
// fragments. It is parsed once, when the provider stops with
// StopToolCalls, and then discarded.
type PartialToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments strings.Builder
}

// Append adds an argument fragment.
func (c *PartialToolCall) Append(fragment string) {
	c.Arguments.WriteString(fragment)
}

// Parse decodes the accumulated arguments. An empty buffer is an empty
// object.
func (c *PartialToolCall) Parse() (Params, error) {
	raw := strings.TrimSpace(c.Arguments.String())
	if raw == "" {
		return Params{}, nil
	}
	var params Params
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, NewDomainError("PartialToolCall.Parse", ErrToolArguments, err.Error())
	}
	if params == nil {
		return nil, NewDomainError("PartialToolCall.Parse", ErrToolArguments, "arguments are not a JSON object")
	}
	return params, nil
}

// ToolCall returns the completed call as recorded in history.
func (c *PartialToolCall) ToolCall() ToolCall {
	args := strings.TrimSpace(c.Arguments.String())
	if args == "" {
		args = "{}"
	}
	return ToolCall{ID: c.ID, Name: c.Name, Arguments: json.RawMessage(args)}
}
