package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BodyMode describes how a request body maps into a tool's input namespace.
type BodyMode string

const (
	BodyNone      BodyMode = "none"
	BodyFlattened BodyMode = "flattened"
	BodyWrapped   BodyMode = "wrapped"
)

// Reserved parameter keys that never reach the request body.
const (
	ParamAuthorization = "authorization"
	ParamToken         = "token"
	ParamHeaders       = "headers"
	ParamBody          = "body"
)

// Binding carries what the execution engine needs to turn a parameter bag
// into an HTTP request.
type Binding struct {
	Method         string   `json:"method"`
	Path           string   `json:"path"`
	PathParams     []string `json:"pathParams,omitempty"`
	QueryParams    []string `json:"queryParams,omitempty"`
	HeaderParams   []string `json:"headerParams,omitempty"`
	BodyMode       BodyMode `json:"bodyMode"`
	BodySchema     *Schema  `json:"bodySchema,omitempty"`
	ResponseSchema *Schema  `json:"responseSchema,omitempty"`
}

// ToolDefinition pairs a callable name with its input schema and HTTP binding.
// Values are produced once per compilation and treated as immutable.
type ToolDefinition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	InputSchema *Schema `json:"inputSchema"`
	Binding     Binding `json:"binding"`
}

// Schema returns the triple advertised to the model.
func (t ToolDefinition) Schema() ToolSchema {
	params, err := json.Marshal(t.InputSchema)
	if err != nil || t.InputSchema == nil {
		params = json.RawMessage(`{"type":"object"}`)
	}
	return ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a completed call as recorded in conversation history.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallRequest is a single invocation of a named tool.
type ToolCallRequest struct {
	Name   string `json:"name"`
	Params Params `json:"params"`
}

// Params is the untyped parameter bag supplied by a model or an API caller.
// Code past the validation boundary reads it through the accessors below.
type Params map[string]any

// Lookup returns the raw value stored under key.
func (p Params) Lookup(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p[key]
	return v, ok
}

// String returns the value under key rendered as a string. Strings are
// returned as-is, JSON numbers without a trailing ".0", everything else
// through fmt.
func (p Params) String(key string) (string, bool) {
	v, ok := p.Lookup(key)
	if !ok || v == nil {
		return "", false
	}
	return Stringify(v), true
}

// Token returns the bearer credential supplied as "token" or "authorization".
// "token" wins when both are present.
func (p Params) Token() string {
	if t, ok := p.String(ParamToken); ok && t != "" {
		return t
	}
	if t, ok := p.String(ParamAuthorization); ok {
		return t
	}
	return ""
}

// Headers returns the caller-supplied "headers" object. Non-object values
// are ignored.
func (p Params) Headers() map[string]string {
	raw, ok := p.Lookup(ParamHeaders)
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Stringify(v)
	}
	return out
}

// Stringify renders a decoded JSON value for use in URLs and headers.
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// BearerToken normalizes a credential to the "Bearer <token>" form. An
// existing prefix is kept, matched case-insensitively.
func BearerToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		return "Bearer " + strings.TrimSpace(token[7:])
	}
	return "Bearer " + token
}
