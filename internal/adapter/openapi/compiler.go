// Package openapi compiles OpenAPI descriptions into tool definitions and
// validates parameter bags against the compiled input schemas.
package openapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/tracer"
)

// compiledMethods lists the verbs that become tools, in emission order.
var compiledMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// Compiler turns an OpenAPI document into tool definitions. It holds no
// state between calls.
type Compiler struct {
	logger *slog.Logger
}

// NewCompiler creates a Compiler.
func NewCompiler(logger *slog.Logger) *Compiler {
	return &Compiler{logger: logger.With("component", "compiler")}
}

// Compile emits one ToolDefinition per GET, POST, PUT, DELETE and PATCH
// operation. Paths are visited in lexical order so repeated runs yield
// identical output. Operations that cannot be converted are skipped and
// logged; doc itself is never modified.
func (c *Compiler) Compile(ctx context.Context, doc *openapi3.T) ([]domain.ToolDefinition, error) {
	_, span := tracer.StartSpan(ctx, "openapi.compile")
	defer span.End()

	if doc == nil {
		err := domain.NewDomainError("Compiler.Compile", domain.ErrCompile, "nil document")
		tracer.RecordError(span, err)
		return nil, err
	}
	if doc.Paths == nil {
		tracer.SetOK(span)
		return nil, nil
	}

	items := doc.Paths.Map()
	paths := make([]string, 0, len(items))
	for p := range items {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var defs []domain.ToolDefinition
	used := make(map[string]int)
	skipped := 0

	for _, path := range paths {
		item := items[path]
		if item == nil {
			continue
		}
		for _, method := range compiledMethods {
			op := item.GetOperation(method)
			if op == nil {
				continue
			}
			def, err := c.compileOperation(path, method, item, op)
			if err != nil {
				skipped++
				c.logger.Warn("skipping operation", "method", method, "path", path, "error", err)
				continue
			}
			if name := uniqueName(def.Name, used); name != def.Name {
				c.logger.Warn("duplicate tool name renamed", "method", method, "path", path, "from", def.Name, "to", name)
				def.Name = name
			}
			defs = append(defs, def)
		}
	}

	span.SetAttributes(
		tracer.IntAttr("openapi.tools", len(defs)),
		tracer.IntAttr("openapi.skipped", skipped),
	)
	tracer.SetOK(span)
	c.logger.Info("compiled tool catalog", "tools", len(defs), "skipped", skipped)
	return defs, nil
}

// uniqueName appends _2, _3, ... when name was already emitted.
func uniqueName(name string, used map[string]int) string {
	used[name]++
	if used[name] == 1 {
		return name
	}
	for {
		candidate := fmt.Sprintf("%s_%d", name, used[name])
		if used[candidate] == 0 {
			used[candidate] = 1
			return candidate
		}
		used[name]++
	}
}

func (c *Compiler) compileOperation(path, method string, item *openapi3.PathItem, op *openapi3.Operation) (domain.ToolDefinition, error) {
	if !balancedTemplate(path) {
		return domain.ToolDefinition{}, fmt.Errorf("%w: malformed path template %q", domain.ErrCompile, path)
	}
	log := c.logger.With("method", method, "path", path)

	input := &domain.Schema{
		Type:                 domain.TypeObject,
		Properties:           map[string]*domain.Schema{},
		AdditionalProperties: boolPtr(false),
	}
	binding := domain.Binding{
		Method:     method,
		Path:       path,
		PathParams: PathParams(path),
		BodyMode:   domain.BodyNone,
	}

	addProperty := func(name string, s *domain.Schema, required bool) {
		if _, exists := input.Properties[name]; exists {
			return
		}
		input.Properties[name] = s
		if required {
			input.Required = append(input.Required, name)
		}
	}

	params, err := mergeParameters(item.Parameters, op.Parameters)
	if err != nil {
		return domain.ToolDefinition{}, err
	}

	// Path parameters are always required strings, declared or not.
	for _, name := range binding.PathParams {
		s := &domain.Schema{Type: domain.TypeString}
		if p := findParameter(params, openapi3.ParameterInPath, name); p != nil {
			s.Description = p.Description
			if p.Schema != nil && p.Schema.Value != nil {
				converted := convertSchema(p.Schema, log)
				s.Enum = stringEnum(converted.Enum)
				s.Pattern = converted.Pattern
				if s.Description == "" {
					s.Description = converted.Description
				}
			}
		}
		addProperty(name, s, true)
	}

	for _, p := range params {
		switch p.In {
		case openapi3.ParameterInQuery:
			binding.QueryParams = append(binding.QueryParams, p.Name)
		case openapi3.ParameterInHeader:
			binding.HeaderParams = append(binding.HeaderParams, p.Name)
		default:
			continue
		}
		s := convertSchema(p.Schema, log)
		if s.Description == "" {
			s.Description = p.Description
		}
		addProperty(p.Name, s, p.Required)
	}

	if body := requestBodySchema(op); body != nil {
		converted := convertSchema(body.schema, log)
		binding.BodySchema = converted
		if converted.HasProperties() {
			binding.BodyMode = domain.BodyFlattened
			for _, name := range sortedKeys(converted.Properties) {
				addProperty(name, converted.Properties[name], converted.IsRequired(name))
			}
		} else {
			binding.BodyMode = domain.BodyWrapped
			addProperty(domain.ParamBody, converted, body.required)
		}
	}

	binding.ResponseSchema = successResponseSchema(op, log)

	return domain.ToolDefinition{
		Name:        toolName(op.OperationID, method, path),
		Description: describe(op, method, path),
		InputSchema: input,
		Binding:     binding,
	}, nil
}

// mergeParameters overlays operation parameters on path-item parameters,
// keyed by (in, name). Declaration order is kept.
func mergeParameters(itemParams, opParams openapi3.Parameters) ([]*openapi3.Parameter, error) {
	type key struct{ in, name string }
	index := map[key]int{}
	var out []*openapi3.Parameter

	for _, group := range []openapi3.Parameters{itemParams, opParams} {
		for _, ref := range group {
			if ref == nil || ref.Value == nil {
				return nil, fmt.Errorf("%w: unresolved parameter reference", domain.ErrCompile)
			}
			p := ref.Value
			if p.Name == "" {
				return nil, fmt.Errorf("%w: parameter without name", domain.ErrCompile)
			}
			k := key{p.In, p.Name}
			if i, ok := index[k]; ok {
				out[i] = p
				continue
			}
			index[k] = len(out)
			out = append(out, p)
		}
	}
	return out, nil
}

func findParameter(params []*openapi3.Parameter, in, name string) *openapi3.Parameter {
	for _, p := range params {
		if p.In == in && p.Name == name {
			return p
		}
	}
	return nil
}

type bodySchema struct {
	schema   *openapi3.SchemaRef
	required bool
}

// requestBodySchema prefers application/json and otherwise takes the
// first media type in lexical order.
func requestBodySchema(op *openapi3.Operation) *bodySchema {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	rb := op.RequestBody.Value
	mt := pickMediaType(rb.Content)
	if mt == nil || mt.Schema == nil {
		return nil
	}
	return &bodySchema{schema: mt.Schema, required: rb.Required}
}

// successResponseSchema returns the schema of the lowest 2xx response
// with a body, if any.
func successResponseSchema(op *openapi3.Operation, log *slog.Logger) *domain.Schema {
	if op.Responses == nil {
		return nil
	}
	responses := op.Responses.Map()
	for _, code := range sortedKeys(responses) {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		ref := responses[code]
		if ref == nil || ref.Value == nil {
			continue
		}
		if mt := pickMediaType(ref.Value.Content); mt != nil && mt.Schema != nil {
			return convertSchema(mt.Schema, log)
		}
	}
	return nil
}

func pickMediaType(content openapi3.Content) *openapi3.MediaType {
	if len(content) == 0 {
		return nil
	}
	if mt := content.Get("application/json"); mt != nil {
		return mt
	}
	return content[sortedKeys(content)[0]]
}

// describe renders the model-facing description: summary, falling back
// to the first line of the description, then the literal binding.
func describe(op *openapi3.Operation, method, path string) string {
	text := strings.TrimSpace(op.Summary)
	if text == "" {
		text, _, _ = strings.Cut(strings.TrimSpace(op.Description), "\n")
		text = strings.TrimSpace(text)
	}
	binding := method + " " + path
	if text == "" {
		return binding
	}
	return text + " (" + binding + ")"
}

func stringEnum(values []any) []any {
	if len(values) == 0 {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = domain.Stringify(v)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
