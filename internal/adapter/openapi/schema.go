package openapi

import (
	"log/slog"
	"regexp"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"toolbridge/internal/domain"
)

var knownTypes = map[string]bool{
	domain.TypeString:  true,
	domain.TypeNumber:  true,
	domain.TypeInteger: true,
	domain.TypeBoolean: true,
	domain.TypeArray:   true,
	domain.TypeObject:  true,
}

// convertSchema translates an OpenAPI schema into the tool schema subset.
// Nested objects and arrays are converted recursively. Recursive $ref
// cycles are cut at the repeated schema, which becomes a bare object.
// Patterns that Go's regexp cannot compile are dropped with a warning.
func convertSchema(ref *openapi3.SchemaRef, logger *slog.Logger) *domain.Schema {
	c := &converter{visiting: map[*openapi3.Schema]bool{}, logger: logger}
	return c.convert(ref)
}

type converter struct {
	visiting map[*openapi3.Schema]bool
	logger   *slog.Logger
}

func (c *converter) convert(ref *openapi3.SchemaRef) *domain.Schema {
	if ref == nil || ref.Value == nil {
		return &domain.Schema{Type: domain.TypeString}
	}
	src := ref.Value
	if c.visiting[src] {
		return &domain.Schema{Type: domain.TypeObject, Description: src.Description}
	}
	c.visiting[src] = true
	defer delete(c.visiting, src)

	out := &domain.Schema{
		Type:        schemaType(src),
		Description: src.Description,
		Format:      src.Format,
		Pattern:     c.pattern(src.Pattern),
		Minimum:     src.Min,
		Maximum:     src.Max,
		MaxLength:   src.MaxLength,
	}
	if len(src.Enum) > 0 {
		out.Enum = append([]any(nil), src.Enum...)
	}
	if src.MinLength > 0 {
		minLen := src.MinLength
		out.MinLength = &minLen
	}

	switch out.Type {
	case domain.TypeObject:
		props, required := c.objectMembers(src)
		if len(props) > 0 {
			out.Properties = props
		}
		out.Required = required
	case domain.TypeArray:
		if src.Items != nil {
			out.Items = c.convert(src.Items)
		}
	}
	return out
}

// pattern returns p if the validators can compile it. OpenAPI documents
// use ECMA-262 syntax, which allows constructs such as lookahead that Go's
// RE2 engine rejects.
func (c *converter) pattern(p string) string {
	if p == "" {
		return ""
	}
	if _, err := regexp.Compile(p); err != nil {
		if c.logger != nil {
			c.logger.Warn("dropping unsupported pattern", "pattern", p, "error", err)
		}
		return ""
	}
	return p
}

// objectMembers collects properties and required names, folding in allOf
// members so composed request bodies flatten like plain ones.
func (c *converter) objectMembers(src *openapi3.Schema) (map[string]*domain.Schema, []string) {
	props := make(map[string]*domain.Schema, len(src.Properties))
	var required []string
	seen := map[string]bool{}

	addRequired := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				required = append(required, n)
			}
		}
	}

	for _, name := range sortedKeys(src.Properties) {
		props[name] = c.convert(src.Properties[name])
	}
	addRequired(src.Required)

	for _, part := range src.AllOf {
		if part == nil || part.Value == nil || c.visiting[part.Value] {
			continue
		}
		c.visiting[part.Value] = true
		partProps, partRequired := c.objectMembers(part.Value)
		delete(c.visiting, part.Value)
		for name, p := range partProps {
			if _, exists := props[name]; !exists {
				props[name] = p
			}
		}
		addRequired(partRequired)
	}
	return props, required
}

// schemaType picks the first non-null declared type. Schemas that only
// declare properties or allOf are objects; anything else unknown is a string.
func schemaType(s *openapi3.Schema) string {
	if s.Type != nil {
		for _, t := range *s.Type {
			if t == "null" {
				continue
			}
			if knownTypes[t] {
				return t
			}
			return domain.TypeString
		}
	}
	if len(s.Properties) > 0 || len(s.AllOf) > 0 {
		return domain.TypeObject
	}
	if s.Items != nil {
		return domain.TypeArray
	}
	return domain.TypeString
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
