package openapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/maypok86/otter"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"toolbridge/internal/domain"
)

// DefaultValidatorCapacity bounds the number of compiled schemas kept.
const DefaultValidatorCapacity = 1024

// Validator checks parameter bags against tool input schemas. Compiled
// schemas are cached by tool name and schema digest, so a reloaded catalog
// never reuses a stale validator.
type Validator struct {
	cache  otter.Cache[string, *jsonschema.Schema]
	logger *slog.Logger
}

// NewValidator creates a Validator holding at most capacity compiled schemas.
func NewValidator(logger *slog.Logger, capacity int) (*Validator, error) {
	if capacity <= 0 {
		capacity = DefaultValidatorCapacity
	}
	cache, err := otter.MustBuilder[string, *jsonschema.Schema](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("build validator cache: %w", err)
	}
	return &Validator{cache: cache, logger: logger.With("component", "validator")}, nil
}

// Close releases the cache.
func (v *Validator) Close() {
	v.cache.Close()
}

// Validate reports whether params satisfy the tool's input schema. It
// never fails across the boundary; rejections are logged at debug level.
func (v *Validator) Validate(tool domain.ToolDefinition, params domain.Params) bool {
	if err := v.ValidateDetail(tool, params); err != nil {
		v.logger.Debug("parameters rejected", "tool", tool.Name, "error", err)
		return false
	}
	return true
}

// ValidateDetail is Validate with the reason. Failures wrap
// domain.ErrInvalidInput.
func (v *Validator) ValidateDetail(tool domain.ToolDefinition, params domain.Params) error {
	const op = "Validator.Validate"

	schema, err := v.schemaFor(tool)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}

	instance, err := normalize(stripReserved(tool.InputSchema, params))
	if err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}
	if err := schema.Validate(instance); err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, validationMessage(err))
	}
	return nil
}

func (v *Validator) schemaFor(tool domain.ToolDefinition) (*jsonschema.Schema, error) {
	raw := tool.Schema().Parameters
	sum := sha256.Sum256(raw)
	key := tool.Name + "@" + hex.EncodeToString(sum[:8])

	if s, ok := v.cache.Get(key); ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", tool.Name, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", tool.Name, err)
	}
	v.cache.Set(key, compiled)
	return compiled, nil
}

// stripReserved drops the credential and header keys, and an undeclared
// body, which the engine consumes outside the schema.
func stripReserved(schema *domain.Schema, params domain.Params) domain.Params {
	out := make(domain.Params, len(params))
	for k, val := range params {
		switch k {
		case domain.ParamAuthorization, domain.ParamToken, domain.ParamHeaders:
			continue
		case domain.ParamBody:
			if schema == nil || schema.Properties[domain.ParamBody] == nil {
				continue
			}
		}
		out[k] = val
	}
	return out
}

// normalize round-trips params through JSON so the validator only sees
// decoded JSON values.
func normalize(params domain.Params) (any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return instance, nil
}

// validationMessage flattens the validator's error tree into its leaf
// causes, which name the offending field.
func validationMessage(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(leaves) == 0 {
		return ve.Error()
	}
	msg := leaves[0]
	for _, l := range leaves[1:] {
		msg += "; " + l
	}
	return msg
}
