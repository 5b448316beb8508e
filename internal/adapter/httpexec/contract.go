package httpexec

import (
	"encoding/json"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"toolbridge/internal/domain"
)

// contractChecker validates successful responses against the declared
// response schema. Compiled schemas are kept per tool.
type contractChecker struct {
	mu      sync.Mutex
	schemas map[string]contractEntry
}

type contractEntry struct {
	source *domain.Schema
	schema *jsonschema.Schema
}

func newContractChecker() *contractChecker {
	return &contractChecker{schemas: make(map[string]contractEntry)}
}

// check returns the violations of data, or nil.
func (c *contractChecker) check(tool string, declared *domain.Schema, data any) []string {
	schema, err := c.compiled(tool, declared)
	if err != nil {
		return []string{"invalid response schema: " + err.Error()}
	}
	result := schema.Validate(data)
	if result.IsValid() {
		return nil
	}
	return []string{result.Error()}
}

func (c *contractChecker) compiled(tool string, declared *domain.Schema) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.schemas[tool]; ok && e.source == declared {
		return e.schema, nil
	}
	raw, err := json.Marshal(declared)
	if err != nil {
		return nil, err
	}
	schema, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, err
	}
	c.schemas[tool] = contractEntry{source: declared, schema: schema}
	return schema, nil
}
