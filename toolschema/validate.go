// Package toolschema validates a tool call's raw JSON arguments against its
// Tool.InputSchema() before the AgentLoop dispatches it (SPEC_FULL.md §B),
// so a malformed tool call from the model surfaces as an ordinary is_error
// tool result rather than reaching Tool.Execute. Grounded verbatim on
// goadesign-goa-ai/registry/service.go's validatePayloadJSONAgainstSchema:
// same github.com/santhosh-tekuri/jsonschema/v6 Compiler/AddResource/Compile
// sequence, with a schema cache added (per haasonsaas-nexus/pkg/pluginsdk/
// validation.go) since a tool's schema is compiled once but validated against
// many calls over an Agent's lifetime.
package toolschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	cacheMu sync.Mutex
	cache   = map[string]*jsonschema.Schema{}
)

// Validate checks args (a raw JSON object) against schema (a Go value
// produced by a Tool.InputSchema() implementation, typically a
// map[string]any or a []byte of already-marshaled JSON Schema). A nil or
// empty schema is treated as "no constraint" and always validates.
func Validate(toolName string, schema any, args []byte) error {
	compiled, err := compile(toolName, schema)
	if err != nil {
		return fmt.Errorf("toolschema: compile %s: %w", toolName, err)
	}
	if compiled == nil {
		return nil
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("toolschema: unmarshal arguments for %s: %w", toolName, err)
	}

	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("toolschema: %s: %w", toolName, err)
	}
	return nil
}

func compile(toolName string, schema any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	schemaJSON, err := toJSONDoc(schema)
	if err != nil {
		return nil, err
	}
	if schemaJSON == nil {
		return nil, nil
	}

	key := toolName + ":" + string(mustMarshal(schemaJSON))
	cacheMu.Lock()
	if s, ok := cache[key]; ok {
		cacheMu.Unlock()
		return s, nil
	}
	cacheMu.Unlock()

	c := jsonschema.NewCompiler()
	resourceID := "tool:" + toolName
	if err := c.AddResource(resourceID, schemaJSON); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	cacheMu.Lock()
	cache[key] = compiled
	cacheMu.Unlock()
	return compiled, nil
}

// toJSONDoc normalizes a Tool.InputSchema() return value (a raw []byte of
// JSON, a json.RawMessage, or an already-decoded map/struct) to the "any"
// shape jsonschema.Compiler.AddResource expects.
func toJSONDoc(schema any) (any, error) {
	switch v := schema.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		var doc any
		if err := json.Unmarshal(v, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal schema: %w", err)
		}
		return doc, nil
	case json.RawMessage:
		return toJSONDoc([]byte(v))
	default:
		return schema, nil
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
