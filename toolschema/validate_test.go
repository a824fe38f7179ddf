package toolschema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conversant-ai/agentcore/toolschema"
)

var searchSchema = map[string]any{
	"type":     "object",
	"required": []any{"query"},
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
	},
}

func TestValidateAcceptsConformingArguments(t *testing.T) {
	err := toolschema.Validate("search", searchSchema, []byte(`{"query":"golang"}`))
	assert.NoError(t, err)
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	err := toolschema.Validate("search", searchSchema, []byte(`{}`))
	assert.Error(t, err)
}

func TestValidateRejectsWrongType(t *testing.T) {
	err := toolschema.Validate("search", searchSchema, []byte(`{"query":42}`))
	assert.Error(t, err)
}

func TestValidateNilSchemaAlwaysPasses(t *testing.T) {
	err := toolschema.Validate("anything", nil, []byte(`{"whatever":true}`))
	assert.NoError(t, err)
}

func TestValidateEmptyArgumentsTreatedAsEmptyObject(t *testing.T) {
	schema := map[string]any{"type": "object"}
	err := toolschema.Validate("noop", schema, nil)
	assert.NoError(t, err)
}

func TestValidateMalformedArgumentsJSON(t *testing.T) {
	err := toolschema.Validate("search", searchSchema, []byte(`not json`))
	assert.Error(t, err)
}

func TestValidateSchemaIsCachedAcrossCalls(t *testing.T) {
	// Repeated calls with the same tool name and schema should not error
	// merely from recompilation; this is primarily a smoke check that the
	// cache path doesn't corrupt state across calls.
	for i := 0; i < 3; i++ {
		err := toolschema.Validate("search", searchSchema, []byte(`{"query":"x"}`))
		assert.NoError(t, err)
	}
}
