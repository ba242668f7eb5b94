package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateToolSchemaAcceptsEmptyAndValidSchemas(t *testing.T) {
	assert.NoError(t, ValidateToolSchema(nil))
	assert.NoError(t, ValidateToolSchema(json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)))
}

func TestValidateToolSchemaRejectsMalformedMetaSchema(t *testing.T) {
	err := ValidateToolSchema(json.RawMessage(`{"type":123}`))
	assert.Error(t, err)
}

func TestValidateToolSchemaRejectsInvalidJSON(t *testing.T) {
	err := ValidateToolSchema(json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestValidateToolInputAcceptsMatchingPayload(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	err := ValidateToolInput(schema, json.RawMessage(`{"city":"nyc"}`))
	assert.NoError(t, err)
}

func TestValidateToolInputRejectsMissingRequiredField(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	err := ValidateToolInput(schema, json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestValidateToolInputSkipsWhenNoSchemaDeclared(t *testing.T) {
	assert.NoError(t, ValidateToolInput(nil, json.RawMessage(`{"anything":"goes"}`)))
}
