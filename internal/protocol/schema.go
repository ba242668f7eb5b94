package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateToolSchema compiles schemaBytes as a JSON Schema document,
// rejecting a tool definition whose input_schema is not itself valid JSON
// Schema before it ever reaches a model call.
func ValidateToolSchema(schemaBytes json.RawMessage) error {
	if len(schemaBytes) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(schemaBytes, &doc); err != nil {
		return fmt.Errorf("unmarshal input_schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("input_schema.json", doc); err != nil {
		return fmt.Errorf("add input_schema resource: %w", err)
	}
	if _, err := c.Compile("input_schema.json"); err != nil {
		return fmt.Errorf("compile input_schema: %w", err)
	}
	return nil
}

// ValidateToolInput validates input against a tool's compiled input_schema,
// returning an error when the input's shape does not match what the tool
// declared.
func ValidateToolInput(schemaBytes json.RawMessage, input json.RawMessage) error {
	if len(schemaBytes) == 0 {
		return nil
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal input_schema: %w", err)
	}
	var inputDoc any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &inputDoc); err != nil {
			return fmt.Errorf("unmarshal tool input: %w", err)
		}
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("input_schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add input_schema resource: %w", err)
	}
	schema, err := c.Compile("input_schema.json")
	if err != nil {
		return fmt.Errorf("compile input_schema: %w", err)
	}
	return schema.Validate(inputDoc)
}
