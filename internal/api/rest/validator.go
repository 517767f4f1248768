package rest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/command-v1.json
var commandSchemaJSON string

type commandValidator struct {
	schema *jsonschema.Schema
}

func newCommandValidator() (*commandValidator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("command-v1.json",
		strings.NewReader(commandSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("command-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &commandValidator{schema: schema}, nil
}

func (v *commandValidator) validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
