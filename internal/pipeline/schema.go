package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileSchema compiles a stage's output schema. A stage without a schema
// accepts any JSON value.
func compileSchema(stage string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	url := stage + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("stage %s: add schema: %w", stage, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("stage %s: compile schema: %w", stage, err)
	}
	return schema, nil
}

func validate(stage string, schema *jsonschema.Schema, output json.RawMessage) error {
	if len(output) == 0 {
		return fmt.Errorf("%w: %s: empty output", ErrSchemaInvalid, stage)
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(output))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaInvalid, stage, err)
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaInvalid, stage, err)
	}
	return nil
}
