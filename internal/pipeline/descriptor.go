package pipeline

import (
	"encoding/json"
	"fmt"
)

// Descriptor describes one stage of the pipeline. Descriptors are immutable
// once handed to NewTable.
type Descriptor struct {
	// Name is the stable identifier, e.g. "industry_code".
	Name string
	// DisplayName is shown to observers while the stage runs.
	DisplayName string
	// Ordinal is the stage's position in the table. Assigned by NewTable.
	Ordinal int

	// InputFields names the earlier stages whose outputs this stage consumes.
	InputFields []string
	// DocumentFields names document metadata fields this stage consumes
	// (e.g. "body", "subject").
	DocumentFields []string

	// OutputField is the key the output is surfaced under.
	OutputField string
	// ExplanationField is empty for stages that do not explain themselves.
	ExplanationField string

	// Schema is the JSON Schema every output of this stage must satisfy.
	Schema json.RawMessage

	// Resolve derives the stage input from prior state. Nil uses DefaultResolve.
	Resolve Resolver

	Executor Executor
}

// Explains reports whether the stage records an explanation.
func (d Descriptor) Explains() bool {
	return d.ExplanationField != ""
}

// Source is the state an input is resolved from: the document's metadata
// fields and the outputs of stages already executed, keyed by stage name.
type Source struct {
	Fields  map[string]string
	Outputs map[string]json.RawMessage
}

// Resolver derives a stage's input from a Source. Resolvers must be
// deterministic: the same Source always yields the same input.
type Resolver func(d Descriptor, src Source) (json.RawMessage, error)

// DefaultResolve builds a JSON object with one key per input: each consumed
// stage contributes its full output, each document field its string value.
func DefaultResolve(d Descriptor, src Source) (json.RawMessage, error) {
	in := make(map[string]any, len(d.InputFields)+len(d.DocumentFields))

	for _, name := range d.DocumentFields {
		v, ok := src.Fields[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s needs document field %q", ErrInputMissing, d.Name, name)
		}
		in[name] = v
	}

	for _, name := range d.InputFields {
		out, ok := src.Outputs[name]
		if !ok || len(out) == 0 {
			return nil, fmt.Errorf("%w: %s needs output of %q", ErrInputMissing, d.Name, name)
		}
		in[name] = out
	}

	return json.Marshal(in)
}

// Output decodes the named stage output from src into v.
func (src Source) Output(stage string, v any) error {
	raw, ok := src.Outputs[stage]
	if !ok || len(raw) == 0 {
		return fmt.Errorf("%w: output of %q", ErrInputMissing, stage)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode output of %q: %w", stage, err)
	}
	return nil
}
