package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Sentinel errors for the pipeline package.
var (
	// ErrStageAlreadyRegistered is returned when two descriptors share a name.
	ErrStageAlreadyRegistered = errors.New("stage already registered")

	// ErrStageNotFound is returned when a stage reference does not resolve.
	ErrStageNotFound = errors.New("stage not found")

	// ErrDependencyOrder is returned when a stage consumes a stage at or after its own position.
	ErrDependencyOrder = errors.New("stage consumes a later stage")

	// ErrNoExecutor is returned when a descriptor has no executor.
	ErrNoExecutor = errors.New("stage has no executor")

	// ErrSchemaInvalid is returned when an output does not satisfy the stage schema.
	ErrSchemaInvalid = errors.New("output does not match stage schema")

	// ErrInputMissing is returned when a stage input cannot be resolved.
	ErrInputMissing = errors.New("stage input missing")
)

// Table is the ordered, immutable list of stages. It is safe for concurrent use.
type Table struct {
	stages  []Descriptor
	index   map[string]int
	schemas []*jsonschema.Schema
}

// NewTable builds a table from descriptors in execution order.
// Every consumed stage must appear earlier in the list.
func NewTable(descs ...Descriptor) (*Table, error) {
	t := &Table{
		stages:  make([]Descriptor, 0, len(descs)),
		index:   make(map[string]int, len(descs)),
		schemas: make([]*jsonschema.Schema, 0, len(descs)),
	}

	for i, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if _, exists := t.index[d.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrStageAlreadyRegistered, d.Name)
		}
		if d.Executor == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoExecutor, d.Name)
		}

		for _, dep := range d.InputFields {
			j, ok := t.index[dep]
			if ok && j < i {
				continue
			}
			if contains(descs, dep) {
				return nil, fmt.Errorf("%w: %q consumes %q", ErrDependencyOrder, d.Name, dep)
			}
			return nil, fmt.Errorf("%w: %q consumes %q", ErrStageNotFound, d.Name, dep)
		}

		schema, err := compileSchema(d.Name, d.Schema)
		if err != nil {
			return nil, err
		}

		d.Ordinal = i
		if d.DisplayName == "" {
			d.DisplayName = d.Name
		}
		if d.OutputField == "" {
			d.OutputField = d.Name
		}
		d.InputFields = append([]string(nil), d.InputFields...)
		d.DocumentFields = append([]string(nil), d.DocumentFields...)

		t.stages = append(t.stages, d)
		t.schemas = append(t.schemas, schema)
		t.index[d.Name] = i
	}

	return t, nil
}

func contains(descs []Descriptor, name string) bool {
	for _, d := range descs {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Len returns the number of stages.
func (t *Table) Len() int {
	return len(t.stages)
}

// At returns the descriptor at position i.
func (t *Table) At(i int) (Descriptor, bool) {
	if i < 0 || i >= len(t.stages) {
		return Descriptor{}, false
	}
	return t.stages[i], true
}

// Index returns the position of the named stage.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Lookup resolves a stage reference, either a decimal index or a stage name.
func (t *Table) Lookup(ref string) (int, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 0 || n >= len(t.stages) {
			return 0, fmt.Errorf("%w: index %d", ErrStageNotFound, n)
		}
		return n, nil
	}
	i, ok := t.index[ref]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStageNotFound, ref)
	}
	return i, nil
}

// Names returns stage names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.stages))
	for i, d := range t.stages {
		names[i] = d.Name
	}
	return names
}

// Descriptors returns a copy of the stage list.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, len(t.stages))
	copy(out, t.stages)
	return out
}

// Validate checks output against the schema of stage i.
func (t *Table) Validate(i int, output json.RawMessage) error {
	if i < 0 || i >= len(t.stages) {
		return fmt.Errorf("%w: index %d", ErrStageNotFound, i)
	}
	return validate(t.stages[i].Name, t.schemas[i], output)
}

// ResolveInput derives the input of stage i from src.
func (t *Table) ResolveInput(i int, src Source) (json.RawMessage, error) {
	d, ok := t.At(i)
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrStageNotFound, i)
	}
	if d.Resolve != nil {
		return d.Resolve(d, src)
	}
	return DefaultResolve(d, src)
}
