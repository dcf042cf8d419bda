package schema

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed schemas/*.graphql
var schemaFS embed.FS

// Collection names.
const (
	Document    = "UnderwritingDocument"
	StageMetric = "StageMetric"
)

// Schema is one DefraDB collection definition.
type Schema struct {
	Name string
	SDL  string
}

// registry lists collections in the order they are applied.
var registry = []string{Document, StageMetric}

// All returns every schema in application order.
func All() ([]Schema, error) {
	out := make([]Schema, 0, len(registry))
	for _, name := range registry {
		s, err := Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// Get returns the schema for one collection.
func Get(name string) (*Schema, error) {
	for _, n := range registry {
		if n != name {
			continue
		}
		content, err := schemaFS.ReadFile("schemas/" + strings.ToLower(name) + ".graphql")
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		return &Schema{Name: name, SDL: string(content)}, nil
	}
	return nil, fmt.Errorf("schema not found: %s", name)
}
