package defra

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches ids that are safe to interpolate into GraphQL.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID rejects ids that could break out of a GraphQL string.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty ID")
	}
	if len(id) > 500 {
		return fmt.Errorf("ID too long: %d characters", len(id))
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid ID format: contains unsafe characters")
	}
	return nil
}

// QueryBuilder builds collection queries whose filter values travel as
// GraphQL variables rather than inline text.
type QueryBuilder struct {
	collection string
	filters    []filter
	fields     []string
	order      string
	limit      int
	offset     int
}

type filter struct {
	field string
	op    string
	typ   string
	value any
}

// NewQuery starts a query over collection returning only _docID.
func NewQuery(collection string) *QueryBuilder {
	return &QueryBuilder{collection: collection, fields: []string{"_docID"}}
}

// Filter adds an equality filter.
func (q *QueryBuilder) Filter(field string, value any) *QueryBuilder {
	return q.where(field, "_eq", graphQLType(value), value)
}

// FilterIn matches any of values.
func (q *QueryBuilder) FilterIn(field string, values []string) *QueryBuilder {
	return q.where(field, "_in", "[String!]", values)
}

// FilterGTE adds a >= filter.
func (q *QueryBuilder) FilterGTE(field string, value any) *QueryBuilder {
	return q.where(field, "_ge", graphQLType(value), value)
}

func (q *QueryBuilder) where(field, op, typ string, value any) *QueryBuilder {
	q.filters = append(q.filters, filter{field: field, op: op, typ: typ, value: value})
	return q
}

// Fields replaces the returned field list.
func (q *QueryBuilder) Fields(fields ...string) *QueryBuilder {
	q.fields = fields
	return q
}

// OrderBy sets ordering; direction is ASC or DESC.
func (q *QueryBuilder) OrderBy(field, direction string) *QueryBuilder {
	q.order = fmt.Sprintf("{%s: %s}", field, direction)
	return q
}

// Limit caps the number of rows.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset skips rows.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Build returns the query text and its variables.
func (q *QueryBuilder) Build() (string, map[string]any) {
	vars := make(map[string]any, len(q.filters))
	defs := make([]string, 0, len(q.filters))
	conds := make([]string, 0, len(q.filters))

	for i, f := range q.filters {
		name := fmt.Sprintf("v%d", i)
		vars[name] = f.value
		defs = append(defs, fmt.Sprintf("$%s: %s", name, f.typ))
		conds = append(conds, fmt.Sprintf("%s: {%s: $%s}", f.field, f.op, name))
	}

	var args []string
	if len(conds) > 0 {
		args = append(args, "filter: {"+strings.Join(conds, ", ")+"}")
	}
	if q.order != "" {
		args = append(args, "order: "+q.order)
	}
	if q.limit > 0 {
		args = append(args, fmt.Sprintf("limit: %d", q.limit))
	}
	if q.offset > 0 {
		args = append(args, fmt.Sprintf("offset: %d", q.offset))
	}

	var b strings.Builder
	if len(defs) > 0 {
		fmt.Fprintf(&b, "query(%s) ", strings.Join(defs, ", "))
	}
	b.WriteString("{ ")
	b.WriteString(q.collection)
	if len(args) > 0 {
		fmt.Fprintf(&b, "(%s)", strings.Join(args, ", "))
	}
	fmt.Fprintf(&b, " { %s } }", strings.Join(q.fields, " "))

	return b.String(), vars
}

// Execute builds the query and runs it.
func (q *QueryBuilder) Execute(ctx context.Context, client *Client) (*GQLResponse, error) {
	query, vars := q.Build()
	return client.Execute(ctx, query, vars)
}

func graphQLType(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "Int"
	case float32, float64:
		return "Float"
	case bool:
		return "Boolean"
	default:
		return "String"
	}
}
