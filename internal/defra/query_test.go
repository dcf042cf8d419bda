package defra

import "testing"

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"bae-0a1b2c", false},
		{"3f2504e0-4f89-11d3-9a0c-0305e82c3301", false},
		{"", true},
		{`a" } } mutation {`, true},
		{"a b", true},
	}
	for _, tt := range tests {
		if err := ValidateID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateID(%q) = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestQueryBuilder_Build(t *testing.T) {
	tests := []struct {
		name      string
		build     func() *QueryBuilder
		wantQuery string
		wantVars  map[string]any
	}{
		{
			name:      "bare",
			build:     func() *QueryBuilder { return NewQuery("UnderwritingDocument") },
			wantQuery: `{ UnderwritingDocument { _docID } }`,
		},
		{
			name: "filter order limit",
			build: func() *QueryBuilder {
				return NewQuery("UnderwritingDocument").
					Filter("status", "pending").
					FilterGTE("revision", 2).
					Fields("doc_id", "payload").
					OrderBy("received_at", "DESC").
					Limit(10).
					Offset(20)
			},
			wantQuery: `query($v0: String, $v1: Int) { UnderwritingDocument(filter: {status: {_eq: $v0}, revision: {_ge: $v1}}, order: {received_at: DESC}, limit: 10, offset: 20) { doc_id payload } }`,
			wantVars:  map[string]any{"v0": "pending", "v1": 2},
		},
		{
			name: "in",
			build: func() *QueryBuilder {
				return NewQuery("StageMetric").FilterIn("stage", []string{"a", "b"}).Fields("stage")
			},
			wantQuery: `query($v0: [String!]) { StageMetric(filter: {stage: {_in: $v0}}) { stage } }`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, vars := tt.build().Build()
			if q != tt.wantQuery {
				t.Errorf("query:\n got %s\nwant %s", q, tt.wantQuery)
			}
			for k, v := range tt.wantVars {
				if vars[k] != v {
					t.Errorf("var %s = %v, want %v", k, vars[k], v)
				}
			}
		})
	}
}
