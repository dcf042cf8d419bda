package main

import (
	"errors"
	"testing"

	"github.com/jackzampolin/underwrite/internal/defra"
	"github.com/jackzampolin/underwrite/internal/schema"
)

func TestDescribeDefra(t *testing.T) {
	schemas := []schema.Schema{{Name: "UnderwritingDocument"}, {Name: "StageMetric"}}

	tests := []struct {
		name        string
		backend     string
		container   defra.ContainerStatus
		healthErr   error
		wantURL     string
		wantHealthy bool
		wantError   string
		wantHint    string
	}{
		{name: "running and healthy", backend: "defra", container: defra.StatusRunning, wantURL: "http://localhost:9181", wantHealthy: true},
		{name: "running but unhealthy", backend: "defra", container: defra.StatusRunning, healthErr: errors.New("connection refused"), wantURL: "http://localhost:9181", wantError: "connection refused"},
		{name: "stopped", backend: "defra", container: defra.StatusStopped, wantHint: "underwrite defra start"},
		{name: "missing", backend: "defra", container: defra.StatusNotFound, wantHint: "underwrite defra start --wait 1m --schema"},
		{name: "other backend", backend: "memory", container: defra.StatusStopped, wantHint: `store.backend is "memory"; the server does not use this container`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := describeDefra(tt.backend, tt.container, "http://localhost:9181", tt.healthErr, schemas)
			if st.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", st.URL, tt.wantURL)
			}
			if st.Healthy != tt.wantHealthy {
				t.Errorf("Healthy = %v, want %v", st.Healthy, tt.wantHealthy)
			}
			if st.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", st.Error, tt.wantError)
			}
			if st.Hint != tt.wantHint {
				t.Errorf("Hint = %q, want %q", st.Hint, tt.wantHint)
			}
			if len(st.Collections) != 2 || st.Collections[0] != "UnderwritingDocument" {
				t.Errorf("Collections = %v", st.Collections)
			}
		})
	}
}
