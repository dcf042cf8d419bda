// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/underwrite/internal/config"
	"github.com/jackzampolin/underwrite/internal/defra"
	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/hub"
	"github.com/jackzampolin/underwrite/internal/ingest"
	"github.com/jackzampolin/underwrite/internal/metrics"
	"github.com/jackzampolin/underwrite/internal/providers"
	"github.com/jackzampolin/underwrite/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store    *store.Store
	Runner   *engine.Runner
	Hub      *hub.Hub
	Ingest   *ingest.Service
	Registry *providers.Registry
	Metrics  *metrics.Recorder
	Config   *config.Manager
	Logger   *slog.Logger

	// DefraClient is set when documents are kept in DefraDB.
	DefraClient *defra.Client
	// Project renders dashboard records. Nil means hub.DefaultProject.
	Project func(store.Document) any
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the document store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// RunnerFrom extracts the background engine runner from context.
func RunnerFrom(ctx context.Context) *engine.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// HubFrom extracts the live sync hub from context.
func HubFrom(ctx context.Context) *hub.Hub {
	if s := ServicesFrom(ctx); s != nil {
		return s.Hub
	}
	return nil
}

// IngestFrom extracts the ingest service from context.
func IngestFrom(ctx context.Context) *ingest.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingest
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// MetricsFrom extracts the stage metrics recorder from context.
func MetricsFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// DefraClientFrom extracts the DefraDB client from context.
func DefraClientFrom(ctx context.Context) *defra.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.DefraClient
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ProjectFrom returns the dashboard projection from context.
func ProjectFrom(ctx context.Context) func(store.Document) any {
	if s := ServicesFrom(ctx); s != nil && s.Project != nil {
		return s.Project
	}
	return hub.DefaultProject
}
