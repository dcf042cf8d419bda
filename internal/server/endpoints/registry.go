package endpoints

import (
	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	DefraManager *defra.DockerManager
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DefraManager: cfg.DefraManager},

		// Document endpoints
		&UploadEndpoint{},
		&EventEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&MarkSeenEndpoint{},

		// Stage endpoints
		&ListStagesEndpoint{},
		&EditStageEndpoint{},
		&RerunEndpoint{},
		&ContinueEndpoint{},

		// Feeds
		&DashboardFeedEndpoint{},
		&DocumentFeedEndpoint{},

		&MetricsSummaryEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}
