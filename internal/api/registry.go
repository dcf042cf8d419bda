package api

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
	routes    map[string]bool
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]bool)}
}

// Register adds an endpoint to the registry. Registering two endpoints for
// the same method and path is a programming error and panics.
func (r *Registry) Register(ep Endpoint) {
	method, path, _ := ep.Route()
	key := method + " " + path
	if r.routes[key] {
		panic(fmt.Sprintf("api: duplicate route %s", key))
	}
	r.routes[key] = true
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns the `api` command with one subcommand per endpoint.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running underwrite server via HTTP.

These commands require a running server (underwrite serve).
Use --server to specify a custom server URL.

Examples:
  underwrite api health                  # Check server health
  underwrite api list                    # List documents
  underwrite api get <id>                # Get one document
  underwrite api watch -o jsonl          # Stream the dashboard as JSON lines`,
	}

	for _, ep := range r.endpoints {
		apiCmd.AddCommand(ep.Command(getServerURL))
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
