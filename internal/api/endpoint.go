package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint is one server operation: the HTTP route that serves it and the
// `underwrite api` command that calls it.
type Endpoint interface {
	// Route returns the HTTP method, path pattern and handler. The pattern
	// uses net/http wildcards, read back with r.PathValue.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the document store,
	// engine and hub. Such routes answer 503 until the server has loaded
	// its documents.
	RequiresInit() bool

	// Command returns the CLI command for this endpoint. getServerURL is
	// read when the command runs, after flags are parsed.
	Command(getServerURL func() string) *cobra.Command
}
