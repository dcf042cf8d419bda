package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/underwrite/internal/config"
	"github.com/jackzampolin/underwrite/internal/server"
)

var (
	serveHost string
	servePort string
	logLevel  string
	logJSON   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the underwrite server",
	Long: `Start the underwrite HTTP server and document pipeline.

With the defra store backend this also starts the DefraDB container and
stops it again on shutdown (Ctrl+C or SIGTERM). Documents that were being
processed when the server last stopped are resumed.

The server provides:
  - /api/documents      - Upload, list and correct documents
  - /ws/documents       - Live dashboard feed
  - /health, /ready     - Health checks
  - /swagger            - API documentation

Examples:
  underwrite serve                    # Start on the configured port (8080)
  underwrite serve --port 3000        # Start on custom port
  underwrite serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		h, err := getHome()
		if err != nil {
			return err
		}
		release, err := h.ClaimPid()
		if err != nil {
			return err
		}
		defer release()

		if serveHost != "" {
			os.Setenv("UNDERWRITE_SERVER_HOST", serveHost)
		}
		if servePort != "" {
			os.Setenv("UNDERWRITE_SERVER_PORT", servePort)
		}

		cfgMgr, err := config.NewManager(configPath(h), logger)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfgMgr.WatchConfig()

		srv, err := server.New(server.Config{
			ConfigManager:   cfgMgr,
			DefraDataPath:   h.DefraPath(),
			AttachmentsPath: h.AttachmentsPath(),
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (overrides server.port)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	serveCmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	rootCmd.AddCommand(serveCmd)
}
