package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docsplit server",
	Long: `Start the docsplit HTTP server.

With database.managed set (the default) this also starts a local Postgres
container and stops it again when the server shuts down (Ctrl+C or SIGTERM).
Set database.driver to memory and storage.driver to memory to run without
Docker or S3.

The server provides:
  - /health      - Basic server health check
  - /ready       - Readiness check (includes database status)
  - /api/...     - Jobs, segments, exports and uploads
  - /swagger     - API documentation

Examples:
  docsplit serve                    # Start on the configured port
  docsplit serve --port 3000        # Start on custom port
  docsplit serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		h, err := getHome()
		if err != nil {
			return err
		}

		cm, err := loadConfig(h)
		if err != nil {
			return err
		}
		if f := cm.ConfigFile(); f != "" {
			logger.Info("loaded config", "file", f)
			cm.WatchConfig()
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: cm,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port)")

	rootCmd.AddCommand(serveCmd)
}
