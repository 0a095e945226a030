package main

import (
	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/server/endpoints"
)

var serverURL string

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	registry := api.NewRegistry()
	for _, ep := range endpoints.All() {
		registry.Register(ep)
	}
	apiCmd := registry.BuildCommands(getServerURL)

	// Persistent so all subcommands inherit them
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)
	apiCmd.PersistentFlags().String(
		endpoints.UserFlag, "", "acting user id (default: $DOCSPLIT_USER)",
	)

	rootCmd.AddCommand(apiCmd)
}
