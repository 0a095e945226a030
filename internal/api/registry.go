package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
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

// commandGroup returns the resource a route belongs to: the segment after
// /api/, or "" for top-level routes like /health.
func commandGroup(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return ""
	}
	return parts[1]
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Commands are organized by their URL path structure: /api/jobs/... lands
// under "api jobs", while /health and single-route resources such as
// /api/dashboard sit directly under "api".
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running docsplit server via HTTP.

These commands require a running server (docsplit serve).
Use --server to specify a custom server URL and --user to act as a user.

Examples:
  docsplit api health                     # Check server health
  docsplit api jobs list                  # List your jobs
  docsplit api jobs get <id>              # Get a job with its segments
  docsplit api jobs retry <id> --from CLASSIFYING`,
	}

	groups := map[string]*cobra.Command{}
	for _, ep := range r.endpoints {
		_, path, _ := ep.Route()
		cmd := ep.Command(getServerURL)
		group := commandGroup(path)
		if group == "" || cmd.Name() == group {
			apiCmd.AddCommand(cmd)
			continue
		}
		parent, ok := groups[group]
		if !ok {
			parent = &cobra.Command{
				Use:   group,
				Short: strings.ToUpper(group[:1]) + group[1:] + " commands",
			}
			groups[group] = parent
		}
		parent.AddCommand(cmd)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		apiCmd.AddCommand(groups[name])
	}

	return apiCmd
}
