package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackzampolin/docsplit/internal/server/endpoints"
	"github.com/jackzampolin/docsplit/internal/testutil"
)

// TestServer_Postgres runs the server against a real database.
// This test requires Docker to be running.
func TestServer_Postgres(t *testing.T) {
	dsn := testutil.StartPostgres(t)

	srv := freePortServer(t, fmt.Sprintf(`
database:
  driver: postgres
  managed: false
  dsn: %q
storage:
  driver: memory
`, dsn))
	baseURL, stop := startServer(t, srv)
	defer func() {
		if err := stop(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	t.Run("ready_pings_database", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.StatusCode != http.StatusOK || health.Database != "ok" {
			t.Errorf("ready = %d %+v, want 200 with database ok", resp.StatusCode, health)
		}
	})

	t.Run("jobs_query_the_database", func(t *testing.T) {
		req, _ := http.NewRequest("GET", baseURL+"/api/jobs/missing", nil)
		req.Header.Set("X-User-ID", "u1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})
}
