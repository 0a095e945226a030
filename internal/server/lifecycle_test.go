package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jackzampolin/docsplit/internal/server/endpoints"
	"github.com/jackzampolin/docsplit/internal/testutil"
)

// startServer runs srv in the background and waits for /health.
func startServer(t *testing.T, srv *Server) (baseURL string, stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	baseURL = "http://" + srv.Addr()
	if err := waitForServer(ctx, baseURL, 30*time.Second); err != nil {
		cancel()
		t.Fatalf("server did not start: %v", err)
	}

	return baseURL, func() error {
		cancel()
		select {
		case err := <-serverErr:
			return err
		case <-time.After(30 * time.Second):
			return fmt.Errorf("server did not shut down within timeout")
		}
	}
}

func freePortServer(t *testing.T, content string) *Server {
	t.Helper()
	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	srv, _ := newTestServer(t, content+fmt.Sprintf("server:\n  port: \"%s\"\n", port))
	return srv
}

func TestServer_Lifecycle(t *testing.T) {
	srv := freePortServer(t, memoryConfig)
	baseURL, stop := startServer(t, srv)

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	t.Run("ready_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("double_start", func(t *testing.T) {
		if err := srv.Start(context.Background()); err == nil {
			t.Error("second Start() should return error")
		}
	})

	if err := stop(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})
}

func TestServer_StartFailsOnBadTaxonomy(t *testing.T) {
	srv := freePortServer(t, memoryConfig+"taxonomy:\n  file: /does/not/exist.yaml\n")
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when init fails")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

// waitForServer polls the server until it responds or timeout.
func waitForServer(ctx context.Context, baseURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/health", nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %s", timeout)
}
