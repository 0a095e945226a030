package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/config"
	"github.com/jackzampolin/docsplit/internal/home"
	"github.com/jackzampolin/docsplit/internal/server/endpoints"
)

const memoryConfig = `
database:
  driver: memory
storage:
  driver: memory
`

// newTestServer builds a server over in-memory storage. Nothing is started.
func newTestServer(t *testing.T, content string) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cm, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h, err := home.New(dir)
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	srv, err := New(Config{ConfigManager: cm, Home: h})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, path
}

func initServer(t *testing.T, srv *Server) {
	t.Helper()
	if err := srv.init(context.Background()); err != nil {
		t.Fatalf("init() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.runner.Shutdown(ctx)
	})
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresConfigManager(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without a config manager should fail")
	}
}

func TestNew_AddrFromConfig(t *testing.T) {
	srv, _ := newTestServer(t, memoryConfig+"server:\n  host: 0.0.0.0\n  port: \"9191\"\n")
	if got := srv.Addr(); got != "0.0.0.0:9191" {
		t.Errorf("Addr() = %q, want %q", got, "0.0.0.0:9191")
	}
}

func TestServer_RequireInit(t *testing.T) {
	srv, _ := newTestServer(t, memoryConfig)
	h := srv.Handler()

	t.Run("health is always served", func(t *testing.T) {
		rec := do(t, h, "GET", "/health", "", "")
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("ready reports not initialized", func(t *testing.T) {
		rec := do(t, h, "GET", "/ready", "", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		var resp endpoints.HealthResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Database != "not_initialized" {
			t.Errorf("Database = %q, want not_initialized", resp.Database)
		}
	})

	t.Run("api routes wait for init", func(t *testing.T) {
		rec := do(t, h, "GET", "/api/jobs", "u1", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"server not fully initialized"}` {
			t.Errorf("body = %s", got)
		}
	})

	if srv.JobManager() != nil {
		t.Error("JobManager() should be nil before init")
	}
}

func TestServer_InitMemory(t *testing.T) {
	srv, _ := newTestServer(t, memoryConfig)
	initServer(t, srv)
	h := srv.Handler()

	if srv.JobManager() == nil {
		t.Fatal("JobManager() = nil after init")
	}

	t.Run("ready uses the memory store", func(t *testing.T) {
		rec := do(t, h, "GET", "/ready", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var resp endpoints.HealthResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Database != "memory" {
			t.Errorf("Database = %q, want memory", resp.Database)
		}
	})

	t.Run("missing user is unauthorized", func(t *testing.T) {
		rec := do(t, h, "GET", "/api/jobs", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("list is empty", func(t *testing.T) {
		rec := do(t, h, "GET", "/api/jobs", "u1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != `{"jobs":[]}` {
			t.Errorf("body = %s, want {\"jobs\":[]}", got)
		}
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		rec := do(t, h, "GET", "/api/jobs/nope", "u1", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("create without upload is rejected", func(t *testing.T) {
		body := `{"loan_id":"L1","file_key":"uploads/L1/x.pdf","file_name":"x.pdf","file_size_bytes":10}`
		rec := do(t, h, "POST", "/api/jobs", "u1", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		if !strings.Contains(rec.Body.String(), "Uploaded file not found in storage") {
			t.Errorf("body = %s", rec.Body.String())
		}
	})

	t.Run("status shows pipeline settings", func(t *testing.T) {
		rec := do(t, h, "GET", "/status", "", "")
		var resp endpoints.StatusResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Database.Driver != "memory" {
			t.Errorf("Database.Driver = %q, want memory", resp.Database.Driver)
		}
		if resp.Pipeline == nil || resp.Pipeline.Concurrency != 10 {
			t.Errorf("Pipeline = %+v, want concurrency 10", resp.Pipeline)
		}
	})
}

func TestServer_InitBadTaxonomy(t *testing.T) {
	srv, _ := newTestServer(t, memoryConfig+"taxonomy:\n  file: /does/not/exist.yaml\n")
	if err := srv.init(context.Background()); err == nil {
		t.Fatal("init() with a missing taxonomy file should fail")
	}
}

func TestServer_ReloadTunables(t *testing.T) {
	srv, path := newTestServer(t, memoryConfig)
	initServer(t, srv)
	srv.configMgr.WatchConfig()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(memoryConfig+"pipeline:\n  concurrency: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.launcher.Tunables().Concurrency == 4 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("Concurrency = %d after reload, want 4", srv.launcher.Tunables().Concurrency)
}
