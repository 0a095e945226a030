package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

type fakeEndpoint struct {
	method, path, name string
	init               bool
}

func (f *fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return f.method, f.path, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(f.name))
	}
}

func (f *fakeEndpoint) RequiresInit() bool { return f.init }

func (f *fakeEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{Use: f.name}
}

func TestCommandGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", ""},
		{"/swagger.json", ""},
		{"/api/jobs", "jobs"},
		{"/api/jobs/{id}/segments/{segment_id}", "jobs"},
		{"/api/uploads/presign", "uploads"},
		{"/api/dashboard", "dashboard"},
	}
	for _, tt := range tests {
		if got := commandGroup(tt.path); got != tt.want {
			t.Errorf("commandGroup(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRegistry_BuildCommands(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeEndpoint{method: "GET", path: "/health", name: "health"})
	r.Register(&fakeEndpoint{method: "GET", path: "/api/jobs", name: "list"})
	r.Register(&fakeEndpoint{method: "GET", path: "/api/jobs/{id}", name: "get"})
	r.Register(&fakeEndpoint{method: "POST", path: "/api/uploads/presign", name: "presign"})
	r.Register(&fakeEndpoint{method: "GET", path: "/api/dashboard", name: "dashboard"})

	root := r.BuildCommands(func() string { return "http://localhost:8080" })

	var top []string
	for _, c := range root.Commands() {
		top = append(top, c.Name())
	}
	if got := strings.Join(top, ","); got != "dashboard,health,jobs,uploads" {
		t.Errorf("top-level commands = %s", got)
	}

	jobs, _, err := root.Find([]string{"jobs", "get"})
	if err != nil || jobs.Name() != "get" {
		t.Errorf("Find(jobs get) = %v, %v", jobs, err)
	}
}

func TestRegistry_RegisterRoutes(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeEndpoint{method: "GET", path: "/health", name: "health"})
	r.Register(&fakeEndpoint{method: "GET", path: "/api/jobs", name: "list", init: true})

	mux := http.NewServeMux()
	r.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	for path, want := range map[string]int{"/health": http.StatusOK, "/api/jobs": http.StatusServiceUnavailable} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			json.NewEncoder(w).Encode(map[string]string{
				"user":   r.Header.Get(UserHeader),
				"method": r.Method,
			})
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "Job not found"})
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	t.Run("sends the user header", func(t *testing.T) {
		var got map[string]string
		if err := NewClient(srv.URL, WithUserID("u1")).Patch(ctx, "/echo", map[string]int{"a": 1}, &got); err != nil {
			t.Fatalf("Patch() error = %v", err)
		}
		if got["user"] != "u1" || got["method"] != "PATCH" {
			t.Errorf("server saw %v", got)
		}
	})

	t.Run("error body", func(t *testing.T) {
		err := NewClient(srv.URL).Get(ctx, "/missing", nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("error = %v, want *StatusError", err)
		}
		if se.Code != http.StatusNotFound || se.Message != "Job not found" {
			t.Errorf("StatusError = %+v", se)
		}
	})

	t.Run("plain error body", func(t *testing.T) {
		err := NewClient(srv.URL).Delete(ctx, "/other")
		var se *StatusError
		if !errors.As(err, &se) || se.Message != "upstream down" {
			t.Fatalf("error = %v", err)
		}
		if !strings.Contains(err.Error(), "server error (502)") {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func TestOutput(t *testing.T) {
	data := map[string]any{"job_id": "j1"}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), `"job_id": "j1"`) {
			t.Errorf("output = %s", buf.String())
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(buf.String()) != "job_id: j1" {
			t.Errorf("output = %s", buf.String())
		}
	})

	t.Run("format flag", func(t *testing.T) {
		defer SetOutputFormat("yaml")
		SetOutputFormat("json")
		if GetOutputFormat() != OutputFormatJSON {
			t.Errorf("GetOutputFormat() = %s", GetOutputFormat())
		}
		SetOutputFormat("xml")
		if GetOutputFormat() != DefaultOutput {
			t.Errorf("unknown format should fall back to %s", DefaultOutput)
		}
	})

	t.Run("file by extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.json")
		if err := OutputToFile(data, path); err != nil {
			t.Fatal(err)
		}
		b, _ := os.ReadFile(path)
		if !json.Valid(b) {
			t.Errorf("%s is not JSON: %s", path, b)
		}
	})
}
