package testutil

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackzampolin/docsplit/internal/postgres"
)

// StartPostgres runs a throwaway Postgres container for the test and returns
// its DSN. The test is skipped under -short or when Docker is unavailable.
func StartPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	_ = DockerClient(t)

	port, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for Postgres: %v", err)
	}
	mgr, err := postgres.NewDockerManager(postgres.DockerConfig{
		ContainerName: UniqueContainerName(t, "pg"),
		HostPort:      port,
		Labels:        ContainerLabels(t),
	})
	if err != nil {
		t.Fatalf("NewDockerManager() error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("failed to start Postgres: %v", err)
	}
	return mgr.DSN()
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}
