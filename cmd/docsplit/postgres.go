package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/postgres"
)

var postgresCmd = &cobra.Command{
	Use:   "postgres",
	Short: "Manage the local Postgres container",
	Long: `Manage the local Postgres container used when database.managed is set.

Jobs and segments live in Postgres. The managed database runs in a Docker
container with data persisted to ~/.docsplit/postgres/.

Examples:
  docsplit postgres start   # Start the Postgres container
  docsplit postgres stop    # Stop the container (data preserved)
  docsplit postgres status  # Check container status
  docsplit postgres logs    # View container logs`,
}

var postgresStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Postgres container",
	Long: `Start the Postgres container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting Postgres...")
		if err := mgr.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start Postgres: %w", err)
		}

		fmt.Println("Postgres is running")
		return nil
	},
}

var postgresStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Postgres container",
	Long: `Stop the Postgres container.

This stops the container but preserves data. Use 'docsplit postgres start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping Postgres...")
		if err := mgr.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop Postgres: %w", err)
		}

		fmt.Println("Postgres stopped")
		return nil
	},
}

var postgresStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Postgres container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case postgres.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			if err := mgr.WaitReady(ctx, 2*time.Second); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case postgres.StatusStopped:
			fmt.Printf("Status: %s (use 'docsplit postgres start' to start)\n", status)
		case postgres.StatusNotFound:
			fmt.Printf("Status: %s (use 'docsplit postgres start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var logsTail string

var postgresLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show Postgres container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(cmd.Context(), logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var postgresRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the Postgres container",
	Long: `Remove the Postgres container.

This stops and removes the container. Data in ~/.docsplit/postgres/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing Postgres container...")
		if err := mgr.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("Postgres container removed (data preserved)")
		return nil
	},
}

var postgresWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for Postgres to be ready",
	Long: `Wait for Postgres to accept connections.

This is useful in scripts to ensure the database is fully started
before running other commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for Postgres (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(cmd.Context(), timeout); err != nil {
			return fmt.Errorf("Postgres not ready: %w", err)
		}

		fmt.Println("Postgres is ready")
		return nil
	},
}

func init() {
	postgresCmd.AddCommand(postgresStartCmd)
	postgresCmd.AddCommand(postgresStopCmd)
	postgresCmd.AddCommand(postgresStatusCmd)
	postgresCmd.AddCommand(postgresLogsCmd)
	postgresCmd.AddCommand(postgresRemoveCmd)
	postgresCmd.AddCommand(postgresWaitCmd)

	postgresLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	postgresWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for Postgres")

	rootCmd.AddCommand(postgresCmd)
}

// getDockerManager creates a DockerManager from the database config.
func getDockerManager() (*postgres.DockerManager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	cm, err := loadConfig(h)
	if err != nil {
		return nil, err
	}
	if err := h.EnsurePostgresDataPath(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return postgres.NewDockerManager(cm.Get().ToDockerConfig(h.Path(), h.PostgresDataPath()))
}

