package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/config"
	"github.com/jackzampolin/underwrite/internal/defra"
	"github.com/jackzampolin/underwrite/internal/schema"
)

var defraCmd = &cobra.Command{
	Use:   "defra",
	Short: "Manage the DefraDB document store",
	Long: `Manage the DefraDB container behind the defra store backend.

'underwrite serve' starts and stops the container on its own. These commands
are for preparing it ahead of time, checking on it and cleaning up. Data
lives in ~/.underwrite/defradb/ and survives stop and remove.`,
}

// defraStatus is what `defra status` prints.
type defraStatus struct {
	Backend     string                `json:"backend" yaml:"backend"`
	Container   defra.ContainerStatus `json:"container" yaml:"container"`
	URL         string                `json:"url,omitempty" yaml:"url,omitempty"`
	Healthy     bool                  `json:"healthy" yaml:"healthy"`
	Error       string                `json:"error,omitempty" yaml:"error,omitempty"`
	Collections []string              `json:"collections" yaml:"collections"`
	Hint        string                `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// withDefra runs fn with a Docker manager for the configured container.
func withDefra(cmd *cobra.Command, fn func(ctx context.Context, c *config.Config, mgr *defra.DockerManager) error) error {
	h, err := getHome()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(h.DefraPath(), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	cfgMgr, err := config.NewManager(configPath(h), nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c := cfgMgr.Get()

	mgr, err := defra.NewDockerManager(defra.DockerConfig{
		ContainerName: c.Store.Defra.ContainerName,
		Image:         c.Store.Defra.Image,
		DataPath:      h.DefraPath(),
		HostPort:      c.Store.Defra.Port,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()
	return fn(cmd.Context(), c, mgr)
}

func newDefraStartCmd() *cobra.Command {
	var wait time.Duration
	var applySchema bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the container, creating it if needed",
		Example: `  underwrite defra start
  underwrite defra start --wait 1m --schema   # ready for documents when this returns`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDefra(cmd, func(ctx context.Context, _ *config.Config, mgr *defra.DockerManager) error {
				if err := mgr.Start(ctx); err != nil {
					return fmt.Errorf("start DefraDB: %w", err)
				}
				if wait > 0 || applySchema {
					if wait <= 0 {
						wait = 30 * time.Second
					}
					if err := mgr.WaitReady(ctx, wait); err != nil {
						return fmt.Errorf("DefraDB not ready: %w", err)
					}
				}
				if applySchema {
					logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
					if err := schema.Initialize(ctx, defra.NewClient(mgr.URL()), logger); err != nil {
						return fmt.Errorf("apply schema: %w", err)
					}
				}
				fmt.Printf("DefraDB is running at %s\n", mgr.URL())
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait this long for DefraDB to accept requests")
	cmd.Flags().BoolVar(&applySchema, "schema", false, "Create the document and stage metric collections")
	return cmd
}

func newDefraStopCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the container; data is kept",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDefra(cmd, func(ctx context.Context, _ *config.Config, mgr *defra.DockerManager) error {
				if remove {
					if err := mgr.Remove(ctx); err != nil {
						return fmt.Errorf("remove container: %w", err)
					}
					fmt.Println("DefraDB container removed (data kept)")
					return nil
				}
				if err := mgr.Stop(ctx); err != nil {
					return fmt.Errorf("stop DefraDB: %w", err)
				}
				fmt.Println("DefraDB stopped")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "Also remove the container")
	return cmd
}

func newDefraStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show container state, health and managed collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDefra(cmd, func(ctx context.Context, c *config.Config, mgr *defra.DockerManager) error {
				container, err := mgr.Status(ctx)
				if err != nil {
					return fmt.Errorf("container status: %w", err)
				}
				var healthErr error
				if container == defra.StatusRunning {
					healthErr = defra.NewClient(mgr.URL()).HealthCheck(ctx)
				}
				schemas, err := schema.All()
				if err != nil {
					return err
				}
				return api.Output(describeDefra(c.Store.Backend, container, mgr.URL(), healthErr, schemas))
			})
		},
	}
}

func newDefraLogsCmd() *cobra.Command {
	var tail string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent container logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDefra(cmd, func(ctx context.Context, _ *config.Config, mgr *defra.DockerManager) error {
				logs, err := mgr.Logs(ctx, tail)
				if err != nil {
					return fmt.Errorf("read logs: %w", err)
				}
				fmt.Print(logs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tail, "tail", "100", "Lines from the end, or \"all\"")
	return cmd
}

// describeDefra summarizes the container for `defra status`.
func describeDefra(backend string, container defra.ContainerStatus, url string, healthErr error, schemas []schema.Schema) defraStatus {
	st := defraStatus{Backend: backend, Container: container}
	for _, s := range schemas {
		st.Collections = append(st.Collections, s.Name)
	}

	switch container {
	case defra.StatusRunning:
		st.URL = url
		st.Healthy = healthErr == nil
		if healthErr != nil {
			st.Error = healthErr.Error()
		}
	case defra.StatusStopped:
		st.Hint = "underwrite defra start"
	case defra.StatusNotFound:
		st.Hint = "underwrite defra start --wait 1m --schema"
	}
	if backend != "defra" {
		st.Hint = fmt.Sprintf("store.backend is %q; the server does not use this container", backend)
	}
	return st
}

func init() {
	defraCmd.AddCommand(newDefraStartCmd(), newDefraStopCmd(), newDefraStatusCmd(), newDefraLogsCmd())
	rootCmd.AddCommand(defraCmd)
}
