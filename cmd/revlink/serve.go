package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/godeps/revlink/pkg/config"
	"github.com/godeps/revlink/pkg/observability"
	"github.com/godeps/revlink/pkg/server"
	"github.com/godeps/revlink/pkg/session"
	"github.com/godeps/revlink/pkg/telemetry"
	"github.com/godeps/revlink/pkg/workspace"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server against a development workspace",
		Long:  "Runs the tool server bound to an in-memory placeholder workspace. When embedded in a host GUI the same server is constructed against the live workspace instead.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	return cmd
}

func runServe(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.Logger()

	tel, err := telemetry.NewManager(ctx, telemetry.Config{
		ServiceName:    "revlink",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	telemetry.SetDefault(tel)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	handle := session.NewHandle(
		session.WithLockTimeout(cfg.LockTimeout),
		session.WithAcquireObserver(func(wait time.Duration) {
			tel.RecordLockWait(context.Background(), telemetry.LockWaitData{Wait: wait})
		}),
	)
	info, err := handle.Bind(ctx, workspace.DevWorkspace())
	if err != nil {
		return err
	}
	log.Info("bound development workspace", "session_id", info.ID, "bound_at", info.BoundAt)

	srv := server.New(handle,
		server.WithTelemetry(tel),
		server.WithVersion(version),
	)
	return srv.Run(ctx, cfg)
}
