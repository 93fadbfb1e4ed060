package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/vloop/internal/api"
	"github.com/ternarybob/vloop/internal/config"
	"github.com/ternarybob/vloop/internal/logger"
	"github.com/ternarybob/vloop/internal/mcp"
	"github.com/ternarybob/vloop/internal/project"
	"github.com/ternarybob/vloop/internal/service"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/monitor"
)

func (c *cli) newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the vloop service (REST API, web UI, event stream, MCP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fault.Wrap(fault.EConfig, "load service config", err)
			}
			if running, pid := service.IsRunning(cfg); running {
				return fmt.Errorf("service already running (PID %d)", pid)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			log := logger.SetupLogger(cfg)
			slogger := logger.Slog(cfg.Logging.Level)

			bus := monitor.NewBus(cfg.Events.HistorySize)
			defer bus.Close()

			registry := project.NewRegistry(cfg)
			if err := registry.Load(); err != nil {
				return fmt.Errorf("load registry: %w", err)
			}
			manager := project.NewManager(cfg, registry, bus, log, slogger, c.extra...)
			if err := manager.Initialize(); err != nil {
				return fmt.Errorf("initialize manager: %w", err)
			}

			api.SetVersion(version)
			apiServer := api.NewServer(cfg, registry, manager, bus, log)
			if cfg.MCP.Enabled {
				apiServer.Mount("/mcp", mcp.NewServer(mcp.Managed(manager), version).Handler())
			}

			daemon := service.NewDaemon(cfg, log)
			daemon.OnStop(apiServer.Close)
			daemon.OnStop(manager.Shutdown)
			if err := daemon.Start(apiServer.Handler()); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vloop %s started on %s\n", version, daemon.Addr())
			fmt.Fprintf(out, "Web UI: http://%s/\n", daemon.Addr())
			fmt.Fprintf(out, "API: http://%s/projects\n", daemon.Addr())

			go func() {
				<-cmd.Context().Done()
				daemon.Stop()
			}()
			daemon.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Service config file")
	return cmd
}

func (c *cli) newStopCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running vloop service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fault.Wrap(fault.EConfig, "load service config", err)
			}
			out := cmd.OutOrStdout()
			running, pid := service.IsRunning(cfg)
			if !running {
				fmt.Fprintln(out, "vloop service is not running")
				return nil
			}
			fmt.Fprintf(out, "Stopping vloop service (PID %d)...\n", pid)
			if err := service.StopRunning(cfg); err != nil {
				return err
			}
			fmt.Fprintln(out, "vloop service stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Service config file")
	return cmd
}

func (c *cli) newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "mcp",
		Aliases: []string{"mcp-server"},
		Short:   "Serve the verification tools over MCP on stdio",
		Long: `mcp serves the project in --dir to an MCP client such as a coding
assistant. Stdout carries the protocol, so logs go to the service log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.DefaultConfigPath())
			if err != nil {
				cfg = config.DefaultConfig()
			}
			cfg.Logging.Output = []string{"file"}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			logger.SetupLogger(cfg)

			ws, err := c.open(nil)
			if err != nil {
				return err
			}
			defer ws.Close()
			return mcp.NewServer(mcp.Single(ws), version).ServeStdio()
		},
	}
}
