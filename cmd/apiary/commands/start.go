package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/agent"
	"github.com/kazuhira-dev/apiary/internal/api"
	"github.com/kazuhira-dev/apiary/internal/config"
	"github.com/kazuhira-dev/apiary/internal/hardware"
	"github.com/kazuhira-dev/apiary/internal/logging"
	"github.com/kazuhira-dev/apiary/internal/metrics"
	"github.com/kazuhira-dev/apiary/internal/orchestrator"
	"github.com/kazuhira-dev/apiary/internal/resource"
	"github.com/kazuhira-dev/apiary/internal/scheduler"
	"github.com/kazuhira-dev/apiary/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the orchestrator",
	Long: `Start the orchestrator with the specified configuration.

Examples:
  # Start with the default config
  apiary start

  # Start with a specific config
  apiary start --config custom.yaml

  # Start without registering the local host
  apiary start --no-local-host`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().Bool("no-local-host", false, "Do not register the local host as a compute resource")
	startCmd.Flags().Bool("watch-config", false, "Hot-reload the config file on change")
}

func runStart(cmd *cobra.Command, args []string) error {
	noLocalHost, _ := cmd.Flags().GetBool("no-local-host")
	watchConfig, _ := cmd.Flags().GetBool("watch-config")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	} else if cfg.LogLevel != "" {
		cfg.Logging.Level = cfg.LogLevel
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := orchestrator.NewManager(logger, cfg.Resources)
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start resource manager: %w", err)
	}
	defer manager.Stop()

	if cfg.Resources.RegisterLocalHost && !noLocalHost {
		host := hardware.DetectHost(logger)
		id := manager.RegisterResource(resource.TypeCompute, host.Name(), host.Capacity, host.Metadata())
		if _, err := manager.CreatePool("local", resource.TypeCompute, []string{id}, resource.ParseStrategy(cfg.Resources.AllocationStrategy)); err != nil {
			logger.Warn("Failed to create local pool", zap.Error(err))
		}
	}

	if cfg.Store.Enabled {
		st, err := store.Open(logger, cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()
		go st.Consume(manager.Events(256))
	}

	if cfg.Metrics.Enabled {
		exporter := metrics.NewExporter(logger, manager, cfg.Metrics.Namespace)
		go exporter.Consume(manager.Events(256))
		go func() {
			if err := exporter.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				logger.Error("Metrics exporter failed", zap.Error(err))
			}
		}()
	}

	executor := agent.NewCLIExecutor(logger, cfg.Scheduler.AgentCommand)
	sched := scheduler.New(logger, manager, executor, cfg.Scheduler.MaxConcurrentTasks, cfg.Scheduler.TaskTimeout)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.API.Enabled {
		server := api.NewServer(logger, manager, sched)
		go func() {
			if err := server.Serve(ctx, cfg.API.ListenAddr); err != nil {
				logger.Error("API server failed", zap.Error(err))
			}
		}()
	}

	if watchConfig {
		mgr, err := config.NewManager(logger, cfgFile)
		if err == nil {
			if err := mgr.StartWatcher(); err != nil {
				logger.Warn("Config watcher failed to start", zap.Error(err))
			} else {
				defer mgr.StopWatcher()
			}
		}
	}

	logger.Info("Apiary started", zap.String("version", Version))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))
	return nil
}
