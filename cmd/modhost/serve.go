// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/holomush/modhost/internal/config"
	"github.com/holomush/modhost/internal/core"
	"github.com/holomush/modhost/internal/logging"
	"github.com/holomush/modhost/internal/observability"
	"github.com/holomush/modhost/internal/plugin"
	"github.com/holomush/modhost/internal/plugin/capability"
	"github.com/holomush/modhost/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host",
		Long: `Run the plugin host: create the engine core, load every plugin in
the plugins directory in dependency order and keep them active until
the process is told to stop. Plugins are unloaded in reverse order on
shutdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.LoggerFactory == nil {
		deps.LoggerFactory = func(opts logging.Options) *slog.Logger {
			return logging.SetDefault("modhost", version, opts)
		}
	}
	if deps.OpenerFactory == nil {
		deps.OpenerFactory = newOpener
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, observability.WithLogger(logger))
		}
	}
	if deps.SignalContext == nil {
		deps.SignalContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := deps.LoggerFactory(cfg.Logging())
	logger.Info("starting plugin host",
		"plugins_dir", cfg.PluginsDir,
		"host_api", cfg.HostAPIVersion,
		"enforce_capabilities", cfg.EnforceCapabilities)

	engine := core.NewEngine(core.WithLogger(logger))

	var ready atomic.Bool
	serverOpts := []plugin.ServerOption{
		plugin.WithLogger(logger),
		plugin.WithHostAPIVersion(cfg.HostAPI()),
	}
	if cfg.EnforceCapabilities {
		serverOpts = append(serverOpts, plugin.WithEnforcer(capability.NewEnforcer()))
	}

	var obsServer ObservabilityServer
	var obsErrChan <-chan error
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load, logger)
		reg := obsServer.Registerer()
		serverOpts = append(serverOpts, plugin.WithMetrics(plugin.NewMetrics(reg)))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "modhost_engine_subsystems",
			Help: "Number of subsystems registered with the engine core",
		}, func() float64 {
			return float64(len(engine.Subsystems()))
		}))

		var err error
		if obsErrChan, err = obsServer.Start(); err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	server := plugin.NewServer(deps.OpenerFactory(logger, cfg.ProcessStartRetries), engine, serverOpts...)
	manager := plugin.NewManager(cfg.PluginsDir, server, plugin.WithManagerLogger(logger))

	waitCtx, stop := deps.SignalContext(ctx)
	defer stop()

	var runErr error
	if cfg.Autoload {
		if err := manager.LoadAll(ctx); err != nil {
			runErr = fmt.Errorf("failed to load plugins: %w", err)
		}
	}

	if runErr == nil {
		ready.Store(true)
		cmd.Println("Plugin host started")
		logger.Info("plugin host ready", "plugins", manager.ListPlugins())

		select {
		case <-waitCtx.Done():
			logger.Info("shutting down", "reason", context.Cause(waitCtx))
		case err := <-obsErrChan:
			runErr = fmt.Errorf("observability server error: %w", err)
		}
	}

	ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := manager.Close(shutdownCtx); err != nil {
		errutil.LogError(logger, "error unloading plugins", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errutil.LogError(logger, "error shutting down engine", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}
