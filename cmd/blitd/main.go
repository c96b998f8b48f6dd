// Command blitd is the daemon side of a remote transfer: it serves one
// or more modules over the control and data planes for CLI-driven
// push/pull/remote-remote verbs, and exposes health/status/metrics
// over HTTP. Flag parsing here is deliberately thin — daemon
// bring-up only, not the transfer-verb CLI (out of scope for this
// module; see SPEC_FULL.md).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roethlar/blit/internal/buffer"
	"github.com/roethlar/blit/internal/circuit"
	"github.com/roethlar/blit/internal/config"
	"github.com/roethlar/blit/internal/enum"
	"github.com/roethlar/blit/internal/journal"
	"github.com/roethlar/blit/internal/metrics"
	"github.com/roethlar/blit/internal/planner"
	"github.com/roethlar/blit/internal/remote"
	"github.com/roethlar/blit/pkg/api"
	"github.com/roethlar/blit/pkg/health"
	"github.com/roethlar/blit/pkg/status"
	"github.com/roethlar/blit/pkg/types"
	"github.com/roethlar/blit/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (defaults built in if unset)")
	forceGRPC := flag.Bool("force-grpc", false, "force every session onto the gRPC fallback path, bypassing the TCP data plane")
	debugSession := flag.Bool("debug-session", false, "trace every control-plane session (push/pull) into the in-process debug manager, queryable until the process exits")
	flag.Parse()

	if err := run(*configPath, *forceGRPC, *debugSession); err != nil {
		fmt.Fprintln(os.Stderr, "blitd:", err)
		os.Exit(1)
	}
}

func run(configPath string, forceGRPC, debugSession bool) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	loggerConfig := &utils.StructuredLoggerConfig{
		Level:  logLevel,
		Output: os.Stdout,
		Format: utils.FormatJSON,
	}
	if cfg.Global.LogFile != "" {
		loggerConfig.Rotation = utils.DefaultRotationConfig(cfg.Global.LogFile)
	}
	logger, err := utils.NewStructuredLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Close() }()
	logger.Info("starting blitd", map[string]interface{}{
		"control_port": cfg.Global.ControlPort,
		"modules":      len(cfg.Modules),
		"log_file":     cfg.Global.LogFile,
	})

	if debugSession {
		dm := utils.GetDebugManager()
		dm.SetLogger(logger)
		dm.StartSession("daemon", []string{"control_plane"}, 0)
		defer dm.StopSession("daemon")
	}

	if len(cfg.Modules) == 0 {
		return fmt.Errorf("no modules configured: set at least one entry under modules")
	}
	moduleRoots := make(map[string]types.Locator, len(cfg.Modules))
	for name, root := range cfg.Modules {
		moduleRoots[name] = types.Locator(root)
	}

	budgetBytes, err := utils.ParseBytes(cfg.Buffer.BudgetBytes)
	if err != nil {
		return fmt.Errorf("parse buffer.budget_bytes: %w", err)
	}
	chunkBytes, err := utils.ParseBytes(cfg.Performance.ChunkBytesDefault)
	if err != nil {
		return fmt.Errorf("parse performance.chunk_bytes_default: %w", err)
	}
	pool := buffer.NewPool(budgetBytes, cfg.Buffer.BucketSizes)

	enumerator, err := enum.NewWalker(enum.Config{})
	if err != nil {
		return fmt.Errorf("build enumerator: %w", err)
	}
	mirrorPlanner := planner.New()

	var collector *metrics.Collector
	if cfg.Monitoring.Metrics.Enabled {
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Port:      cfg.Global.MetricsPort,
			Namespace: "blit",
			Labels:    cfg.Monitoring.Metrics.CustomLabels,
		})
		if err != nil {
			return fmt.Errorf("build metrics collector: %w", err)
		}
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("journal")
	healthTracker.RegisterComponent("control_plane")
	if cfg.Journal.Enabled {
		_ = journal.NewNativeCapability(cfg.Journal.StateDir)
		healthTracker.RecordSuccess("journal")
	}
	statusTracker := status.NewTracker(status.TrackerConfig{HealthTracker: healthTracker})

	apiServer := api.NewServer(api.ServerConfig{
		Address:      fmt.Sprintf(":%d", cfg.Global.HealthPort),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   false,
	}, statusTracker, healthTracker)
	apiServer.StartBackground()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if collector != nil {
		go func() {
			if err := collector.Start(ctx); err != nil {
				logger.Error("metrics collector stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	_ = circuit.NewManager(circuit.Config{
		Timeout: cfg.Network.CircuitBreaker.Timeout,
	})

	daemon := remote.NewDaemon(moduleRoots, enumerator, mirrorPlanner, pool, int(chunkBytes), cfg.Performance.StreamCountMax, forceGRPC, collector, statusTracker)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Global.ControlPort))
	if err != nil {
		healthTracker.RecordError("control_plane", err)
		return fmt.Errorf("listen control plane: %w", err)
	}
	healthTracker.RecordSuccess("control_plane")
	logger.Info("control plane listening", map[string]interface{}{"addr": ln.Addr().String()})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down", nil)
		cancel()
		ln.Close()
		_ = apiServer.Shutdown(context.Background())
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("accept failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		go func() {
			if err := daemon.ServeControl(ctx, nc); err != nil {
				logger.Warn("session ended with an error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
}
