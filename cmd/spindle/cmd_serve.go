// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/spindle/pkg/completion"
	"github.com/teradata-labs/spindle/pkg/httpapi"
	"github.com/teradata-labs/spindle/pkg/proxy"
	"github.com/teradata-labs/spindle/pkg/supervisor"
	"github.com/teradata-labs/spindle/pkg/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Spindle orchestration server",
	Long: `Start the Spindle HTTP server.

The server will:
- Manage a bounded pool of agent server ports
- Spawn, health-check, and supervise one agent process per work item
- Route browser traffic to agents through the reverse proxy
- Watch agent event streams for pull-request completion

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	if err := config.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := buildLogger(config.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Spindle", zap.String("version", rootCmd.Version))

	// Show actual config file used (not just the --config flag)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found, using defaults + environment variables",
			zap.String("searched", "$SPINDLE_DATA_DIR/spindle.yaml, ./spindle.yaml, /etc/spindle/spindle.yaml"))
	}

	routes := proxy.NewTable(config.Server.BasePath)
	manager := supervisor.NewManager(supervisor.Config{
		AgentCommand:  config.Supervisor.AgentCommand,
		BasePort:      config.Supervisor.BasePort,
		MaxConcurrent: config.Supervisor.MaxConcurrent,
		HealthTimeout: config.Supervisor.HealthTimeout(),
		StopTimeout:   config.Supervisor.StopTimeout(),
		Logger:        logger,
	}, routes)

	prs := noPullRequests{}
	orch := workflow.NewOrchestrator(workflow.Config{
		Servers: workflow.SupervisorAdapter{Manager: manager},
		Monitor: completion.NewMonitor(completion.Config{
			Finder: prs,
			Logger: logger,
		}),
		Transitions:     loggedTransitions{logger: logger.Named("transitions")},
		PullRequests:    prs,
		Worktrees:       dirWorktrees{root: config.Workflow.WorktreesDir},
		Projects:        noProjects{},
		AgentConfigFile: config.Workflow.AgentConfigFile,
		DefaultModel:    config.Workflow.DefaultModel,
		Logger:          logger,
	})

	handler := httpapi.NewHandler(httpapi.Config{
		Workflows: orch,
		Servers:   manager,
		Proxy:     proxy.NewHandler(routes, logger),
		BasePath:  config.Server.BasePath,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              config.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("addr", config.Server.HTTPAddr),
			zap.String("proxy_base_path", config.Server.BasePath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
		}
		orch.Shutdown()
		manager.StopAll(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// buildLogger creates the production logger (stack traces only for ERROR
// level), honoring the configured level and output file.
func buildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	logLevel := zap.InfoLevel // default
	if cfg.Level != "" {
		if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
			log.Printf("Invalid log level %q, using INFO: %v", cfg.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if cfg.File != "" {
		zapConfig.OutputPaths = []string{cfg.File}
		zapConfig.ErrorOutputPaths = []string{cfg.File}
	}

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}
