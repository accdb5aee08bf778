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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teradata-labs/spindle/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "spindle",
	Short:   "Spindle - coding-agent process orchestration engine",
	Long:    `Spindle supervises short-lived coding-agent server processes: it allocates ports, spawns and health-checks agents per work item, routes browser traffic to them through a reverse proxy, and watches their event streams for pull-request completion.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $SPINDLE_DATA_DIR/spindle.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("http-addr", "127.0.0.1:8080", "HTTP API listen address")
	rootCmd.PersistentFlags().String("base-path", "/proxy", "URL prefix the reverse proxy is mounted under")

	// Supervisor flags
	rootCmd.PersistentFlags().String("agent-cmd", "opencode", "agent server executable spawned per work item")
	rootCmd.PersistentFlags().Int("base-port", 4056, "first port of the agent port pool")
	rootCmd.PersistentFlags().Int("max-concurrent", 10, "maximum concurrent agent servers (pool size)")
	rootCmd.PersistentFlags().Int("health-timeout", 30, "seconds to wait for an agent to become healthy")
	rootCmd.PersistentFlags().Int("stop-timeout", 10, "seconds to wait for an agent process to exit after kill")

	// Workflow flags
	rootCmd.PersistentFlags().String("default-model", "", "model written into agent config when a start names none")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Log output file (default: stderr)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.http_addr", rootCmd.PersistentFlags().Lookup("http-addr"))
	_ = viper.BindPFlag("server.base_path", rootCmd.PersistentFlags().Lookup("base-path"))

	_ = viper.BindPFlag("supervisor.agent_command", rootCmd.PersistentFlags().Lookup("agent-cmd"))
	_ = viper.BindPFlag("supervisor.base_port", rootCmd.PersistentFlags().Lookup("base-port"))
	_ = viper.BindPFlag("supervisor.max_concurrent", rootCmd.PersistentFlags().Lookup("max-concurrent"))
	_ = viper.BindPFlag("supervisor.health_timeout_seconds", rootCmd.PersistentFlags().Lookup("health-timeout"))
	_ = viper.BindPFlag("supervisor.stop_timeout_seconds", rootCmd.PersistentFlags().Lookup("stop-timeout"))

	_ = viper.BindPFlag("workflow.default_model", rootCmd.PersistentFlags().Lookup("default-model"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
