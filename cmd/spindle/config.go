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
	"time"

	"github.com/spf13/viper"
	spindleconfig "github.com/teradata-labs/spindle/pkg/config"
)

// DefaultConfigFileName is the name of the config file
const DefaultConfigFileName = "spindle"

// Config holds all configuration for the Spindle server.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the Spindle data directory (computed from SPINDLE_DATA_DIR
	// env var or ~/.spindle). Set during config initialization, read-only;
	// not loaded from the config file.
	DataDir string `mapstructure:"-"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Supervisor configuration
	Supervisor SupervisorConfig `mapstructure:"supervisor"`

	// Workflow configuration
	Workflow WorkflowConfig `mapstructure:"workflow"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	// HTTPAddr is the listen address for the HTTP API (default: 127.0.0.1:8080)
	HTTPAddr string `mapstructure:"http_addr"`

	// BasePath is the URL prefix the reverse proxy is mounted under
	// (default: /proxy)
	BasePath string `mapstructure:"base_path"`
}

// SupervisorConfig holds agent process supervision configuration.
type SupervisorConfig struct {
	// AgentCommand is the agent server executable spawned per work item
	// (default: opencode)
	AgentCommand string `mapstructure:"agent_command"`

	// BasePort is the first port of the agent port pool (default: 4056)
	BasePort int `mapstructure:"base_port"`

	// MaxConcurrent is the pool size; at most this many agents run at once
	// (default: 10)
	MaxConcurrent int `mapstructure:"max_concurrent"`

	// HealthTimeoutSeconds bounds the wait for an agent to become healthy
	// (default: 30)
	HealthTimeoutSeconds int `mapstructure:"health_timeout_seconds"`

	// StopTimeoutSeconds bounds the wait for process exit after kill
	// (default: 10)
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
}

// WorkflowConfig holds orchestration configuration.
type WorkflowConfig struct {
	// DefaultModel is written into the per-worktree agent config when a
	// start request names no model (empty = agent's own default)
	DefaultModel string `mapstructure:"default_model"`

	// AgentConfigFile is the config file name written into each worktree
	// (default: agent.config.json)
	AgentConfigFile string `mapstructure:"agent_config_file"`

	// WorktreesDir is the directory per-item worktrees live under
	// (default: <data dir>/worktrees)
	WorktreesDir string `mapstructure:"worktrees_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error (default: info)
	Level string `mapstructure:"level"`

	// File is the log output file (default: stderr)
	File string `mapstructure:"file"`
}

// HealthTimeout returns the health wait as a duration.
func (c SupervisorConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// StopTimeout returns the stop wait as a duration.
func (c SupervisorConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.http_addr", "127.0.0.1:8080")
	viper.SetDefault("server.base_path", "/proxy")

	viper.SetDefault("supervisor.agent_command", "opencode")
	viper.SetDefault("supervisor.base_port", 4056)
	viper.SetDefault("supervisor.max_concurrent", 10)
	viper.SetDefault("supervisor.health_timeout_seconds", 30)
	viper.SetDefault("supervisor.stop_timeout_seconds", 10)

	viper.SetDefault("workflow.agent_config_file", "agent.config.json")

	viper.SetDefault("logging.level", "info")
}

// LoadConfig loads configuration from multiple sources with proper priority:
// CLI flags > config file > environment variables > defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in standard locations (in order of priority)
		viper.AddConfigPath(spindleconfig.GetSpindleDataDir()) // respects SPINDLE_DATA_DIR
		viper.AddConfigPath(".")                               // Current directory
		viper.AddConfigPath("/etc/spindle/")                   // System-wide
		viper.SetConfigName(DefaultConfigFileName)             // spindle.yaml
		viper.SetConfigType("yaml")
	}

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	// Bind environment variables
	viper.SetEnvPrefix("SPINDLE")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set DataDir from environment or default; not loaded from config file
	config.DataDir = spindleconfig.GetSpindleDataDir()
	if config.Workflow.WorktreesDir == "" {
		config.Workflow.WorktreesDir = spindleconfig.GetWorktreesDir()
	}

	return &config, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr must not be empty")
	}
	if c.Supervisor.AgentCommand == "" {
		return fmt.Errorf("supervisor.agent_command must not be empty")
	}
	if c.Supervisor.BasePort <= 0 || c.Supervisor.BasePort > 65535 {
		return fmt.Errorf("supervisor.base_port must be in (0, 65535], got %d", c.Supervisor.BasePort)
	}
	if c.Supervisor.MaxConcurrent <= 0 {
		return fmt.Errorf("supervisor.max_concurrent must be positive, got %d", c.Supervisor.MaxConcurrent)
	}
	if c.Supervisor.BasePort+c.Supervisor.MaxConcurrent-1 > 65535 {
		return fmt.Errorf("port pool [%d, %d) exceeds the valid port range",
			c.Supervisor.BasePort, c.Supervisor.BasePort+c.Supervisor.MaxConcurrent)
	}
	return nil
}
