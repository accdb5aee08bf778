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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)
	t.Setenv("SPINDLE_DATA_DIR", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/proxy", cfg.Server.BasePath)
	assert.Equal(t, "opencode", cfg.Supervisor.AgentCommand)
	assert.Equal(t, 4056, cfg.Supervisor.BasePort)
	assert.Equal(t, 10, cfg.Supervisor.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Supervisor.HealthTimeout())
	assert.Equal(t, 10*time.Second, cfg.Supervisor.StopTimeout())
	assert.Equal(t, "agent.config.json", cfg.Workflow.AgentConfigFile)
	assert.NotEmpty(t, cfg.Workflow.WorktreesDir)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromFile(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("SPINDLE_DATA_DIR", dir)

	cfgPath := filepath.Join(dir, "spindle.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  http_addr: "0.0.0.0:9090"
supervisor:
  agent_command: "mycode"
  base_port: 5000
  max_concurrent: 4
workflow:
  default_model: "big-model"
`), 0o644))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "mycode", cfg.Supervisor.AgentCommand)
	assert.Equal(t, 5000, cfg.Supervisor.BasePort)
	assert.Equal(t, 4, cfg.Supervisor.MaxConcurrent)
	assert.Equal(t, "big-model", cfg.Workflow.DefaultModel)
	// Unset keys keep their defaults.
	assert.Equal(t, "/proxy", cfg.Server.BasePath)
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{HTTPAddr: "127.0.0.1:8080", BasePath: "/proxy"},
			Supervisor: SupervisorConfig{
				AgentCommand:  "opencode",
				BasePort:      4056,
				MaxConcurrent: 10,
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing agent command", func(t *testing.T) {
		cfg := base()
		cfg.Supervisor.AgentCommand = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad base port", func(t *testing.T) {
		cfg := base()
		cfg.Supervisor.BasePort = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero concurrency", func(t *testing.T) {
		cfg := base()
		cfg.Supervisor.MaxConcurrent = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("pool overflows port range", func(t *testing.T) {
		cfg := base()
		cfg.Supervisor.BasePort = 65530
		cfg.Supervisor.MaxConcurrent = 10
		assert.Error(t, cfg.Validate())
	})
}
