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
// Package supervisor spawns, health-checks, and terminates one coding-agent
// server process per active work item.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/spindle/internal/csync"
	"github.com/teradata-labs/spindle/internal/pubsub"
	"github.com/teradata-labs/spindle/pkg/ports"
	"github.com/teradata-labs/spindle/pkg/proxy"
)

const (
	defaultHealthTimeout = 30 * time.Second
	defaultStopTimeout   = 10 * time.Second
)

// Config configures a Manager.
type Config struct {
	// AgentCommand is the agent executable spawned per work item.
	AgentCommand string

	// BasePort and MaxConcurrent bound the port pool
	// [BasePort, BasePort+MaxConcurrent).
	BasePort      int
	MaxConcurrent int

	// HealthTimeout bounds how long StartServer waits for the agent to
	// become healthy (default 30s).
	HealthTimeout time.Duration

	// StopTimeout bounds how long StopServer waits for process exit after
	// the kill (default 10s).
	StopTimeout time.Duration

	Logger *zap.Logger
}

// Event describes a server lifecycle change, published for the
// notification layer ("server list changed").
type Event struct {
	EntityID string
	Port     int
	Status   Status
}

// Manager owns all live AgentServer records. The server map, port pool, and
// route table support concurrent access from multiple request handlers.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	ports   *ports.Allocator
	routes  *proxy.Table // nil when no proxy surface is mounted
	servers *csync.Map[string, *AgentServer]
	events  *pubsub.Broker[Event]

	// Overridable in tests; default to real process spawn and HTTP health.
	spawn       func(srv *AgentServer, continueSession bool) error
	waitHealthy func(ctx context.Context, srv *AgentServer) error
}

// NewManager creates a manager. routes may be nil when no reverse proxy is
// mounted (e.g. in tests).
func NewManager(cfg Config, routes *proxy.Table) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	m := &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.Named("supervisor"),
		ports:   ports.NewAllocator(cfg.BasePort, cfg.MaxConcurrent),
		routes:  routes,
		servers: csync.NewMap[string, *AgentServer](),
		events:  pubsub.NewBroker[Event](),
	}
	m.spawn = m.spawnProcess
	m.waitHealthy = m.pollHealth
	return m
}

// Events exposes server lifecycle notifications.
func (m *Manager) Events() *pubsub.Broker[Event] {
	return m.events
}

// StartServer starts an agent server for entityID in worktreePath, blocking
// until it is healthy. If a live server already exists for the entity it is
// returned as-is; concurrent starts for the same entity yield one process.
// Any failure rolls back all partial allocation before returning.
func (m *Manager) StartServer(ctx context.Context, entityID, worktreePath string, continueSession bool) (*AgentServer, error) {
	info, err := os.Stat(worktreePath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeMissing, worktreePath)
	}

	srv := &AgentServer{
		EntityID:     entityID,
		WorktreePath: worktreePath,
		StartedAt:    time.Now(),
		status:       StatusStarting,
		ready:        make(chan struct{}),
		exited:       make(chan struct{}),
		exitCode:     -1,
	}

	// Register before allocating anything so a second starter for the same
	// entity sees the in-flight record instead of racing us.
	existing, loaded := m.servers.GetOrSet(entityID, srv)
	if loaded {
		return m.awaitReady(ctx, existing)
	}

	port, err := m.ports.AllocatePort()
	if err != nil {
		m.servers.Delete(entityID)
		return nil, err
	}
	srv.Port = port

	if err := m.spawn(srv, continueSession); err != nil {
		m.rollback(srv, false)
		return nil, &StartupError{
			EntityID: entityID,
			Reason:   "failed to spawn agent process",
			ExitCode: -1,
			Err:      err,
		}
	}

	m.logger.Info("Agent server starting",
		zap.String("entity_id", entityID),
		zap.Int("port", port),
		zap.Int("pid", srv.Pid()),
		zap.String("worktree", worktreePath))
	m.events.Publish(pubsub.CreatedEvent, Event{EntityID: entityID, Port: port, Status: StatusStarting})

	if err := m.waitHealthy(ctx, srv); err != nil {
		m.rollback(srv, true)
		var se *StartupError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &StartupError{EntityID: entityID, Reason: "health check failed", ExitCode: -1, Err: err}
	}

	srv.setStatus(StatusRunning)
	srv.markReady()
	if m.routes != nil {
		m.routes.AddRoute(port)
	}
	m.logger.Info("Agent server running",
		zap.String("entity_id", entityID),
		zap.Int("port", port))
	m.events.Publish(pubsub.UpdatedEvent, Event{EntityID: entityID, Port: port, Status: StatusRunning})
	return srv, nil
}

// StopServer stops the server for entityID. The record is removed first so
// concurrent lookups never observe a server mid-teardown; the process tree
// is then killed, awaited, and the port released. Unknown entities are a
// silent no-op.
func (m *Manager) StopServer(ctx context.Context, entityID string) error {
	srv, ok := m.servers.Take(entityID)
	if !ok {
		return nil
	}

	if m.routes != nil {
		m.routes.RemoveRoute(srv.Port)
	}

	if err := killTree(srv.cmd); err != nil {
		// A leaked process is accepted; the port is still reclaimed.
		m.logger.Warn("Failed to kill agent process, continuing cleanup",
			zap.String("entity_id", entityID),
			zap.Int("pid", srv.Pid()),
			zap.Error(err))
	}

	if srv.cmd != nil {
		select {
		case <-srv.exited:
		case <-time.After(m.cfg.StopTimeout):
			m.logger.Warn("Timed out waiting for agent process exit",
				zap.String("entity_id", entityID),
				zap.Int("pid", srv.Pid()))
		case <-ctx.Done():
		}
	}

	m.ports.ReleasePort(srv.Port)
	srv.setStatus(StatusStopped)
	srv.markReady()
	m.logger.Info("Agent server stopped",
		zap.String("entity_id", entityID),
		zap.Int("port", srv.Port))
	m.events.Publish(pubsub.DeletedEvent, Event{EntityID: entityID, Port: srv.Port, Status: StatusStopped})
	return nil
}

// StopAll stops every live server. Used during shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	var ids []string
	for id := range m.servers.Seq2() {
		ids = append(ids, id)
	}
	for _, id := range ids {
		_ = m.StopServer(ctx, id)
	}
}

// GetServerForEntity returns the live server for an entity, if any.
func (m *Manager) GetServerForEntity(entityID string) (*AgentServer, bool) {
	return m.servers.Get(entityID)
}

// RunningServers returns all servers currently in the Running state,
// ordered by entity id.
func (m *Manager) RunningServers() []*AgentServer {
	var out []*AgentServer
	for srv := range m.servers.Values() {
		if srv.Status() == StatusRunning {
			out = append(out, srv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// rollback undoes a partial start: kills the process if one was spawned,
// releases the port, and removes the record.
func (m *Manager) rollback(srv *AgentServer, kill bool) {
	if kill {
		if err := killTree(srv.cmd); err != nil {
			m.logger.Warn("Failed to kill agent process during rollback",
				zap.String("entity_id", srv.EntityID),
				zap.Error(err))
		}
		if srv.cmd != nil {
			select {
			case <-srv.exited:
			case <-time.After(m.cfg.StopTimeout):
			}
		}
	}
	m.ports.ReleasePort(srv.Port)
	m.servers.Delete(srv.EntityID)
	srv.setStatus(StatusFailed)
	srv.markReady()
	m.events.Publish(pubsub.DeletedEvent, Event{EntityID: srv.EntityID, Port: srv.Port, Status: StatusFailed})
}

// awaitReady blocks a duplicate starter until the in-flight start for the
// same entity resolves. A record still in Starting is never handed out:
// acting on it could reach an unhealthy server, and cleanup by the
// duplicate caller would tear down the first caller's start.
func (m *Manager) awaitReady(ctx context.Context, srv *AgentServer) (*AgentServer, error) {
	select {
	case <-srv.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if srv.Status() != StatusRunning {
		return nil, &StartupError{
			EntityID: srv.EntityID,
			Reason:   "concurrent start attempt failed",
			ExitCode: srv.ExitCode(),
		}
	}
	return srv, nil
}

// spawnProcess launches the agent executable:
//
//	<agent> serve --port <port> --hostname 127.0.0.1 [--continue]
//
// with the worktree as working directory. Output is captured to the logger,
// never interactively piped.
func (m *Manager) spawnProcess(srv *AgentServer, continueSession bool) error {
	args := []string{"serve", "--port", strconv.Itoa(srv.Port), "--hostname", "127.0.0.1"}
	if continueSession {
		args = append(args, "--continue")
	}

	// #nosec G204 -- the agent executable comes from operator config
	cmd := exec.Command(m.cfg.AgentCommand, args...)
	cmd.Dir = srv.WorktreePath
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent process: %w", err)
	}
	srv.cmd = cmd

	var drained sync.WaitGroup
	drained.Add(2)
	go m.drainOutput(srv, "stdout", stdout, &drained)
	go m.drainOutput(srv, "stderr", stderr, &drained)

	go func() {
		drained.Wait()
		err := cmd.Wait()

		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		srv.mu.Lock()
		srv.exitErr = err
		srv.exitCode = code
		srv.mu.Unlock()
		close(srv.exited)

		m.logger.Debug("Agent process exited",
			zap.String("entity_id", srv.EntityID),
			zap.Int("exit_code", code))
	}()

	return nil
}

func (m *Manager) drainOutput(srv *AgentServer, stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m.logger.Debug("Agent output",
			zap.String("entity_id", srv.EntityID),
			zap.String("stream", stream),
			zap.String("line", sc.Text()))
	}
}
