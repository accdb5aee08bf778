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
// Package workflow is the top-level facade tying agent lifecycle to the
// work-item state machine: it starts and stops agents per work item, sends
// the initial task prompt, and promotes or rolls items back based on what
// the per-item background completion monitor observes.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/spindle/internal/csync"
	"github.com/teradata-labs/spindle/pkg/agentapi"
	"github.com/teradata-labs/spindle/pkg/startup"
	"github.com/teradata-labs/spindle/pkg/supervisor"
)

// ErrServerNotRunning is returned when an operation needs a running agent
// server and none exists for the entity.
var ErrServerNotRunning = errors.New("no running agent server for entity")

// ErrNoActiveSession is returned when an operation needs an attached
// session and the server has none.
var ErrNoActiveSession = errors.New("no active session for entity")

// ErrConfigWrite wraps failures writing the per-worktree agent
// configuration; such failures are fatal and prevent the start.
var ErrConfigWrite = errors.New("failed to write agent configuration")

const defaultAgentConfigFile = "agent.config.json"

// StartStatus is returned by the start operations.
type StartStatus struct {
	EntityID  string `json:"entityId"`
	BaseURL   string `json:"baseUrl"`
	SessionID string `json:"sessionId"`
}

// Config configures an Orchestrator. Servers, Monitor, Transitions,
// PullRequests, Worktrees, and Projects are required.
type Config struct {
	Servers      ServerManager
	Monitor      Monitor
	Transitions  Transitions
	PullRequests PullRequests
	Worktrees    Worktrees
	Projects     Projects
	Prompts      Prompts
	Tracker      *startup.Tracker

	// ClientFactory builds agent API clients; defaults to agentapi.NewClient.
	ClientFactory ClientFactory

	// AgentConfigFile is the config file name written into each worktree
	// before start (default agent.config.json).
	AgentConfigFile string

	// DefaultModel is used when a start request does not name a model.
	DefaultModel string

	Logger *zap.Logger
}

// monitorTask is one in-flight background completion watch.
type monitorTask struct {
	projectID  string
	branchName string
	cancel     context.CancelFunc
	done       chan struct{}
}

// Orchestrator drives the per-entity state machine. Safe for concurrent use.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	monitors *csync.Map[string, *monitorTask]
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = startup.NewTracker()
	}
	if cfg.ClientFactory == nil {
		logger := cfg.Logger
		cfg.ClientFactory = func(baseURL string) AgentClient {
			return agentapi.NewClient(agentapi.Config{BaseURL: baseURL, Logger: logger})
		}
	}
	if cfg.AgentConfigFile == "" {
		cfg.AgentConfigFile = defaultAgentConfigFile
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   cfg.Logger.Named("workflow"),
		monitors: csync.NewMap[string, *monitorTask](),
	}
}

// Tracker exposes the startup tracker consumed by the notification layer.
func (o *Orchestrator) Tracker() *startup.Tracker {
	return o.cfg.Tracker
}

// StartForExistingItem starts (or resumes) an agent for an item whose
// worktree and branch may already exist: the worktree is ensured and
// pulled, agent configuration written, the server started, and the item's
// previous session resumed when there is one.
func (o *Orchestrator) StartForExistingItem(ctx context.Context, itemID, model string) (*StartStatus, error) {
	o.cfg.Tracker.SetStarting(itemID)

	st, _, err := o.startAgent(ctx, itemID, model, true)
	if err != nil {
		o.cfg.Tracker.SetFailed(itemID, err.Error())
		return nil, err
	}

	o.cfg.Tracker.SetStarted(itemID)
	return st, nil
}

// StartForPlannedItem starts an agent for a planned change. The work item
// is transitioned Pending -> InProgress before anything is allocated; any
// start failure rolls the transition back so the external state is never
// left InProgress without a live or monitored agent. On success the initial
// task prompt is dispatched fire-and-forget and a background completion
// monitor is spawned.
func (o *Orchestrator) StartForPlannedItem(ctx context.Context, projectID, changeID, model string) (*StartStatus, error) {
	// One monitoring task per item: a live record means the whole start
	// sequence already ran, and repeating it would open a second session
	// and re-send the task prompt.
	if _, active := o.monitors.Get(changeID); active {
		if srv, ok := o.cfg.Servers.GetServerForEntity(changeID); ok {
			o.logger.Info("Change already has a running agent",
				zap.String("project_id", projectID),
				zap.String("change_id", changeID))
			return &StartStatus{
				EntityID:  changeID,
				BaseURL:   srv.BaseURL(),
				SessionID: srv.SessionID(),
			}, nil
		}
	}

	o.cfg.Tracker.SetStarting(changeID)

	if err := o.cfg.Transitions.TransitionToInProgress(ctx, projectID, changeID); err != nil {
		err = fmt.Errorf("transition to in-progress: %w", err)
		o.cfg.Tracker.SetFailed(changeID, err.Error())
		return nil, err
	}

	st, branch, err := o.startAgent(ctx, changeID, model, false)
	if err != nil {
		if rbErr := o.cfg.Transitions.HandleStartFailure(ctx, projectID, changeID); rbErr != nil {
			o.logger.Error("Failed to roll back work item after start failure",
				zap.String("project_id", projectID),
				zap.String("change_id", changeID),
				zap.Error(rbErr))
		}
		o.cfg.Tracker.SetFailed(changeID, err.Error())
		return nil, err
	}

	o.sendInitialPrompt(ctx, projectID, changeID, st)
	o.spawnMonitor(projectID, changeID, branch, st.BaseURL)

	o.cfg.Tracker.SetStarted(changeID)
	return st, nil
}

// Stop cancels the item's monitoring task if present, stops its server, and
// runs completion handling once synchronously with whatever project context
// was available.
func (o *Orchestrator) Stop(ctx context.Context, itemID string) error {
	task, hadMonitor := o.monitors.Take(itemID)
	if hadMonitor {
		task.cancel()
		select {
		case <-task.done:
		case <-time.After(5 * time.Second):
			o.logger.Warn("Monitoring task slow to acknowledge cancellation",
				zap.String("entity_id", itemID))
		}
	}

	if err := o.cfg.Servers.StopServer(ctx, itemID); err != nil {
		o.logger.Warn("Failed to stop agent server",
			zap.String("entity_id", itemID),
			zap.Error(err))
	}

	var itemCtx *ItemContext
	if hadMonitor {
		itemCtx = &ItemContext{ProjectID: task.projectID, BranchName: task.branchName}
	} else {
		found, err := o.cfg.Projects.FindInProgress(ctx, itemID)
		if err != nil {
			o.logger.Warn("Failed to search projects for stopped item",
				zap.String("entity_id", itemID),
				zap.Error(err))
		}
		itemCtx = found
	}

	if itemCtx != nil {
		o.resolveAfterStop(ctx, itemCtx.ProjectID, itemID, itemCtx.BranchName)
	}

	o.cfg.Tracker.Clear(itemID)
	return nil
}

// SendPrompt sends a synchronous prompt to the item's active session.
func (o *Orchestrator) SendPrompt(ctx context.Context, itemID, text string) (*agentapi.Message, error) {
	srv, ok := o.cfg.Servers.GetServerForEntity(itemID)
	if !ok || srv.Status() != supervisor.StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrServerNotRunning, itemID)
	}
	sessionID := srv.SessionID()
	if sessionID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, itemID)
	}
	return o.cfg.ClientFactory(srv.BaseURL()).Prompt(ctx, sessionID, text)
}

// Shutdown cancels all monitoring tasks. Servers are stopped by the
// supervisor's own shutdown path.
func (o *Orchestrator) Shutdown() {
	for _, task := range o.monitors.Seq2() {
		task.cancel()
	}
}

// startAgent runs the shared start sequence: worktree, agent config,
// server, session. Returns the start status and the branch name.
func (o *Orchestrator) startAgent(ctx context.Context, entityID, model string, continueSession bool) (*StartStatus, string, error) {
	path, branch, err := o.cfg.Worktrees.Ensure(ctx, entityID)
	if err != nil {
		return nil, "", fmt.Errorf("ensure worktree for %s: %w", entityID, err)
	}

	if err := o.cfg.Worktrees.Pull(ctx, path); err != nil {
		// Stale checkouts are survivable; the agent can still work.
		o.logger.Warn("Failed to pull latest changes into worktree",
			zap.String("entity_id", entityID),
			zap.String("worktree", path),
			zap.Error(err))
	}

	if err := o.writeAgentConfig(path, model); err != nil {
		return nil, "", err
	}

	srv, err := o.cfg.Servers.StartServer(ctx, entityID, path, continueSession)
	if err != nil {
		return nil, "", err
	}

	client := o.cfg.ClientFactory(srv.BaseURL())
	session, err := o.resumeOrCreateSession(ctx, client, entityID, continueSession)
	if err != nil {
		_ = o.cfg.Servers.StopServer(ctx, entityID)
		return nil, "", fmt.Errorf("open session for %s: %w", entityID, err)
	}
	srv.SetSessionID(session.ID)

	o.checkWorkdir(ctx, client, entityID, path)

	return &StartStatus{
		EntityID:  entityID,
		BaseURL:   srv.BaseURL(),
		SessionID: session.ID,
	}, branch, nil
}

// resumeOrCreateSession reuses the most recent session when resuming,
// otherwise creates a fresh one titled after the entity.
func (o *Orchestrator) resumeOrCreateSession(ctx context.Context, client AgentClient, entityID string, resume bool) (*agentapi.Session, error) {
	if resume {
		sessions, err := client.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		if len(sessions) > 0 {
			return &sessions[0], nil
		}
	}
	return client.CreateSession(ctx, entityID)
}

// writeAgentConfig writes the model selection into the worktree so the
// agent picks it up at start. A write failure is fatal to the start.
func (o *Orchestrator) writeAgentConfig(worktreePath, model string) error {
	if model == "" {
		model = o.cfg.DefaultModel
	}
	if model == "" {
		return nil
	}

	data, err := json.MarshalIndent(map[string]string{"model": model}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}
	target := filepath.Join(worktreePath, o.cfg.AgentConfigFile)
	if err := os.WriteFile(target, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}
	return nil
}

// checkWorkdir compares the agent's reported working directory against the
// expected worktree. Diagnostic only.
func (o *Orchestrator) checkWorkdir(ctx context.Context, client AgentClient, entityID, expected string) {
	info, err := client.Path(ctx)
	if err != nil || info.Directory == "" {
		return
	}
	if info.Directory != expected {
		o.logger.Warn("Agent working directory does not match worktree",
			zap.String("entity_id", entityID),
			zap.String("expected", expected),
			zap.String("actual", info.Directory))
	}
}

// sendInitialPrompt dispatches the task prompt through the async endpoint.
// The agent's work is not awaited; failures are logged, the completion
// monitor still runs.
func (o *Orchestrator) sendInitialPrompt(ctx context.Context, projectID, changeID string, st *StartStatus) {
	if o.cfg.Prompts == nil {
		return
	}
	prompt, err := o.cfg.Prompts.TaskPrompt(ctx, projectID, changeID)
	if err != nil {
		o.logger.Error("Failed to generate task prompt",
			zap.String("change_id", changeID),
			zap.Error(err))
		return
	}
	client := o.cfg.ClientFactory(st.BaseURL)
	if err := client.PromptAsync(ctx, st.SessionID, prompt); err != nil {
		o.logger.Error("Failed to send initial task prompt",
			zap.String("change_id", changeID),
			zap.Error(err))
	}
}
