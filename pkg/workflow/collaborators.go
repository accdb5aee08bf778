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
package workflow

import (
	"context"

	"github.com/teradata-labs/spindle/pkg/agentapi"
	"github.com/teradata-labs/spindle/pkg/completion"
	"github.com/teradata-labs/spindle/pkg/supervisor"
)

// ItemStatus mirrors the work-item lifecycle owned by the external work-item
// service. Only the edges below are ever driven from here:
//
//	Pending    -> InProgress  (agent start)
//	InProgress -> AwaitingPR  (agent stopped or stream ended, no PR found)
//	InProgress -> Complete    (PR detected, item promoted)
//	InProgress -> Pending     (start failure rollback)
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemAwaitingPR ItemStatus = "awaiting_pr"
	ItemComplete   ItemStatus = "complete"
)

// Transitions is the external work-item transition service.
type Transitions interface {
	// TransitionToInProgress moves a planned item Pending -> InProgress.
	TransitionToInProgress(ctx context.Context, projectID, changeID string) error
	// TransitionToAwaitingPR moves an item InProgress -> AwaitingPR.
	TransitionToAwaitingPR(ctx context.Context, projectID, changeID string) error
	// HandleStartFailure rolls an item back InProgress -> Pending.
	HandleStartFailure(ctx context.Context, projectID, changeID string) error
	// PromoteToTrackedPR completes the item: assigns the PR number, clears
	// the agent reference, and removes it from the planning tree.
	PromoteToTrackedPR(ctx context.Context, projectID, changeID string, prNumber int) error
}

// PullRequests is the external code-hosting client surface consumed here.
type PullRequests interface {
	completion.Finder
	// Refresh re-fetches PR metadata for a project after a promotion.
	Refresh(ctx context.Context, projectID string) error
}

// Worktrees provisions and updates the isolated checkout an agent works in.
type Worktrees interface {
	// Ensure returns the worktree path and branch name for an entity,
	// creating both if needed.
	Ensure(ctx context.Context, entityID string) (path, branch string, err error)
	// Pull brings the worktree up to date with the remote.
	Pull(ctx context.Context, path string) error
}

// ItemContext locates a work item within a project.
type ItemContext struct {
	ProjectID  string
	BranchName string
}

// Projects supports the fallback search used when an item is stopped
// without a monitoring record. O(projects) is acceptable at this scale.
type Projects interface {
	// FindInProgress returns the context of the InProgress item matching
	// entityID, or nil when no project has one.
	FindInProgress(ctx context.Context, entityID string) (*ItemContext, error)
}

// Prompts generates the initial task prompt for a planned item. The
// template text itself is produced outside this core.
type Prompts interface {
	TaskPrompt(ctx context.Context, projectID, changeID string) (string, error)
}

// Server is the per-entity agent server surface the orchestrator needs.
// Implemented by supervisor.AgentServer.
type Server interface {
	BaseURL() string
	Status() supervisor.Status
	SessionID() string
	SetSessionID(id string)
}

// ServerManager is the supervisor surface the orchestrator drives.
type ServerManager interface {
	StartServer(ctx context.Context, entityID, worktreePath string, continueSession bool) (Server, error)
	StopServer(ctx context.Context, entityID string) error
	GetServerForEntity(entityID string) (Server, bool)
}

// SupervisorAdapter adapts a *supervisor.Manager to ServerManager.
type SupervisorAdapter struct {
	Manager *supervisor.Manager
}

// StartServer implements ServerManager.
func (a SupervisorAdapter) StartServer(ctx context.Context, entityID, worktreePath string, continueSession bool) (Server, error) {
	srv, err := a.Manager.StartServer(ctx, entityID, worktreePath, continueSession)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// StopServer implements ServerManager.
func (a SupervisorAdapter) StopServer(ctx context.Context, entityID string) error {
	return a.Manager.StopServer(ctx, entityID)
}

// GetServerForEntity implements ServerManager.
func (a SupervisorAdapter) GetServerForEntity(entityID string) (Server, bool) {
	srv, ok := a.Manager.GetServerForEntity(entityID)
	if !ok {
		return nil, false
	}
	return srv, true
}

// Monitor detects task completion on an agent's event stream. Implemented
// by completion.Monitor.
type Monitor interface {
	MonitorForCompletion(ctx context.Context, baseURL, projectID, branchName string) completion.Result
}

// AgentClient is the session/prompt surface of the agent HTTP API used by
// the orchestrator. Implemented by agentapi.Client.
type AgentClient interface {
	CreateSession(ctx context.Context, title string) (*agentapi.Session, error)
	ListSessions(ctx context.Context) ([]agentapi.Session, error)
	Prompt(ctx context.Context, id, text string) (*agentapi.Message, error)
	PromptAsync(ctx context.Context, id, text string) error
	Path(ctx context.Context) (*agentapi.PathInfo, error)
}

// ClientFactory builds an AgentClient for an agent origin.
type ClientFactory func(baseURL string) AgentClient
