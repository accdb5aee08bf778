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
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/teradata-labs/spindle/pkg/completion"
	"github.com/teradata-labs/spindle/pkg/workflow"
)

// The standalone binary has no work-item service, code-hosting client, or
// VCS integration attached; those live behind the workflow collaborator
// interfaces and are injected by embedders. The adapters below are the
// single-host defaults: plain directories as worktrees, transitions logged
// only, and no pull-request lookups.

// dirWorktrees hands out plain directories under a fixed root, one per
// entity, with a branch name derived from the entity id.
type dirWorktrees struct {
	root string
}

func (w dirWorktrees) Ensure(_ context.Context, entityID string) (string, string, error) {
	path := filepath.Join(w.root, entityID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", "", fmt.Errorf("create worktree directory: %w", err)
	}
	return path, "spindle/" + entityID, nil
}

func (w dirWorktrees) Pull(_ context.Context, _ string) error { return nil }

// loggedTransitions records state transitions in the log instead of an
// external work-item service.
type loggedTransitions struct {
	logger *zap.Logger
}

func (t loggedTransitions) TransitionToInProgress(_ context.Context, projectID, changeID string) error {
	t.logger.Info("Work item in progress",
		zap.String("project_id", projectID),
		zap.String("change_id", changeID))
	return nil
}

func (t loggedTransitions) TransitionToAwaitingPR(_ context.Context, projectID, changeID string) error {
	t.logger.Info("Work item awaiting pull request",
		zap.String("project_id", projectID),
		zap.String("change_id", changeID))
	return nil
}

func (t loggedTransitions) HandleStartFailure(_ context.Context, projectID, changeID string) error {
	t.logger.Info("Work item rolled back to pending",
		zap.String("project_id", projectID),
		zap.String("change_id", changeID))
	return nil
}

func (t loggedTransitions) PromoteToTrackedPR(_ context.Context, projectID, changeID string, prNumber int) error {
	t.logger.Info("Work item promoted to tracked pull request",
		zap.String("project_id", projectID),
		zap.String("change_id", changeID),
		zap.Int("pr_number", prNumber))
	return nil
}

// noPullRequests never finds a PR; completion falls back to the in-stream
// URL when the agent prints one.
type noPullRequests struct{}

func (noPullRequests) FindByBranch(_ context.Context, _, _ string) (*completion.PullRequest, error) {
	return nil, nil
}

func (noPullRequests) Refresh(_ context.Context, _ string) error { return nil }

// noProjects has no planning tree to search.
type noProjects struct{}

func (noProjects) FindInProgress(_ context.Context, _ string) (*workflow.ItemContext, error) {
	return nil, nil
}
