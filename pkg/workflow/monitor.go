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

	"go.uber.org/zap"

	"github.com/teradata-labs/spindle/pkg/completion"
)

// spawnMonitor launches the background completion watch for one change and
// records it so Stop and Shutdown can cancel it.
func (o *Orchestrator) spawnMonitor(projectID, changeID, branchName, baseURL string) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &monitorTask{
		projectID:  projectID,
		branchName: branchName,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	// Each item owns exactly one monitoring task; never displace a live
	// record, or its cancel handle becomes unreachable.
	if _, loaded := o.monitors.GetOrSet(changeID, task); loaded {
		o.logger.Warn("Monitoring task already active, not spawning another",
			zap.String("change_id", changeID))
		cancel()
		close(task.done)
		return
	}

	go func() {
		defer close(task.done)
		defer cancel()

		result := o.cfg.Monitor.MonitorForCompletion(ctx, baseURL, projectID, branchName)
		if result.Status == completion.StatusCancelled {
			// Stop owns the record and whatever resolution is still needed.
			return
		}

		// Natural completion: claim the record so a racing Stop does not
		// double-handle, then stop the server and apply the outcome.
		if _, ok := o.monitors.Take(changeID); !ok {
			return
		}
		stopCtx := context.Background()
		if err := o.cfg.Servers.StopServer(stopCtx, changeID); err != nil {
			o.logger.Warn("Failed to stop agent server after completion",
				zap.String("change_id", changeID),
				zap.Error(err))
		}
		o.handleOutcome(stopCtx, projectID, changeID, result)
		o.cfg.Tracker.Clear(changeID)
	}()
}

// handleOutcome maps a monitoring result onto the work-item state machine.
func (o *Orchestrator) handleOutcome(ctx context.Context, projectID, changeID string, result completion.Result) {
	if result.Success() {
		if err := o.cfg.Transitions.PromoteToTrackedPR(ctx, projectID, changeID, result.PRNumber); err != nil {
			o.logger.Error("Failed to promote change to tracked pull request",
				zap.String("project_id", projectID),
				zap.String("change_id", changeID),
				zap.Int("pr_number", result.PRNumber),
				zap.Error(err))
			o.markAwaitingPR(ctx, projectID, changeID)
			return
		}
		o.logger.Info("Change promoted to tracked pull request",
			zap.String("project_id", projectID),
			zap.String("change_id", changeID),
			zap.Int("pr_number", result.PRNumber))
		if err := o.cfg.PullRequests.Refresh(ctx, projectID); err != nil {
			o.logger.Warn("Failed to refresh pull request cache",
				zap.String("project_id", projectID),
				zap.Error(err))
		}
		return
	}

	o.logger.Info("Agent finished without a confirmed pull request",
		zap.String("project_id", projectID),
		zap.String("change_id", changeID),
		zap.String("status", string(result.Status)),
		zap.String("reason", result.Reason))
	o.markAwaitingPR(ctx, projectID, changeID)
}

// resolveAfterStop runs one synchronous lookup for a pull request on the
// item's branch after a manual stop, then applies the outcome.
func (o *Orchestrator) resolveAfterStop(ctx context.Context, projectID, changeID, branchName string) {
	pr, err := o.cfg.PullRequests.FindByBranch(ctx, projectID, branchName)
	if err != nil {
		o.logger.Warn("Pull request lookup failed after stop",
			zap.String("change_id", changeID),
			zap.String("branch", branchName),
			zap.Error(err))
	}
	result := completion.Result{Status: completion.StatusStreamEnded, Reason: "stopped by user"}
	if pr != nil {
		result = completion.Result{
			Status:   completion.StatusCompleted,
			PRNumber: pr.Number,
			PRURL:    pr.HTMLURL,
		}
	}
	o.handleOutcome(ctx, projectID, changeID, result)
}

// markAwaitingPR moves the item to the awaiting-PR holding state. Failures
// are logged; there is no further fallback.
func (o *Orchestrator) markAwaitingPR(ctx context.Context, projectID, changeID string) {
	if err := o.cfg.Transitions.TransitionToAwaitingPR(ctx, projectID, changeID); err != nil {
		o.logger.Error("Failed to transition change to awaiting-PR",
			zap.String("project_id", projectID),
			zap.String("change_id", changeID),
			zap.Error(err))
	}
}
