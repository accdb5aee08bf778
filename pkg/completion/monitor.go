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
// Package completion watches an agent's event stream for the moment the
// agent opens a pull request, so the work item can be promoted without
// manual polling.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/teradata-labs/spindle/pkg/agentapi"
)

// PullRequest is one open PR reported by the external code-hosting client.
type PullRequest struct {
	BranchName string
	Number     int
	HTMLURL    string
}

// Finder lists open pull requests for a project. Implemented by the external
// code-hosting client; nil result with nil error means no PR for the branch.
type Finder interface {
	FindByBranch(ctx context.Context, projectID, branchName string) (*PullRequest, error)
}

// Status classifies how monitoring concluded.
type Status string

const (
	// StatusCompleted means a PR-creating command was detected.
	StatusCompleted Status = "completed"
	// StatusStreamEnded means the stream closed with no detection. This is
	// expected when the agent stops without opening a PR, not an error.
	StatusStreamEnded Status = "stream_ended"
	// StatusCancelled means the caller tore the monitor down.
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of one monitoring run.
type Result struct {
	Status   Status
	PRNumber int
	PRURL    string
	Reason   string
}

// Success reports whether a pull request was detected.
func (r Result) Success() bool {
	return r.Status == StatusCompleted
}

const (
	defaultLookupRetries = 3
	defaultLookupDelay   = 2 * time.Second
)

// Config configures a Monitor.
type Config struct {
	// Finder resolves a PR by branch when the command output carries no URL
	// (API propagation lag tolerance).
	Finder Finder

	// LookupRetries and LookupDelay bound the fallback lookup (default 3
	// tries, 2s fixed delay). The SSE wait itself has no timeout: an agent
	// may run for an unbounded time.
	LookupRetries int
	LookupDelay   time.Duration

	Logger *zap.Logger
}

// Monitor detects task completion on agent event streams. Regexes are
// compiled once per instance so tests can run with isolated configurations.
type Monitor struct {
	cfg    Config
	logger *zap.Logger

	createSig *regexp.Regexp
	prURL     *regexp.Regexp
}

// NewMonitor creates a monitor.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.LookupRetries <= 0 {
		cfg.LookupRetries = defaultLookupRetries
	}
	if cfg.LookupDelay <= 0 {
		cfg.LookupDelay = defaultLookupDelay
	}
	return &Monitor{
		cfg:       cfg,
		logger:    cfg.Logger.Named("completion"),
		createSig: regexp.MustCompile(`\bgh\s+pr\s+create\b`),
		prURL:     regexp.MustCompile(`https://github\.com/[^/\s]+/[^/\s]+/pull/(\d+)`),
	}
}

// MonitorForCompletion subscribes to the agent's event stream at baseURL and
// blocks until a PR-creating shell execution is detected, the stream ends,
// or ctx is cancelled. A cancelled run never mutates external state and is
// reported distinctly from a stream that simply ended.
func (m *Monitor) MonitorForCompletion(ctx context.Context, baseURL, projectID, branchName string) Result {
	client := agentapi.NewClient(agentapi.Config{BaseURL: baseURL, Logger: m.logger})
	return m.watch(ctx, client.Subscribe(ctx), projectID, branchName)
}

func (m *Monitor) watch(ctx context.Context, events <-chan agentapi.Event, projectID, branchName string) Result {
	for {
		select {
		case <-ctx.Done():
			return Result{Status: StatusCancelled, Reason: "monitoring cancelled"}
		case ev, ok := <-events:
			if !ok {
				return Result{Status: StatusStreamEnded, Reason: "stream ended"}
			}
			command, output, ok := shellExecution(ev)
			if !ok || !m.createSig.MatchString(command+"\n"+output) {
				continue
			}

			m.logger.Info("Detected pull request creation",
				zap.String("project_id", projectID),
				zap.String("branch", branchName))

			if match := m.prURL.FindStringSubmatch(output); match != nil {
				number, _ := strconv.Atoi(match[1])
				return Result{Status: StatusCompleted, PRNumber: number, PRURL: match[0]}
			}
			return m.lookupByBranch(ctx, projectID, branchName)
		}
	}
}

// lookupByBranch resolves the PR through the listing API with a bounded
// number of fixed-delay retries, tolerating propagation lag.
func (m *Monitor) lookupByBranch(ctx context.Context, projectID, branchName string) Result {
	pr, err := backoff.Retry(ctx, func() (*PullRequest, error) {
		pr, err := m.cfg.Finder.FindByBranch(ctx, projectID, branchName)
		if err != nil {
			return nil, err
		}
		if pr == nil {
			return nil, errors.New("no open pull request for branch yet")
		}
		return pr, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.LookupDelay)),
		backoff.WithMaxTries(uint(m.cfg.LookupRetries)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Status: StatusCancelled, Reason: "monitoring cancelled"}
		}
		m.logger.Warn("Pull request lookup exhausted",
			zap.String("project_id", projectID),
			zap.String("branch", branchName),
			zap.Int("retries", m.cfg.LookupRetries),
			zap.Error(err))
		// Treated like a stream that ended without a signal; a human can
		// still promote the item once the PR shows up.
		return Result{Status: StatusStreamEnded, Reason: "pull request lookup exhausted"}
	}
	return Result{Status: StatusCompleted, PRNumber: pr.Number, PRURL: pr.HTMLURL}
}

// shellExecution extracts the command and output of a completed shell tool
// execution from an event, if the event is one.
func shellExecution(ev agentapi.Event) (command, output string, ok bool) {
	if ev.Type != "message.part.updated" {
		return "", "", false
	}
	var props struct {
		Part struct {
			Type  string `json:"type"`
			Tool  string `json:"tool"`
			State struct {
				Status string `json:"status"`
				Input  struct {
					Command string `json:"command"`
				} `json:"input"`
				Output string `json:"output"`
			} `json:"state"`
		} `json:"part"`
	}
	if err := json.Unmarshal(ev.Properties, &props); err != nil {
		return "", "", false
	}
	part := props.Part
	if part.Type != "tool" || part.State.Status != "completed" {
		return "", "", false
	}
	if !isShellTool(part.Tool) {
		return "", "", false
	}
	return part.State.Input.Command, part.State.Output, true
}

func isShellTool(tool string) bool {
	switch strings.ToLower(tool) {
	case "bash", "shell", "sh":
		return true
	}
	return false
}
