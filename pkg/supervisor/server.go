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
package supervisor

import (
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Status is the lifecycle state of an agent server.
type Status string

const (
	// StatusStarting means the process is spawned but not yet healthy.
	StatusStarting Status = "starting"
	// StatusRunning means the health check passed and the route is live.
	StatusRunning Status = "running"
	// StatusFailed means startup failed; the record is being torn down.
	StatusFailed Status = "failed"
	// StatusStopped means the server was stopped on request.
	StatusStopped Status = "stopped"
)

// AgentServer is one agent process serving one entity. Exactly one live
// AgentServer exists per entity id; the Manager's map owns the record and
// the record owns the OS process.
type AgentServer struct {
	EntityID     string
	WorktreePath string
	Port         int
	StartedAt    time.Time

	mu              sync.Mutex
	status          Status
	activeSessionID string

	ready     chan struct{} // closed once the start attempt resolves
	readyOnce sync.Once

	cmd      *exec.Cmd
	exited   chan struct{} // closed by the wait goroutine
	exitCode int
	exitErr  error
}

// markReady resolves the start attempt: the server is now Running, Failed,
// or Stopped, never Starting again.
func (s *AgentServer) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Status returns the current lifecycle state.
func (s *AgentServer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *AgentServer) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SessionID returns the active agent session, if one has been attached.
func (s *AgentServer) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSessionID
}

// SetSessionID records the session the orchestrator opened on this server.
func (s *AgentServer) SetSessionID(id string) {
	s.mu.Lock()
	s.activeSessionID = id
	s.mu.Unlock()
}

// BaseURL returns the agent's HTTP origin.
func (s *AgentServer) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port)
}

// Exited is closed once the child process has exited.
func (s *AgentServer) Exited() <-chan struct{} {
	return s.exited
}

// ExitCode returns the child's exit code, or -1 while it is still running.
func (s *AgentServer) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Pid returns the child process id, or 0 before spawn.
func (s *AgentServer) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
