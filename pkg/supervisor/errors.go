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
	"errors"
	"fmt"
)

// ErrWorktreeMissing means the worktree directory does not exist; starting
// an agent there is refused before any resources are allocated.
var ErrWorktreeMissing = errors.New("worktree directory does not exist")

// StartupError reports a server that never became healthy. All partial
// allocation (process, port, record) has been rolled back by the time the
// caller sees it.
type StartupError struct {
	EntityID string
	Reason   string
	// ExitCode is the child's exit code when it exited before becoming
	// healthy, or -1 when the process was still alive at timeout.
	ExitCode int
	Err      error
}

// Error implements error.
func (e *StartupError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("agent server for %s failed to start: %s (exit code %d)", e.EntityID, e.Reason, e.ExitCode)
	}
	return fmt.Sprintf("agent server for %s failed to start: %s", e.EntityID, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *StartupError) Unwrap() error {
	return e.Err
}
