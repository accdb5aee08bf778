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
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teradata-labs/spindle/pkg/agentapi"
)

const (
	healthPollInitial = 100 * time.Millisecond
	healthPollMax     = time.Second
)

// pollHealth polls the agent's health endpoint with exponential backoff
// (100ms doubling, capped at 1s) until it answers or HealthTimeout elapses.
// If the child exits first, it fails immediately with the exit code instead
// of waiting out the timeout.
func (m *Manager) pollHealth(ctx context.Context, srv *AgentServer) error {
	client := agentapi.NewClient(agentapi.Config{
		BaseURL: srv.BaseURL(),
		Logger:  m.logger,
	})

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = healthPollInitial
		b.Multiplier = 2
		b.MaxInterval = healthPollMax
		b.RandomizationFactor = 0

		_, err := backoff.Retry(pollCtx, func() (struct{}, error) {
			return struct{}{}, client.Health(pollCtx)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(m.cfg.HealthTimeout),
		)
		done <- err
	}()

	select {
	case <-srv.exited:
		return &StartupError{
			EntityID: srv.EntityID,
			Reason:   "process exited before becoming healthy",
			ExitCode: srv.ExitCode(),
		}
	case err := <-done:
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StartupError{
				EntityID: srv.EntityID,
				Reason:   "health check did not succeed within timeout",
				ExitCode: -1,
				Err:      err,
			}
		}
		return nil
	}
}
