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
package agentapi

import (
	"context"
	"encoding/json"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	backoffv1 "gopkg.in/cenkalti/backoff.v1"
)

// Event is one frame from the agent's GET /event stream.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Subscribe opens the agent's SSE event stream and yields one Event per
// frame on the returned channel. Malformed payloads are logged and skipped.
// The channel closes when the connection ends (agent stopped) or ctx is
// cancelled; the subscription is not restartable, open a new one to retry.
func (c *Client) Subscribe(ctx context.Context) <-chan Event {
	events := make(chan Event, 64)

	client := sse.NewClient(c.baseURL + "/event")
	client.Connection = c.http
	client.Headers["Accept"] = "text/event-stream"
	// One subscription per agent lifetime; a dropped connection means the
	// agent went away, not that we should dial again.
	client.ReconnectStrategy = &backoffv1.StopBackOff{}

	go func() {
		defer close(events)

		err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			if len(msg.Data) == 0 {
				return
			}
			var ev Event
			if jsonErr := json.Unmarshal(msg.Data, &ev); jsonErr != nil {
				c.logger.Warn("Skipping malformed event frame",
					zap.String("base_url", c.baseURL),
					zap.Error(jsonErr))
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Debug("Event stream closed",
				zap.String("base_url", c.baseURL),
				zap.Error(err))
		}
	}()

	return events
}
