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
// Package startup broadcasts per-item agent startup transitions for the
// notification layer. It never blocks or retries on the caller's behalf.
package startup

import (
	"context"

	"github.com/teradata-labs/spindle/internal/csync"
	"github.com/teradata-labs/spindle/internal/pubsub"
)

// State is a startup phase.
type State string

const (
	// StateNotStarted is reported for entities with no recorded transition.
	StateNotStarted State = "not_started"
	// StateStarting means a start is in flight.
	StateStarting State = "starting"
	// StateStarted means the agent became healthy.
	StateStarted State = "started"
	// StateFailed means the start failed; ErrorMessage says why.
	StateFailed State = "failed"
)

// Info is the latest startup state of one entity. Ephemeral: each new
// transition supersedes the previous one, nothing is persisted.
type Info struct {
	EntityID     string `json:"entityId"`
	State        State  `json:"state"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Tracker holds the latest Info per entity and broadcasts transitions.
type Tracker struct {
	states *csync.Map[string, Info]
	broker *pubsub.Broker[Info]
}

// NewTracker creates a tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: csync.NewMap[string, Info](),
		broker: pubsub.NewBroker[Info](),
	}
}

// SetStarting records that a start is in flight for entityID.
func (t *Tracker) SetStarting(entityID string) {
	t.set(Info{EntityID: entityID, State: StateStarting})
}

// SetStarted records a successful start for entityID.
func (t *Tracker) SetStarted(entityID string) {
	t.set(Info{EntityID: entityID, State: StateStarted})
}

// SetFailed records a failed start for entityID with a user-facing message.
func (t *Tracker) SetFailed(entityID, errorMessage string) {
	t.set(Info{EntityID: entityID, State: StateFailed, ErrorMessage: errorMessage})
}

func (t *Tracker) set(info Info) {
	t.states.Set(info.EntityID, info)
	t.broker.Publish(pubsub.UpdatedEvent, info)
}

// Get returns the latest state for entityID, StateNotStarted if none.
func (t *Tracker) Get(entityID string) Info {
	if info, ok := t.states.Get(entityID); ok {
		return info
	}
	return Info{EntityID: entityID, State: StateNotStarted}
}

// Clear forgets the entity, typically after its server stopped.
func (t *Tracker) Clear(entityID string) {
	t.states.Delete(entityID)
}

// Subscribe returns a channel of state transitions bound to ctx.
func (t *Tracker) Subscribe(ctx context.Context) <-chan pubsub.Event[Info] {
	return t.broker.Subscribe(ctx)
}

// Shutdown closes all subscriber channels.
func (t *Tracker) Shutdown() {
	t.broker.Shutdown()
}
