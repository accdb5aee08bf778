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
package startup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_LatestStateWins(t *testing.T) {
	tr := NewTracker()
	defer tr.Shutdown()

	assert.Equal(t, StateNotStarted, tr.Get("wi-1").State)

	tr.SetStarting("wi-1")
	assert.Equal(t, StateStarting, tr.Get("wi-1").State)

	tr.SetFailed("wi-1", "port pool capacity exceeded")
	info := tr.Get("wi-1")
	assert.Equal(t, StateFailed, info.State)
	assert.Equal(t, "port pool capacity exceeded", info.ErrorMessage)

	tr.SetStarting("wi-1")
	tr.SetStarted("wi-1")
	info = tr.Get("wi-1")
	assert.Equal(t, StateStarted, info.State)
	assert.Empty(t, info.ErrorMessage, "new transition supersedes the old error")
}

func TestTracker_BroadcastsTransitions(t *testing.T) {
	tr := NewTracker()
	defer tr.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := tr.Subscribe(ctx)

	tr.SetStarting("wi-1")
	tr.SetStarted("wi-1")

	var states []State
	timeout := time.After(2 * time.Second)
	for len(states) < 2 {
		select {
		case ev := <-events:
			states = append(states, ev.Payload.State)
		case <-timeout:
			t.Fatalf("timed out, saw %v", states)
		}
	}
	require.Equal(t, []State{StateStarting, StateStarted}, states)
}

func TestTracker_Clear(t *testing.T) {
	tr := NewTracker()
	defer tr.Shutdown()

	tr.SetStarted("wi-1")
	tr.Clear("wi-1")
	assert.Equal(t, StateNotStarted, tr.Get("wi-1").State)
}
