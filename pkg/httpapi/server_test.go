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
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/spindle/pkg/agentapi"
	"github.com/teradata-labs/spindle/pkg/startup"
	"github.com/teradata-labs/spindle/pkg/supervisor"
	"github.com/teradata-labs/spindle/pkg/workflow"
)

type fakeWorkflows struct {
	tracker   *startup.Tracker
	startErr  error
	promptErr error
	stopped   []string
}

func newFakeWorkflows() *fakeWorkflows {
	return &fakeWorkflows{tracker: startup.NewTracker()}
}

func (f *fakeWorkflows) StartForExistingItem(_ context.Context, itemID, _ string) (*workflow.StartStatus, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &workflow.StartStatus{EntityID: itemID, BaseURL: "http://127.0.0.1:4056", SessionID: "ses-1"}, nil
}

func (f *fakeWorkflows) StartForPlannedItem(_ context.Context, _, changeID, _ string) (*workflow.StartStatus, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &workflow.StartStatus{EntityID: changeID, BaseURL: "http://127.0.0.1:4057", SessionID: "ses-2"}, nil
}

func (f *fakeWorkflows) Stop(_ context.Context, itemID string) error {
	f.stopped = append(f.stopped, itemID)
	return nil
}

func (f *fakeWorkflows) SendPrompt(_ context.Context, _, text string) (*agentapi.Message, error) {
	if f.promptErr != nil {
		return nil, f.promptErr
	}
	return &agentapi.Message{ID: "msg-1", Role: "assistant", Parts: []agentapi.Part{{Type: "text", Text: "echo " + text}}}, nil
}

func (f *fakeWorkflows) Tracker() *startup.Tracker { return f.tracker }

type fakeInventory struct {
	servers []*supervisor.AgentServer
}

func (f *fakeInventory) RunningServers() []*supervisor.AgentServer { return f.servers }

func newTestHandler(wf *fakeWorkflows) *Handler {
	return NewHandler(Config{
		Workflows: wf,
		Servers:   &fakeInventory{},
	})
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(newFakeWorkflows()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestRequestIDPreserved(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(newFakeWorkflows()))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-abc", resp.Header.Get("X-Request-ID"))
}

func TestStartExistingItem(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(newFakeWorkflows()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/items/item-1/start", "application/json", strings.NewReader(`{"model":"m1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st workflow.StartStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "item-1", st.EntityID)
	assert.Equal(t, "ses-1", st.SessionID)
}

func TestStartPlannedItem(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(newFakeWorkflows()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/projects/proj-1/changes/chg-1/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st workflow.StartStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "chg-1", st.EntityID)
}

func TestStop(t *testing.T) {
	wf := newFakeWorkflows()
	srv := httptest.NewServer(newTestHandler(wf))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/items/item-1/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"item-1"}, wf.stopped)
}

func TestPromptValidation(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(newFakeWorkflows()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/items/item-1/prompt", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"server not running", workflow.ErrServerNotRunning, http.StatusNotFound},
		{"no session", workflow.ErrNoActiveSession, http.StatusConflict},
		{"worktree missing", fmt.Errorf("start: %w", supervisor.ErrWorktreeMissing), http.StatusUnprocessableEntity},
		{"startup failure", &supervisor.StartupError{EntityID: "x", Reason: "health check timed out", ExitCode: -1}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := newFakeWorkflows()
			wf.startErr = tt.err
			wf.promptErr = tt.err
			srv := httptest.NewServer(newTestHandler(wf))
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/v1/items/item-1/start", "application/json", nil)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestStartupState(t *testing.T) {
	wf := newFakeWorkflows()
	wf.tracker.SetFailed("item-1", "spawn failed")
	srv := httptest.NewServer(newTestHandler(wf))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/startup/item-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info startup.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, startup.StateFailed, info.State)
	assert.Equal(t, "spawn failed", info.ErrorMessage)
}

func TestStartupEventsStream(t *testing.T) {
	wf := newFakeWorkflows()
	srv := httptest.NewServer(newTestHandler(wf))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/startup/item-1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	readFrame := func() startup.Info {
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var info startup.Info
				require.NoError(t, json.Unmarshal([]byte(data), &info))
				return info
			}
		}
		t.Fatal("stream ended before a frame arrived")
		return startup.Info{}
	}

	// Initial snapshot arrives before any transition.
	first := readFrame()
	assert.Equal(t, startup.StateNotStarted, first.State)

	wf.tracker.SetStarting("item-1")
	wf.tracker.SetStarting("other-item") // must be filtered out
	wf.tracker.SetStarted("item-1")

	assert.Equal(t, startup.StateStarting, readFrame().State)
	next := readFrame()
	assert.Equal(t, "item-1", next.EntityID)
	assert.Equal(t, startup.StateStarted, next.State)
}

func TestServersInventory(t *testing.T) {
	h := NewHandler(Config{
		Workflows: newFakeWorkflows(),
		Servers:   &fakeInventory{},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/servers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Servers []ServerInfo `json:"servers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Servers)
}

func TestProxyMount(t *testing.T) {
	proxied := false
	h := NewHandler(Config{
		Workflows: newFakeWorkflows(),
		Servers:   &fakeInventory{},
		Proxy: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			proxied = true
			w.WriteHeader(http.StatusOK)
		}),
		BasePath: "/proxy",
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/proxy/4056/app")
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, proxied)
}
