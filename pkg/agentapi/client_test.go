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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Logger: zap.NewNop()})
}

func TestClient_CreateSession(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/session", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wi-1", body["title"])

		_ = json.NewEncoder(w).Encode(Session{ID: "ses_123", Title: body["title"]})
	}))

	sess, err := c.CreateSession(context.Background(), "wi-1")
	require.NoError(t, err)
	assert.Equal(t, "ses_123", sess.ID)
}

func TestClient_PromptAsync(t *testing.T) {
	var got Message
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/ses_1/prompt_async", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))

	require.NoError(t, c.PromptAsync(context.Background(), "ses_1", "do the thing"))
	require.Len(t, got.Parts, 1)
	assert.Equal(t, "do the thing", got.Parts[0].Text)
}

func TestClient_HealthError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	}))

	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_Subscribe(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/event", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		fmt.Fprint(w, "data: {\"type\":\"session.updated\",\"properties\":{}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: not json at all\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message.part.updated\",\"properties\":{\"n\":2}}\n\n")
		flusher.Flush()
		// Handler returns, closing the stream.
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := c.Subscribe(ctx)

	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	// The malformed frame is skipped, the stream end closes the channel.
	assert.Equal(t, []string{"session.updated", "message.part.updated"}, types)
}

func TestClient_SubscribeCancel(t *testing.T) {
	blocked := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-blocked // hold the stream open until the test finishes
	}))
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	events := c.Subscribe(ctx)

	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel should close promptly on cancel")
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not honor cancellation")
	}
}
