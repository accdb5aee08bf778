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
// Package agentapi is a client for the HTTP/SSE API served by a coding-agent
// process (serve mode). One Client talks to one agent on 127.0.0.1:{port}.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Session is an agent conversation handle.
type Session struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Message is a single prompt or reply in a session.
type Message struct {
	ID    string `json:"id,omitempty"`
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part is one segment of a message.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// PathInfo reports the agent's actual working directory, used for a
// diagnostic mismatch check against the expected worktree.
type PathInfo struct {
	Directory string `json:"directory"`
	Worktree  string `json:"worktree,omitempty"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the agent origin, e.g. http://127.0.0.1:5001.
	BaseURL string

	// HTTPClient overrides the default client. The default has no overall
	// timeout because synchronous prompts can run for minutes; pass a
	// context to bound individual calls.
	HTTPClient *http.Client

	// Logger for skipped-frame and diagnostic output.
	Logger *zap.Logger
}

// Client talks to one agent server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for the agent at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    httpClient,
		logger:  logger,
	}
}

// BaseURL returns the agent origin this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks GET /global/health. Any 2xx response counts as healthy.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/global/health", nil, nil)
}

// CreateSession creates a new session, optionally titled.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	var body any
	if title != "" {
		body = map[string]string{"title": title}
	}
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/session", body, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns all sessions known to the agent.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, "/session", nil, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// GetSession fetches one session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodGet, "/session/"+id, nil, &sess); err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+id, nil, nil)
}

// AbortSession interrupts whatever the session is currently doing.
func (c *Client) AbortSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/session/"+id+"/abort", nil, nil)
}

// Messages lists the messages of a session.
func (c *Client) Messages(ctx context.Context, id string) ([]Message, error) {
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/session/"+id+"/message", nil, &msgs); err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", id, err)
	}
	return msgs, nil
}

// Prompt sends a synchronous prompt and returns the agent's reply.
func (c *Client) Prompt(ctx context.Context, id, text string) (*Message, error) {
	req := Message{Parts: []Part{{Type: "text", Text: text}}}
	var reply Message
	if err := c.do(ctx, http.MethodPost, "/session/"+id+"/message", req, &reply); err != nil {
		return nil, fmt.Errorf("prompt session %s: %w", id, err)
	}
	return &reply, nil
}

// PromptAsync sends a prompt without waiting for the reply. The agent works
// on it in the background; progress arrives on the event stream.
func (c *Client) PromptAsync(ctx context.Context, id, text string) error {
	req := Message{Parts: []Part{{Type: "text", Text: text}}}
	if err := c.do(ctx, http.MethodPost, "/session/"+id+"/prompt_async", req, nil); err != nil {
		return fmt.Errorf("async prompt session %s: %w", id, err)
	}
	return nil
}

// Path reports the agent's working directory.
func (c *Client) Path(ctx context.Context) (*PathInfo, error) {
	var info PathInfo
	if err := c.do(ctx, http.MethodGet, "/path", nil, &info); err != nil {
		return nil, fmt.Errorf("query agent path: %w", err)
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
