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
// Package httpapi exposes the orchestration engine over HTTP: item
// start/stop/prompt operations, server inventory, startup-state polling and
// streaming, and the reverse-proxy mount for browser access to agent UIs.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/spindle/internal/version"
	"github.com/teradata-labs/spindle/pkg/agentapi"
	"github.com/teradata-labs/spindle/pkg/ports"
	"github.com/teradata-labs/spindle/pkg/startup"
	"github.com/teradata-labs/spindle/pkg/supervisor"
	"github.com/teradata-labs/spindle/pkg/workflow"
)

// Workflows is the orchestrator surface the API serves. Implemented by
// *workflow.Orchestrator.
type Workflows interface {
	StartForExistingItem(ctx context.Context, itemID, model string) (*workflow.StartStatus, error)
	StartForPlannedItem(ctx context.Context, projectID, changeID, model string) (*workflow.StartStatus, error)
	Stop(ctx context.Context, itemID string) error
	SendPrompt(ctx context.Context, itemID, text string) (*agentapi.Message, error)
	Tracker() *startup.Tracker
}

// Servers is the inventory surface. Implemented by *supervisor.Manager.
type Servers interface {
	RunningServers() []*supervisor.AgentServer
}

// ServerInfo is the wire form of one running agent server.
type ServerInfo struct {
	EntityID  string    `json:"entityId"`
	Port      int       `json:"port"`
	Status    string    `json:"status"`
	Worktree  string    `json:"worktree"`
	StartedAt time.Time `json:"startedAt"`
}

// Config configures the HTTP handler.
type Config struct {
	Workflows Workflows
	Servers   Servers

	// Proxy, when set, is mounted at BasePath to route browser traffic to
	// agent servers.
	Proxy    http.Handler
	BasePath string

	Logger *zap.Logger
}

// Handler is the root HTTP handler.
type Handler struct {
	cfg    Config
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewHandler builds the route table.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Handler{
		cfg:    cfg,
		logger: cfg.Logger.Named("httpapi"),
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /v1/servers", h.handleServers)
	h.mux.HandleFunc("GET /v1/startup/{entity}", h.handleStartupState)
	h.mux.HandleFunc("GET /v1/startup/{entity}/events", h.handleStartupEvents)
	h.mux.HandleFunc("POST /v1/items/{id}/start", h.handleStartExisting)
	h.mux.HandleFunc("POST /v1/items/{id}/stop", h.handleStop)
	h.mux.HandleFunc("POST /v1/items/{id}/prompt", h.handlePrompt)
	h.mux.HandleFunc("POST /v1/projects/{project}/changes/{change}/start", h.handleStartPlanned)

	if cfg.Proxy != nil && cfg.BasePath != "" {
		prefix := strings.TrimSuffix(cfg.BasePath, "/")
		h.mux.Handle(prefix+"/", cfg.Proxy)
	}

	return h
}

// ServeHTTP tags each request with an ID and dispatches it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	start := time.Now()
	h.mux.ServeHTTP(w, r)
	h.logger.Debug("Request handled",
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("duration", time.Since(start)))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (h *Handler) handleServers(w http.ResponseWriter, _ *http.Request) {
	running := h.cfg.Servers.RunningServers()
	infos := make([]ServerInfo, 0, len(running))
	for _, srv := range running {
		infos = append(infos, ServerInfo{
			EntityID:  srv.EntityID,
			Port:      srv.Port,
			Status:    string(srv.Status()),
			Worktree:  srv.WorktreePath,
			StartedAt: srv.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": infos})
}

func (h *Handler) handleStartupState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Workflows.Tracker().Get(r.PathValue("entity")))
}

// handleStartupEvents streams startup-state changes for one entity as SSE
// until the client disconnects.
func (h *Handler) handleStartupEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	entityID := r.PathValue("entity")
	events := h.cfg.Workflows.Tracker().Subscribe(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	// Send the current state first so clients need no separate poll.
	h.writeSSE(w, h.cfg.Workflows.Tracker().Get(entityID))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.Payload.EntityID != entityID {
				continue
			}
			h.writeSSE(w, ev.Payload)
			flusher.Flush()
		}
	}
}

func (h *Handler) writeSSE(w http.ResponseWriter, info startup.Info) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

type startRequest struct {
	Model string `json:"model"`
}

type promptRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleStartExisting(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := h.cfg.Workflows.StartForExistingItem(r.Context(), r.PathValue("id"), req.Model)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleStartPlanned(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := h.cfg.Workflows.StartForPlannedItem(r.Context(), r.PathValue("project"), r.PathValue("change"), req.Model)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Workflows.Stop(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	msg, err := h.cfg.Workflows.SendPrompt(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// statusFor maps sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	var startupErr *supervisor.StartupError
	switch {
	case errors.Is(err, workflow.ErrServerNotRunning):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, ports.ErrCapacityExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, supervisor.ErrWorktreeMissing):
		return http.StatusUnprocessableEntity
	case errors.As(err, &startupErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body; an empty body yields the zero
// request.
func decodeBody(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
