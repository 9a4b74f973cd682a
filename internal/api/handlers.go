package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/forgeview/orchestrator/internal/artifact"
	"github.com/forgeview/orchestrator/internal/build"
	"github.com/forgeview/orchestrator/internal/config"
	"github.com/forgeview/orchestrator/internal/coordinator"
	"github.com/forgeview/orchestrator/internal/history"
	"github.com/forgeview/orchestrator/internal/validator"
)

// maxRequestBody bounds control-endpoint request bodies.
const maxRequestBody = 1 << 20

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	coord     *coordinator.Coordinator
	builds    *build.Manager
	store     history.Store
	validator *validator.Validator
	artifacts *artifact.Service
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance. artifacts may be nil; the
// export endpoint then reports the backend as unavailable.
func NewHandlers(coord *coordinator.Coordinator, builds *build.Manager, store history.Store, v *validator.Validator, artifacts *artifact.Service, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		coord:     coord,
		builds:    builds,
		store:     store,
		validator: v,
		artifacts: artifacts,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /healthz endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking the event store.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.AdapterInfo(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "event store unhealthy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ready",
		"history": info,
	})
}

// --- Build Management ---

// CreateBuild handles POST /api/v1/builds. The body is validated against
// the build-request schema; an explicit task list is additionally checked
// against the plan schema before it bypasses the planner.
func (h *Handlers) CreateBuild(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if h.validator != nil {
		if result := h.validator.ValidateBuildJSON(body); !result.Valid {
			writeErrorResponse(w, r, http.StatusBadRequest, "invalid build request",
				map[string]interface{}{"errors": result.Errors})
			return
		}
	}

	var req build.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if h.validator != nil && len(req.Tasks) > 0 {
		var raw map[string]interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			result := h.validator.ValidatePlan(map[string]interface{}{"tasks": raw["tasks"]})
			if !result.Valid {
				writeErrorResponse(w, r, http.StatusBadRequest, "invalid task plan",
					map[string]interface{}{"errors": result.Errors})
				return
			}
		}
	}

	b, err := h.builds.StartBuild(r.Context(), req)
	if err != nil {
		if errors.Is(err, build.ErrBuildInProgress) {
			h.respondError(w, r, http.StatusConflict, "a build is already in progress", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to start build", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"build":      b,
		"events_url": "/api/v1/events",
	})
}

// CurrentBuild handles GET /api/v1/builds/current.
func (h *Handlers) CurrentBuild(w http.ResponseWriter, r *http.Request) {
	b := h.builds.CurrentBuild()
	if b == nil {
		h.respondError(w, r, http.StatusNotFound, "no build has been started", nil)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"build":      b,
		"executions": h.builds.Executions(),
	})
}

// ResetAll handles POST /api/v1/reset.
func (h *Handlers) ResetAll(w http.ResponseWriter, r *http.Request) {
	h.builds.Reset(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// --- Graph & Messages ---

// Graph handles GET /api/v1/graph.
func (h *Handlers) Graph(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": h.coord.Nodes(),
		"edges": h.coord.Edges(),
	})
}

// GetNode handles GET /api/v1/nodes/{id}. Producer nodes include their
// pipeline execution state.
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	node, err := h.coord.Node(id)
	if err != nil {
		if errors.Is(err, coordinator.ErrNodeNotFound) {
			h.respondError(w, r, http.StatusNotFound, "node not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get node", err)
		return
	}

	resp := map[string]interface{}{"node": node}
	if exec, ok := h.builds.Execution(id); ok {
		resp["execution"] = exec
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Messages handles GET /api/v1/messages. An optional ?limit=N returns
// only the most recent N entries; total always counts the full history.
func (h *Handlers) Messages(w http.ResponseWriter, r *http.Request) {
	msgs := h.coord.History()
	total := len(msgs)

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.respondError(w, r, http.StatusBadRequest, "invalid limit parameter", err)
			return
		}
		if limit < total {
			msgs = msgs[total-limit:]
		}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"total":    total,
	})
}

// Files handles GET /api/v1/files.
func (h *Handlers) Files(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": h.builds.Files(),
	})
}

// --- Preview & Sandbox ---

// Preview handles GET /api/v1/preview, returning the sandbox snapshot.
func (h *Handlers) Preview(w http.ResponseWriter, r *http.Request) {
	sb := h.builds.Sandbox()
	if sb == nil {
		h.respondError(w, r, http.StatusNotFound, "no active sandbox", nil)
		return
	}
	h.respondJSON(w, http.StatusOK, sb.Snapshot())
}

// PreviewPage handles GET /api/v1/preview/page. Static previews are
// served as markup directly; runtime previews redirect to the dev server.
func (h *Handlers) PreviewPage(w http.ResponseWriter, r *http.Request) {
	sb := h.builds.Sandbox()
	if sb == nil {
		http.Error(w, "no active sandbox", http.StatusNotFound)
		return
	}

	preview := sb.Preview()
	switch {
	case preview == nil:
		http.Error(w, "no preview available", http.StatusNotFound)
	case preview.URL != "":
		http.Redirect(w, r, preview.URL, http.StatusFound)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(preview.Markup)); err != nil {
			h.logger.Error("failed to write preview page", slog.String("error", err.Error()))
		}
	}
}

type sandboxModeRequest struct {
	Mode string `json:"mode"`
}

// SetSandboxMode handles POST /api/v1/sandbox/mode. Switching to
// execution mode returns 202 immediately; provisioning continues in the
// background and surfaces through the event stream.
func (h *Handlers) SetSandboxMode(w http.ResponseWriter, r *http.Request) {
	sb := h.builds.Sandbox()
	if sb == nil {
		h.respondError(w, r, http.StatusNotFound, "no active sandbox", nil)
		return
	}

	var req sandboxModeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	switch strings.ToLower(req.Mode) {
	case "static":
		sb.EnterStaticMode()
		h.respondJSON(w, http.StatusOK, sb.Snapshot())
	case "execution":
		go func() {
			if err := sb.EnterExecutionMode(context.Background()); err != nil {
				h.logger.Debug("execution mode unavailable", slog.String("error", err.Error()))
			}
		}()
		h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "provisioning"})
	case "none":
		sb.ExitStaticMode()
		h.respondJSON(w, http.StatusOK, sb.Snapshot())
	default:
		h.respondError(w, r, http.StatusBadRequest, "unknown sandbox mode "+strconv.Quote(req.Mode), nil)
	}
}

// --- Artifact Export ---

// Export handles POST /api/v1/export, uploading the sandbox file table
// and the current preview markup to the artifact backend.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	if h.artifacts == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "artifact export not configured", nil)
		return
	}
	sb := h.builds.Sandbox()
	if sb == nil {
		h.respondError(w, r, http.StatusNotFound, "no active sandbox", nil)
		return
	}

	var buildID string
	if b := h.builds.CurrentBuild(); b != nil {
		buildID = b.ID
	}
	var markup string
	if p := sb.Preview(); p != nil {
		markup = p.Markup
	}

	snap, err := h.artifacts.ExportSnapshot(r.Context(), buildID, sb.FileTable(), markup)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "export failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		h.logger.Error(message, slog.Int("status", status), slog.String("error", err.Error()))
	} else {
		h.logger.Error(message, slog.Int("status", status))
	}
	writeErrorResponse(w, r, status, message, nil)
}
