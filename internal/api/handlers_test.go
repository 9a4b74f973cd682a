package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forgeview/orchestrator/internal/artifact"
	"github.com/forgeview/orchestrator/internal/build"
	"github.com/forgeview/orchestrator/internal/clock"
	"github.com/forgeview/orchestrator/internal/config"
	"github.com/forgeview/orchestrator/internal/coordinator"
	"github.com/forgeview/orchestrator/internal/genai"
	"github.com/forgeview/orchestrator/internal/history"
	"github.com/forgeview/orchestrator/internal/runtime"
	"github.com/forgeview/orchestrator/internal/sandbox"
	"github.com/forgeview/orchestrator/internal/validator"
	"github.com/forgeview/orchestrator/pkg/types"
)

type stubPlanner struct {
	tasks []types.TaskSpec
}

func (s *stubPlanner) Plan(context.Context, string) ([]types.TaskSpec, error) {
	return s.tasks, nil
}

type apiFixture struct {
	srv    *Server
	builds *build.Manager
	coord  *coordinator.Coordinator
	vc     *clock.Virtual
	store  *history.MemoryStore
}

// newAPIFixture wires the full handler stack over a virtual clock, a
// memory event store and a memory artifact backend. No runtime provider
// is configured, so builds land in static preview mode.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := history.NewMemoryStore(history.DefaultConfig())
	t.Cleanup(func() { store.Close() })

	coord := coordinator.New(store, logger)
	vc := clock.NewVirtual()
	plan := &stubPlanner{tasks: []types.TaskSpec{
		{Type: types.TaskTypeUI, Description: "Build the user interface for: a notes app"},
		{Type: types.TaskTypeBackend, Description: "Build the backend services for: a notes app"},
	}}
	builds := build.New(coord, vc, plan, &genai.MockClient{}, nil, runtime.NewSlot(), build.Config{
		AppName:     "Test App",
		Framework:   "react",
		SettleDelay: 100 * time.Millisecond,
		Stagger:     250 * time.Millisecond,
		SandboxMode: "auto",
		Sandbox:     sandbox.Config{GraceDelay: time.Second},
	}, logger)

	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator.New() error = %v", err)
	}
	artifacts, err := artifact.New(artifact.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("artifact.New() error = %v", err)
	}

	cfg := &config.Config{CORSOrigins: []string{"http://localhost:5173"}}
	h := NewHandlers(coord, builds, store, v, artifacts, cfg, logger)

	return &apiFixture{
		srv:    NewServer(h, nil),
		builds: builds,
		coord:  coord,
		vc:     vc,
		store:  store,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rr.Body.String())
	}
	return body
}

// startBuild posts a valid request and fails the test on anything but 201.
func (f *apiFixture) startBuild(t *testing.T) *build.Build {
	t.Helper()
	rr := f.do(t, "POST", "/api/v1/builds", `{"prompt":"a notes app"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /builds status = %d, body = %s", rr.Code, rr.Body.String())
	}
	b := f.builds.CurrentBuild()
	if b == nil {
		t.Fatal("no current build after create")
	}
	return b
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/health", "/healthz"} {
		rr := f.do(t, "GET", path, "")
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rr.Code)
		}
	}

	rr := f.do(t, "GET", "/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /ready status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ready" {
		t.Errorf("ready status = %v", body["status"])
	}
	if _, ok := body["history"]; !ok {
		t.Error("ready response missing history adapter info")
	}
}

func TestCreateBuild(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, "POST", "/api/v1/builds", `{"prompt":"a notes app"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["events_url"] != "/api/v1/events" {
		t.Errorf("events_url = %v", body["events_url"])
	}
	created, ok := body["build"].(map[string]interface{})
	if !ok {
		t.Fatalf("build payload missing: %s", rr.Body.String())
	}
	if created["status"] != "running" {
		t.Errorf("build status = %v, want running", created["status"])
	}

	// Second request while the first is still running.
	rr = f.do(t, "POST", "/api/v1/builds", `{"prompt":"another app"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("concurrent create status = %d, want 409", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "conflict" {
		t.Errorf("error code = %v, want conflict", got)
	}
}

func TestCreateBuildValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing prompt", `{}`},
		{"empty prompt", `{"prompt":""}`},
		{"bad sandbox mode", `{"prompt":"x","sandbox_mode":"turbo"}`},
		{"malformed json", `{"prompt":`},
		{"bad task plan", `{"prompt":"x","tasks":[{"type":"database","description":"y"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, "POST", "/api/v1/builds", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["error"] != "bad_request" {
				t.Errorf("error code = %v, want bad_request", body["error"])
			}
		})
	}

	if f.builds.CurrentBuild() != nil {
		t.Error("rejected requests started a build")
	}
}

func TestCurrentBuild(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, "GET", "/api/v1/builds/current", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status before any build = %d, want 404", rr.Code)
	}

	f.startBuild(t)
	f.vc.Advance(time.Hour)

	rr = f.do(t, "GET", "/api/v1/builds/current", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	current, ok := body["build"].(map[string]interface{})
	if !ok {
		t.Fatalf("build payload missing: %s", rr.Body.String())
	}
	if current["status"] != "completed" {
		t.Errorf("build status = %v, want completed", current["status"])
	}
	execs, ok := body["executions"].([]interface{})
	if !ok || len(execs) != 2 {
		t.Errorf("executions = %v, want 2 entries", body["executions"])
	}
}

func TestGraphAndNodes(t *testing.T) {
	f := newAPIFixture(t)
	b := f.startBuild(t)

	rr := f.do(t, "GET", "/api/v1/graph", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /graph status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if nodes, ok := body["nodes"].([]interface{}); !ok || len(nodes) != 4 {
		t.Errorf("graph nodes = %v, want 4", body["nodes"])
	}
	if edges, ok := body["edges"].([]interface{}); !ok || len(edges) != 3 {
		t.Errorf("graph edges = %v, want 3", body["edges"])
	}

	rr = f.do(t, "GET", "/api/v1/nodes/"+b.NodeIDs[0], "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /nodes/{id} status = %d", rr.Code)
	}
	body = decodeBody(t, rr)
	if _, ok := body["node"]; !ok {
		t.Error("node payload missing")
	}
	// Producer nodes carry their pipeline execution state.
	if _, ok := body["execution"]; !ok {
		t.Error("producer node response missing execution")
	}

	rr = f.do(t, "GET", "/api/v1/nodes/no-such-node", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown node status = %d, want 404", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "not_found" {
		t.Errorf("error code = %v, want not_found", got)
	}
}

func TestMessagesLimit(t *testing.T) {
	f := newAPIFixture(t)
	f.startBuild(t)
	f.vc.Advance(time.Hour)

	rr := f.do(t, "GET", "/api/v1/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /messages status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	total := int(body["total"].(float64))
	if total == 0 {
		t.Fatal("completed build produced no messages")
	}

	rr = f.do(t, "GET", "/api/v1/messages?limit=3", "")
	body = decodeBody(t, rr)
	msgs, ok := body["messages"].([]interface{})
	if !ok || len(msgs) != 3 {
		t.Errorf("limited messages = %d entries, want 3", len(msgs))
	}
	if got := int(body["total"].(float64)); got != total {
		t.Errorf("total = %d with limit, want %d", got, total)
	}

	rr = f.do(t, "GET", "/api/v1/messages?limit=nope", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d, want 400", rr.Code)
	}
}

func TestFilesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.startBuild(t)
	f.vc.Advance(time.Hour)

	rr := f.do(t, "GET", "/api/v1/files", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /files status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	files, ok := body["files"].([]interface{})
	if !ok || len(files) != 7 {
		t.Errorf("files = %d entries, want 4 ui + 3 backend", len(files))
	}
}

func TestPreviewEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, "GET", "/api/v1/preview", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("preview without sandbox status = %d, want 404", rr.Code)
	}

	f.startBuild(t)
	f.vc.Advance(time.Hour)

	rr = f.do(t, "GET", "/api/v1/preview", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /preview status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["mode"] != "static" {
		t.Errorf("preview mode = %v, want static", body["mode"])
	}

	rr = f.do(t, "GET", "/api/v1/preview/page", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /preview/page status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("preview page content type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "<!DOCTYPE html>") {
		t.Error("preview page is not an HTML document")
	}
}

func TestSetSandboxMode(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, "POST", "/api/v1/sandbox/mode", `{"mode":"static"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("mode without sandbox status = %d, want 404", rr.Code)
	}

	f.startBuild(t)

	rr = f.do(t, "POST", "/api/v1/sandbox/mode", `{"mode":"static"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("static mode status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["mode"]; got != "static" {
		t.Errorf("snapshot mode = %v, want static", got)
	}

	rr = f.do(t, "POST", "/api/v1/sandbox/mode", `{"mode":"turbo"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown mode status = %d, want 400", rr.Code)
	}

	rr = f.do(t, "POST", "/api/v1/sandbox/mode", `{"mode":"none"}`)
	if rr.Code != http.StatusOK {
		t.Errorf("none mode status = %d, want 200", rr.Code)
	}
}

func TestExport(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, "POST", "/api/v1/export", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("export without sandbox status = %d, want 404", rr.Code)
	}

	b := f.startBuild(t)
	f.vc.Advance(time.Hour)

	rr = f.do(t, "POST", "/api/v1/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["build_id"] != b.ID {
		t.Errorf("exported build_id = %v, want %s", body["build_id"], b.ID)
	}
	files, ok := body["files"].([]interface{})
	if !ok || len(files) == 0 {
		t.Error("export returned no files")
	}
	if _, ok := body["preview"]; !ok {
		t.Error("export missing preview document")
	}
}

func TestExportUnconfigured(t *testing.T) {
	f := newAPIFixture(t)
	f.srv.handlers.artifacts = nil
	f.startBuild(t)

	rr := f.do(t, "POST", "/api/v1/export", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "service_unavailable" {
		t.Errorf("error code = %v, want service_unavailable", got)
	}
}

func TestResetEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.startBuild(t)

	rr := f.do(t, "POST", "/api/v1/reset", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /reset status = %d", rr.Code)
	}

	rr = f.do(t, "GET", "/api/v1/builds/current", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("builds/current after reset = %d, want 404", rr.Code)
	}
	if got := len(f.coord.Nodes()); got != 0 {
		t.Errorf("graph has %d nodes after reset, want 0", got)
	}
}

func TestStreamEventsReplay(t *testing.T) {
	f := newAPIFixture(t)
	f.startBuild(t)
	f.vc.Advance(time.Hour)

	events, err := f.store.EventsSince(context.Background(), "")
	if err != nil {
		t.Fatalf("EventsSince() error = %v", err)
	}
	if len(events) < 3 {
		t.Fatalf("completed build produced %d events", len(events))
	}

	// A pre-cancelled context makes the handler write the hello event,
	// replay everything after Last-Event-ID and return without blocking.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", "/api/v1/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", events[0].ID)
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	stream := rr.Body.String()
	if !strings.Contains(stream, "event: hello") {
		t.Error("stream missing hello event")
	}
	if strings.Contains(stream, "id: "+events[0].ID+"\n") {
		t.Error("stream replayed the event the client already had")
	}
	for _, evt := range events[1:] {
		if !strings.Contains(stream, "id: "+evt.ID+"\n") {
			t.Errorf("stream missing replayed event %s", evt.ID)
		}
	}
}

func TestRequestIDPropagation(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/graph", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("X-Request-ID = %q, want echoed id", got)
	}

	// Generated when the client sends none.
	rr = f.do(t, "GET", "/api/v1/graph", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID generated")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest("OPTIONS", "/api/v1/builds", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
}
