package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/forgeview/orchestrator/internal/clock"
	"github.com/forgeview/orchestrator/internal/coordinator"
	"github.com/forgeview/orchestrator/internal/genai"
	"github.com/forgeview/orchestrator/internal/history"
	"github.com/forgeview/orchestrator/internal/runtime"
	"github.com/forgeview/orchestrator/internal/sandbox"
	"github.com/forgeview/orchestrator/pkg/types"
)

type stubPlanner struct {
	tasks []types.TaskSpec
	err   error
	calls int
}

func (s *stubPlanner) Plan(context.Context, string) ([]types.TaskSpec, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.tasks, nil
}

func twoTasks() []types.TaskSpec {
	return []types.TaskSpec{
		{Type: types.TaskTypeUI, Description: "Build the user interface for: a notes app"},
		{Type: types.TaskTypeBackend, Description: "Build the backend services for: a notes app"},
	}
}

type fixture struct {
	m     *Manager
	coord *coordinator.Coordinator
	vc    *clock.Virtual
	plan  *stubPlanner
}

// newFixture wires a manager with no runtime provider, so "auto" sandbox
// mode resolves to static and everything runs on the virtual clock.
func newFixture(t *testing.T, plan *stubPlanner) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := coordinator.New(history.NewMemoryStore(history.DefaultConfig()), logger)
	vc := clock.NewVirtual()

	m := New(coord, vc, plan, &genai.MockClient{}, nil, runtime.NewSlot(), Config{
		AppName:     "Test App",
		Framework:   "react",
		SettleDelay: 100 * time.Millisecond,
		Stagger:     250 * time.Millisecond,
		SandboxMode: "auto",
		Sandbox:     sandbox.Config{GraceDelay: time.Second},
	}, logger)

	return &fixture{m: m, coord: coord, vc: vc, plan: plan}
}

func TestStartBuildSpawnsGraph(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	b, err := f.m.StartBuild(context.Background(), Request{Prompt: "a notes app"})
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	if b.Status != StatusRunning {
		t.Errorf("build status = %s, want running", b.Status)
	}
	if f.plan.calls != 1 {
		t.Errorf("planner called %d times, want 1", f.plan.calls)
	}
	if len(b.NodeIDs) != 2 {
		t.Fatalf("build tracks %d producers, want 2", len(b.NodeIDs))
	}

	nodes := f.coord.Nodes()
	if len(nodes) != 4 {
		t.Fatalf("graph has %d nodes, want manager + 2 producers + sandbox", len(nodes))
	}
	wantTypes := []types.NodeType{
		types.NodeTypeManager,
		types.NodeTypeProducerUI,
		types.NodeTypeProducerBackend,
		types.NodeTypeSandbox,
	}
	for i, n := range nodes {
		if n.Type != wantTypes[i] {
			t.Errorf("node[%d] type = %s, want %s", i, n.Type, wantTypes[i])
		}
	}

	// One edge from the manager to each spawned child.
	edges := f.coord.Edges()
	if len(edges) != 3 {
		t.Fatalf("graph has %d edges, want 3", len(edges))
	}
	for i, e := range edges {
		if e.Source != b.ManagerID {
			t.Errorf("edge[%d] source = %s, want manager", i, e.Source)
		}
	}

	if got := f.coord.SandboxID(); got != b.SandboxID {
		t.Errorf("delivery target = %s, want %s", got, b.SandboxID)
	}

	// No provider configured: auto mode lands in static preview with the
	// placeholder scaffold.
	snap := f.m.Sandbox().Snapshot()
	if snap.Mode != types.ModeStatic {
		t.Errorf("sandbox mode = %s, want static", snap.Mode)
	}
	if len(snap.Files) == 0 {
		t.Error("static sandbox has no scaffold files")
	}
	if snap.Preview == nil || snap.Preview.Markup == "" {
		t.Error("static sandbox has no preview markup")
	}
}

func TestStartBuildConflict(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	if _, err := f.m.StartBuild(context.Background(), Request{Prompt: "a notes app"}); err != nil {
		t.Fatalf("first StartBuild() error = %v", err)
	}
	_, err := f.m.StartBuild(context.Background(), Request{Prompt: "another app"})
	if !errors.Is(err, ErrBuildInProgress) {
		t.Errorf("second StartBuild() error = %v, want ErrBuildInProgress", err)
	}
}

func TestStartBuildEmptyPrompt(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	if _, err := f.m.StartBuild(context.Background(), Request{Prompt: "   "}); err == nil {
		t.Error("StartBuild() with blank prompt succeeded, want error")
	}
	if f.plan.calls != 0 {
		t.Errorf("planner called %d times for blank prompt, want 0", f.plan.calls)
	}
}

func TestStartBuildPlannerFailure(t *testing.T) {
	f := newFixture(t, &stubPlanner{err: errors.New("planner down")})

	if _, err := f.m.StartBuild(context.Background(), Request{Prompt: "a notes app"}); err == nil {
		t.Fatal("StartBuild() succeeded with failing planner, want error")
	}
	if f.m.CurrentBuild() != nil {
		t.Error("failed planning left a tracked build behind")
	}
	if got := len(f.coord.Nodes()); got != 0 {
		t.Errorf("failed planning spawned %d nodes, want 0", got)
	}
}

func TestRequestTasksBypassPlanner(t *testing.T) {
	f := newFixture(t, &stubPlanner{err: errors.New("planner down")})

	b, err := f.m.StartBuild(context.Background(), Request{
		Prompt: "a notes app",
		Tasks:  twoTasks(),
	})
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	if f.plan.calls != 0 {
		t.Errorf("planner called %d times with explicit tasks, want 0", f.plan.calls)
	}
	if len(b.Tasks) != 2 {
		t.Errorf("build tracks %d tasks, want 2", len(b.Tasks))
	}
}

func TestBuildRunsToCompletion(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	b, err := f.m.StartBuild(context.Background(), Request{Prompt: "a notes app"})
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}

	// Staggered starts, settle delays and every stage budget all fall
	// inside one large advance.
	f.vc.Advance(time.Hour)

	got := f.m.CurrentBuild()
	if got.Status != StatusCompleted {
		t.Fatalf("build status = %s, want completed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("completed build has no finish timestamp")
	}
	if len(got.Completed) != 2 {
		t.Fatalf("completed producers = %d, want 2", len(got.Completed))
	}

	node, err := f.coord.Node(b.ManagerID)
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if node.Status != types.NodeStatusCompleted || node.Progress != 100 {
		t.Errorf("manager node = %s/%d, want completed/100", node.Status, node.Progress)
	}

	execs := f.m.Executions()
	if len(execs) != 2 {
		t.Fatalf("Executions() returned %d entries, want 2", len(execs))
	}
	for i, exec := range execs {
		if exec.Status != types.ExecutionCompleted {
			t.Errorf("execution[%d] status = %s, want completed", i, exec.Status)
		}
		if exec.NodeID != b.NodeIDs[i] {
			t.Errorf("execution[%d] node = %s, want spawn order preserved", i, exec.NodeID)
		}
	}

	// Both producers' files landed in the sandbox table; the shared
	// package.json path collapsed last-write-wins.
	table := f.m.Sandbox().FileTable()
	for _, path := range []string{"src/App.jsx", "server.js", "routes/api.js", "package.json"} {
		if _, ok := table[path]; !ok {
			t.Errorf("sandbox table missing %s", path)
		}
	}

	files := f.m.Files()
	if len(files) != 7 {
		t.Errorf("Files() returned %d entries, want 4 ui + 3 backend", len(files))
	}
	for _, gf := range files {
		if gf.Status != types.FileCompleted {
			t.Errorf("file %s status = %s, want completed", gf.Path, gf.Status)
		}
	}
}

func TestCompletionIgnoresStrangersAndDuplicates(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	b, err := f.m.StartBuild(context.Background(), Request{Prompt: "a notes app"})
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}

	done := types.StatusUpdatePayload{Status: types.NodeStatusCompleted, Progress: 100}
	send := func(from string) {
		t.Helper()
		if _, err := f.coord.SendMessage(types.StatusMessage(from, b.ManagerID, done)); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
	}

	send("intruder")
	if got := f.m.CurrentBuild(); len(got.Completed) != 0 {
		t.Errorf("stranger counted: completed = %v", got.Completed)
	}

	send(b.NodeIDs[0])
	send(b.NodeIDs[0])
	got := f.m.CurrentBuild()
	if len(got.Completed) != 1 || got.Completed[0] != b.NodeIDs[0] {
		t.Errorf("duplicate counted: completed = %v", got.Completed)
	}
	if got.Status != StatusRunning {
		t.Errorf("build status = %s, want still running", got.Status)
	}

	send(b.NodeIDs[1])
	if got := f.m.CurrentBuild(); got.Status != StatusCompleted {
		t.Errorf("build status = %s, want completed after both producers", got.Status)
	}
}

func TestResetTearsDown(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	if _, err := f.m.StartBuild(context.Background(), Request{Prompt: "a notes app"}); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	// Partway in: first pipeline is mid-stage, second just started.
	f.vc.Advance(300 * time.Millisecond)

	f.m.Reset(context.Background())

	if f.m.CurrentBuild() != nil {
		t.Error("CurrentBuild() non-nil after reset")
	}
	if f.m.Sandbox() != nil {
		t.Error("Sandbox() non-nil after reset")
	}
	if got := len(f.coord.Nodes()); got != 0 {
		t.Errorf("graph has %d nodes after reset, want 0", got)
	}
	if got := f.coord.SandboxID(); got != "" {
		t.Errorf("delivery target = %q after reset, want none", got)
	}

	// Outstanding stage timers fire into the bumped generation and strand.
	f.vc.Advance(time.Hour)
	if got := len(f.coord.History()); got != 0 {
		t.Errorf("stranded timers produced %d messages after reset", got)
	}
}

func TestNewBuildAfterCompletionResets(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	first, err := f.m.StartBuild(context.Background(), Request{Prompt: "a notes app"})
	if err != nil {
		t.Fatalf("first StartBuild() error = %v", err)
	}
	f.vc.Advance(time.Hour)
	if got := f.m.CurrentBuild(); got.Status != StatusCompleted {
		t.Fatalf("first build status = %s, want completed", got.Status)
	}

	second, err := f.m.StartBuild(context.Background(), Request{Prompt: "a recipe browser"})
	if err != nil {
		t.Fatalf("second StartBuild() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("second build reused the first build's id")
	}
	if second.Prompt != "a recipe browser" {
		t.Errorf("second build prompt = %q", second.Prompt)
	}
	if got := len(f.coord.Nodes()); got != 4 {
		t.Errorf("graph has %d nodes after restart, want a fresh set of 4", got)
	}

	f.vc.Advance(time.Hour)
	if got := f.m.CurrentBuild(); got.Status != StatusCompleted {
		t.Errorf("second build status = %s, want completed", got.Status)
	}
}

func TestExplicitStaticMode(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	_, err := f.m.StartBuild(context.Background(), Request{
		Prompt:      "a notes app",
		SandboxMode: "static",
	})
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}

	snap := f.m.Sandbox().Snapshot()
	if snap.Mode != types.ModeStatic {
		t.Fatalf("sandbox mode = %s, want static", snap.Mode)
	}
	if snap.Preview == nil || snap.Preview.Source != types.PreviewSourceStatic {
		t.Errorf("preview = %+v, want static source", snap.Preview)
	}
}

func TestBuildDefaults(t *testing.T) {
	f := newFixture(t, &stubPlanner{tasks: twoTasks()})

	b, err := f.m.StartBuild(context.Background(), Request{
		Prompt:    "a notes app",
		AppName:   "",
		Framework: "svelte",
	})
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	if b.AppName != "Test App" {
		t.Errorf("app name = %q, want configured default", b.AppName)
	}
	if b.Framework != "svelte" {
		t.Errorf("framework = %q, want request override", b.Framework)
	}
}
