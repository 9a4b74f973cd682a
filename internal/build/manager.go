// Package build coordinates one build run end to end: planning, node
// spawning, pipeline execution, sandbox registration and completion
// tracking. At most one build is active at a time; starting a new one
// after the previous finished tears the old run down first.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/forgeview/orchestrator/internal/clock"
	"github.com/forgeview/orchestrator/internal/coordinator"
	"github.com/forgeview/orchestrator/internal/genai"
	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/internal/pipeline"
	"github.com/forgeview/orchestrator/internal/planner"
	"github.com/forgeview/orchestrator/internal/runtime"
	"github.com/forgeview/orchestrator/internal/sandbox"
	"github.com/forgeview/orchestrator/pkg/types"
)

// ErrBuildInProgress is returned by StartBuild while another build is
// still running. The API layer maps it to 409.
var ErrBuildInProgress = errors.New("a build is already in progress")

// Request describes one build submission.
type Request struct {
	Prompt      string `json:"prompt"`
	AppName     string `json:"app_name,omitempty"`
	Framework   string `json:"framework,omitempty"`
	SandboxMode string `json:"sandbox_mode,omitempty"`

	// Tasks, when non-empty, bypasses the planner.
	Tasks []types.TaskSpec `json:"tasks,omitempty"`
}

// Status is the lifecycle state of a build run.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Build is the tracked state of one run.
type Build struct {
	ID        string           `json:"id"`
	Prompt    string           `json:"prompt"`
	AppName   string           `json:"app_name"`
	Framework string           `json:"framework"`
	Status    Status           `json:"status"`
	Tasks     []types.TaskSpec `json:"tasks"`

	// ManagerID is the coordinating node. NodeIDs lists the producers in
	// spawn order and Completed the ones that have reported done, in
	// completion order.
	ManagerID  string     `json:"manager_id"`
	SandboxID  string     `json:"sandbox_id"`
	NodeIDs    []string   `json:"node_ids"`
	Completed  []string   `json:"completed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Config holds build defaults and pacing.
type Config struct {
	// AppName and Framework apply when the request leaves them blank.
	AppName   string
	Framework string

	SettleDelay time.Duration
	TimeScale   float64
	// Stagger spaces consecutive pipeline starts. Values <= 0 start all
	// pipelines at once.
	Stagger time.Duration

	// SandboxMode is the default mode: "auto", "execution" or "static".
	SandboxMode string
	Sandbox     sandbox.Config
}

// Manager owns the lifecycle of the single active build. The mutex
// guards run state only; it is never held across coordinator, sandbox
// or planner calls.
type Manager struct {
	mu          sync.Mutex
	current     *Build
	pipelines   map[string]*pipeline.Pipeline
	sandbox     *sandbox.Manager
	completed   map[string]bool
	unsubscribe func()

	coord    *coordinator.Coordinator
	sched    clock.Scheduler
	plan     planner.Planner
	gen      genai.Client
	provider runtime.Provider
	slot     *runtime.Slot
	cfg      Config
	logger   *slog.Logger
}

// New creates a build manager. provider and slot may be nil; the
// sandbox then falls back to the none runtime.
func New(coord *coordinator.Coordinator, sched clock.Scheduler, plan planner.Planner, gen genai.Client, provider runtime.Provider, slot *runtime.Slot, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pipelines: make(map[string]*pipeline.Pipeline),
		completed: make(map[string]bool),
		coord:     coord,
		sched:     sched,
		plan:      plan,
		gen:       gen,
		provider:  provider,
		slot:      slot,
		cfg:       cfg,
		logger:    logger,
	}
}

// StartBuild plans the prompt, spawns the agent graph and starts the
// producer pipelines. It returns a snapshot of the new build, or
// ErrBuildInProgress while a previous run is still active. A finished
// previous run is reset implicitly.
func (m *Manager) StartBuild(ctx context.Context, req Request) (*Build, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && len(req.Tasks) == 0 {
		return nil, errors.New("start build: empty prompt")
	}

	m.mu.Lock()
	if m.current != nil && m.current.Status != StatusCompleted && m.current.Status != StatusFailed {
		m.mu.Unlock()
		return nil, ErrBuildInProgress
	}
	stale := m.current != nil
	m.mu.Unlock()

	if stale {
		m.Reset(ctx)
	}

	tasks := req.Tasks
	if len(tasks) == 0 {
		planned, err := m.plan.Plan(ctx, prompt)
		if err != nil {
			metrics.BuildsTotal.WithLabelValues("failed").Inc()
			m.coord.Emit(types.EventInput{
				Type: types.EventTypeError,
				Data: types.LogEvent{
					Level:   types.LogLevelError,
					Message: "planning failed: " + err.Error(),
				},
			})
			return nil, fmt.Errorf("start build: %w", err)
		}
		tasks = planned
	}

	appName := firstNonEmpty(req.AppName, m.cfg.AppName)
	framework := firstNonEmpty(req.Framework, m.cfg.Framework)

	manager := m.coord.Spawn(types.NodeTypeManager, nil, "")
	guard := m.coord.Generation()

	b := &Build{
		ID:        manager.ID,
		Prompt:    prompt,
		AppName:   appName,
		Framework: framework,
		Status:    StatusRunning,
		Tasks:     tasks,
		ManagerID: manager.ID,
		Completed: []string{},
		StartedAt: time.Now(),
	}

	pipes := make(map[string]*pipeline.Pipeline, len(tasks))
	for i := range tasks {
		task := tasks[i]
		node := m.coord.Spawn(task.Type.NodeType(), &task, manager.ID)
		p := pipeline.New(node.ID, task, m.coord, m.sched, m.gen, pipeline.Config{
			SettleDelay: m.cfg.SettleDelay,
			TimeScale:   m.cfg.TimeScale,
			AppName:     appName,
			Framework:   framework,
			ManagerID:   manager.ID,
		}, m.logger)
		pipes[node.ID] = p
		b.NodeIDs = append(b.NodeIDs, node.ID)
	}

	sbNode := m.coord.Spawn(types.NodeTypeSandbox, nil, manager.ID)
	sbCfg := m.cfg.Sandbox
	sbCfg.AppName = appName
	sb := sandbox.New(sbNode.ID, m.coord, m.sched, m.provider, m.slot, sbCfg, m.logger)
	sb.Register()
	b.SandboxID = sbNode.ID

	unsubscribe := m.coord.Subscribe(manager.ID, m.onStatus)

	m.mu.Lock()
	m.current = b
	m.pipelines = pipes
	m.sandbox = sb
	m.completed = make(map[string]bool)
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.coord.Emit(types.EventInput{
		Type:    types.EventTypeBuildStarted,
		BuildID: b.ID,
		NodeID:  manager.ID,
		Data:    types.BuildStatusEvent{Status: "started"},
	})
	if err := m.coord.UpdateNodeStatus(manager.ID, types.NodeStatusWorking, 10, fmt.Sprintf("Coordinating %d producer agents", len(tasks))); err != nil {
		m.logger.Debug("manager node update skipped", slog.String("error", err.Error()))
	}
	m.logger.Info("build started",
		slog.String("build_id", b.ID),
		slog.Int("tasks", len(tasks)),
		slog.String("app_name", appName),
	)

	for i, id := range b.NodeIDs {
		p := pipes[id]
		m.sched.After(time.Duration(i)*m.cfg.Stagger, func() {
			if m.coord.Generation() != guard {
				return
			}
			if err := p.Start(); err != nil {
				m.logger.Error("pipeline start failed",
					slog.String("node_id", p.NodeID()),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	mode := strings.ToLower(firstNonEmpty(req.SandboxMode, m.cfg.SandboxMode, "auto"))
	m.enterSandbox(mode, sb, guard)

	return m.CurrentBuild(), nil
}

// enterSandbox resolves "auto" against the configured provider and
// drives the sandbox into its initial mode. Static entry happens
// inline; execution entry blocks through runtime provisioning, so it
// runs on its own goroutine. Runtime faults are handled inside the
// sandbox manager and never surface here.
func (m *Manager) enterSandbox(mode string, sb *sandbox.Manager, guard uint64) {
	execute := mode == "execution"
	if mode == "auto" || mode == "" {
		execute = m.provider != nil && m.provider.Name() != "none"
	}
	if !execute {
		sb.EnterStaticMode()
		return
	}
	go func() {
		if m.coord.Generation() != guard {
			return
		}
		if err := sb.EnterExecutionMode(context.Background()); err != nil {
			m.logger.Debug("execution mode unavailable", slog.String("error", err.Error()))
		}
	}()
}

// onStatus consumes status updates addressed to the manager node. A
// producer's completed update marks it done; when every producer has
// reported, the build completes.
func (m *Manager) onStatus(msg types.Message) {
	if msg.Kind != types.MessageKindStatusUpdate || msg.Status == nil {
		return
	}
	if msg.Status.Status != types.NodeStatusCompleted {
		return
	}

	m.mu.Lock()
	b := m.current
	if b == nil || b.Status != StatusRunning || m.completed[msg.From] {
		m.mu.Unlock()
		return
	}
	member := false
	for _, id := range b.NodeIDs {
		if id == msg.From {
			member = true
			break
		}
	}
	if !member {
		m.mu.Unlock()
		return
	}
	m.completed[msg.From] = true
	b.Completed = append(b.Completed, msg.From)
	done := len(b.Completed)
	total := len(b.NodeIDs)
	allDone := done == total
	if allDone {
		b.Status = StatusCompleted
		now := time.Now()
		b.FinishedAt = &now
	}
	buildID := b.ID
	managerID := b.ManagerID
	m.mu.Unlock()

	m.coord.Emit(types.EventInput{
		Type:    types.EventTypeNodeCompleted,
		BuildID: buildID,
		NodeID:  msg.From,
		Data:    types.NodeUpdatedEvent{Status: types.NodeStatusCompleted, Progress: 100},
	})
	m.logger.Info("producer completed",
		slog.String("build_id", buildID),
		slog.String("node_id", msg.From),
		slog.Int("done", done),
		slog.Int("total", total),
	)

	if !allDone {
		if err := m.coord.UpdateNodeStatus(managerID, types.NodeStatusWorking, done*100/total, fmt.Sprintf("%d/%d agents completed", done, total)); err != nil {
			m.logger.Debug("manager node update skipped", slog.String("error", err.Error()))
		}
		return
	}

	metrics.BuildsTotal.WithLabelValues("completed").Inc()
	if err := m.coord.UpdateNodeStatus(managerID, types.NodeStatusCompleted, 100, "All agents completed"); err != nil {
		m.logger.Debug("manager node update skipped", slog.String("error", err.Error()))
	}
	m.coord.Emit(types.EventInput{
		Type:    types.EventTypeBuildCompleted,
		BuildID: buildID,
		NodeID:  managerID,
		Data:    types.BuildStatusEvent{Status: "completed"},
	})
	m.logger.Info("build completed", slog.String("build_id", buildID))
}

// Reset tears down the active build: the sandbox runtime is stopped,
// the coordinator graph is cleared and outstanding pipeline timers are
// stranded by the generation bump inside ResetAll.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	b := m.current
	sb := m.sandbox
	unsub := m.unsubscribe
	abandoned := b != nil && b.Status == StatusRunning
	m.current = nil
	m.sandbox = nil
	m.unsubscribe = nil
	m.pipelines = make(map[string]*pipeline.Pipeline)
	m.completed = make(map[string]bool)
	m.mu.Unlock()

	if abandoned {
		metrics.BuildsTotal.WithLabelValues("abandoned").Inc()
	}
	if unsub != nil {
		unsub()
	}
	if sb != nil {
		sb.Teardown(ctx)
	}
	m.coord.ResetAll()
	m.logger.Info("build state reset")
}

// CurrentBuild returns a snapshot of the tracked build, or nil.
func (m *Manager) CurrentBuild() *Build {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	out := *m.current
	out.Tasks = append([]types.TaskSpec(nil), m.current.Tasks...)
	out.NodeIDs = append([]string(nil), m.current.NodeIDs...)
	out.Completed = append([]string(nil), m.current.Completed...)
	return &out
}

// Sandbox returns the active sandbox manager, or nil between builds.
func (m *Manager) Sandbox() *sandbox.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sandbox
}

// Execution returns the run state of one producer node.
func (m *Manager) Execution(nodeID string) (types.TaskExecution, bool) {
	m.mu.Lock()
	p := m.pipelines[nodeID]
	m.mu.Unlock()
	if p == nil {
		return types.TaskExecution{}, false
	}
	return p.Execution(), true
}

// Executions returns every producer's run state in spawn order.
func (m *Manager) Executions() []types.TaskExecution {
	m.mu.Lock()
	var pipes []*pipeline.Pipeline
	if m.current != nil {
		for _, id := range m.current.NodeIDs {
			if p := m.pipelines[id]; p != nil {
				pipes = append(pipes, p)
			}
		}
	}
	m.mu.Unlock()

	out := make([]types.TaskExecution, 0, len(pipes))
	for _, p := range pipes {
		out = append(out, p.Execution())
	}
	return out
}

// Files returns the tracked generated files of all producers in spawn
// order.
func (m *Manager) Files() []types.GeneratedFile {
	m.mu.Lock()
	var pipes []*pipeline.Pipeline
	if m.current != nil {
		for _, id := range m.current.NodeIDs {
			if p := m.pipelines[id]; p != nil {
				pipes = append(pipes, p)
			}
		}
	}
	m.mu.Unlock()

	var out []types.GeneratedFile
	for _, p := range pipes {
		out = append(out, p.Files()...)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
