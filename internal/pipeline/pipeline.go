// Package pipeline drives one producer agent through its fixed, ordered
// stage sequence and emits the resulting files as delivery messages on the
// coordinator bus. Stage advancement is timer-driven through a scheduler
// so tests can run against a virtual clock.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeview/orchestrator/internal/clock"
	"github.com/forgeview/orchestrator/internal/coordinator"
	"github.com/forgeview/orchestrator/internal/genai"
	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/pkg/types"
)

// Config holds pipeline pacing and generation settings.
type Config struct {
	// SettleDelay postpones stage 0 after Start so spawn effects land first.
	SettleDelay time.Duration
	// TimeScale multiplies every stage budget. Values <= 0 mean 1.0.
	TimeScale float64
	// AppName and Framework are passed through to the generation collaborator.
	AppName   string
	Framework string
	// ManagerID receives status-update messages when set; otherwise they go
	// to the wildcard recipient.
	ManagerID string
}

// Pipeline runs one producer agent to completion. All mutable state is
// guarded by mu. Only one stage-advancement timer is outstanding at a
// time: the next stage is scheduled from the previous stage's completion
// callback. Every scheduled callback re-checks the coordinator generation,
// so a full reset strands timers that fire afterwards.
type Pipeline struct {
	mu        sync.Mutex
	exec      types.TaskExecution
	files     []types.GeneratedFile
	started   bool
	finalized bool
	genGuard  uint64
	startedAt time.Time

	nodeID   string
	producer types.TaskType
	coord    *coordinator.Coordinator
	sched    clock.Scheduler
	gen      genai.Client
	cfg      Config
	logger   *slog.Logger
}

// New creates a pipeline for one producer node. The node must already
// exist in the coordinator's registry.
func New(nodeID string, task types.TaskSpec, coord *coordinator.Coordinator, sched clock.Scheduler, gen genai.Client, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = 1.0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		exec: types.TaskExecution{
			NodeID:          nodeID,
			Task:            task,
			RemainingStages: StagesFor(task.Type),
			CompletedStages: []types.Stage{},
		},
		nodeID:   nodeID,
		producer: task.Type,
		coord:    coord,
		sched:    sched,
		gen:      gen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins stage progression and returns immediately. Stage 0
// activates after the settle delay.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pipeline for node %s already started", p.nodeID)
	}
	p.started = true
	p.genGuard = p.coord.Generation()
	p.startedAt = time.Now()
	p.exec.Status = types.ExecutionInitializing
	p.traceLocked("pipeline started")
	p.mu.Unlock()

	p.logger.Info("pipeline starting",
		slog.String("node_id", p.nodeID),
		slog.String("producer", string(p.producer)),
	)
	p.updateNode(types.NodeStatusInitializing, 0, "Preparing "+producerLabel(p.producer)+" work")
	p.sendStatus(types.NodeStatusInitializing, 0, "")

	p.sched.After(p.scale(p.cfg.SettleDelay), func() {
		p.safely("stage start", func() { p.beginStage(0) })
	})
	return nil
}

// beginStage marks stage index active and schedules its completion. An
// index past the end of the list triggers finalization instead.
func (p *Pipeline) beginStage(index int) {
	if p.abandoned() {
		return
	}

	defs := stageDefsFor(p.producer)
	if index >= len(defs) {
		p.finalize()
		return
	}

	p.mu.Lock()
	if len(p.exec.RemainingStages) == 0 {
		p.mu.Unlock()
		return
	}
	p.exec.RemainingStages[0].Status = types.StageActive
	current := p.exec.RemainingStages[0]
	p.exec.Status = types.ExecutionExecuting
	p.exec.CurrentStage = &current
	progress := p.progressLocked(false)
	p.traceLocked("stage started: " + current.Name)
	p.mu.Unlock()

	budget := p.scale(current.DurationBudget)
	metrics.StageTransitions.WithLabelValues(string(p.producer), "active").Inc()
	p.logger.Debug("stage active",
		slog.String("node_id", p.nodeID),
		slog.String("stage", current.ID),
		slog.Duration("budget", budget),
	)
	p.updateNode(types.NodeStatusWorking, progress, current.Description)
	p.sendStatus(types.NodeStatusWorking, progress, current.Name)

	if defs[index].partial {
		p.sched.After(budget/2, func() {
			p.safely("partial completion", func() { p.partialComplete(current.Name) })
		})
	}
	p.sched.After(budget, func() {
		p.safely("stage completion", func() { p.completeStage(index) })
	})
}

// completeStage moves the head of RemainingStages to CompletedStages and
// advances. The next stage's timer is only created here, never earlier.
func (p *Pipeline) completeStage(index int) {
	if p.abandoned() {
		return
	}

	p.mu.Lock()
	if len(p.exec.RemainingStages) == 0 {
		p.mu.Unlock()
		return
	}
	stage := p.exec.RemainingStages[0]
	stage.Status = types.StageCompleted
	p.exec.RemainingStages = p.exec.RemainingStages[1:]
	p.exec.CompletedStages = append(p.exec.CompletedStages, stage)
	p.exec.CurrentStage = nil
	progress := p.progressLocked(false)
	p.traceLocked("stage completed: " + stage.Name)
	p.mu.Unlock()

	metrics.StageTransitions.WithLabelValues(string(p.producer), "completed").Inc()
	p.updateNode(types.NodeStatusWorking, progress, "Completed "+stage.Name)
	p.sendStatus(types.NodeStatusWorking, progress, stage.Name)

	p.beginStage(index + 1)
}

// partialComplete is the cosmetic half-budget side effect of designated
// stages: planned files show up as generating and progress nudges forward.
// It never produces authoritative content.
func (p *Pipeline) partialComplete(stageName string) {
	if p.abandoned() {
		return
	}

	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return
	}
	p.ensureFilesLocked()
	now := time.Now()
	for i := range p.files {
		p.files[i].Status = types.FileGenerating
		p.files[i].LastModified = now
	}
	progress := p.progressLocked(true)
	p.traceLocked("partial artifacts ready during " + stageName)
	p.mu.Unlock()

	p.updateNode(types.NodeStatusWorking, progress, "Partial artifacts ready")
	p.sendStatus(types.NodeStatusWorking, progress, stageName)
}

// finalize produces the authoritative content exactly once: ask the
// generation collaborator, fall back to the deterministic templates on
// failure or an empty answer, and deliver one message per file.
// Collaborator errors never propagate past this method.
func (p *Pipeline) finalize() {
	if p.abandoned() {
		return
	}

	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return
	}
	p.finalized = true
	p.exec.Status = types.ExecutionCompleted
	p.exec.CurrentStage = nil
	task := p.exec.Task
	p.traceLocked("all stages completed, producing content")
	p.mu.Unlock()

	p.updateNode(types.NodeStatusRunning, 95, "Generating application files")

	source := "generated"
	var files []genai.GeneratedFileContent
	result, err := p.gen.GenerateFiles(context.Background(), genai.GenerationRequest{
		ProducerType:    p.producer,
		TaskDescription: task.Description,
		AppName:         p.cfg.AppName,
		Framework:       p.cfg.Framework,
	})
	if err == nil && result != nil {
		files = usableFiles(result.Files)
	}

	if err != nil || len(files) == 0 {
		if err != nil {
			metrics.GenerationCalls.WithLabelValues("error").Inc()
			p.logger.Warn("generation failed, using fallback templates",
				slog.String("node_id", p.nodeID),
				slog.String("error", err.Error()),
			)
		} else {
			metrics.GenerationCalls.WithLabelValues("empty").Inc()
			p.logger.Warn("generation returned no usable files, using fallback templates",
				slog.String("node_id", p.nodeID),
			)
		}
		files = fallbackFiles(p.producer, task, p.cfg.AppName)
		source = "fallback"
		p.trace("generation unavailable, fell back to templates")
	} else {
		metrics.GenerationCalls.WithLabelValues("success").Inc()
		p.trace(fmt.Sprintf("generation produced %d files", len(files)))
	}

	delivered := p.deliver(files)

	metrics.PipelinesTotal.WithLabelValues(source).Inc()
	metrics.PipelineDuration.WithLabelValues(string(p.producer)).Observe(time.Since(p.startedAt).Seconds())

	p.updateNode(types.NodeStatusCompleted, 100, fmt.Sprintf("Delivered %d files", delivered))
	p.sendStatus(types.NodeStatusCompleted, 100, "")
	p.logger.Info("pipeline completed",
		slog.String("node_id", p.nodeID),
		slog.String("source", source),
		slog.Int("files", delivered),
	)
}

// deliver emits one file-delivery message per file to the current delivery
// target and replaces the tracked file list. Content still holding a
// deferred-value marker is dropped rather than delivered.
func (p *Pipeline) deliver(files []genai.GeneratedFileContent) int {
	target := p.coord.DeliveryTarget()
	now := time.Now()
	tracked := make([]types.GeneratedFile, 0, len(files))

	for _, f := range files {
		content := realizeContent(f.Content)
		if content == "" {
			p.logger.Warn("dropping unrealized file content",
				slog.String("node_id", p.nodeID),
				slog.String("path", f.Path),
			)
			continue
		}
		if _, err := p.coord.SendMessage(types.DeliveryMessage(p.nodeID, target, f.Path, content)); err != nil {
			p.logger.Error("file delivery failed",
				slog.String("node_id", p.nodeID),
				slog.String("path", f.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.FilesDelivered.Inc()
		tracked = append(tracked, types.GeneratedFile{
			ID:           uuid.New().String(),
			Name:         path.Base(f.Path),
			Path:         f.Path,
			Type:         fileType(f.Path),
			SizeEstimate: len(content),
			Status:       types.FileCompleted,
			Language:     fileLanguage(f.Path),
			LastModified: now,
		})
	}

	p.mu.Lock()
	p.files = tracked
	p.traceLocked(fmt.Sprintf("delivered %d files to %s", len(tracked), target))
	p.mu.Unlock()
	return len(tracked)
}

// Execution returns a deep copy of the run state for the display layer.
func (p *Pipeline) Execution() types.TaskExecution {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.exec
	if p.exec.CurrentStage != nil {
		cs := *p.exec.CurrentStage
		out.CurrentStage = &cs
	}
	out.RemainingStages = append([]types.Stage(nil), p.exec.RemainingStages...)
	out.CompletedStages = append([]types.Stage(nil), p.exec.CompletedStages...)
	out.Trace = append([]string(nil), p.exec.Trace...)
	return out
}

// Files returns a copy of the tracked generated files.
func (p *Pipeline) Files() []types.GeneratedFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.GeneratedFile(nil), p.files...)
}

// Finalized reports whether content production has run.
func (p *Pipeline) Finalized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalized
}

func (p *Pipeline) NodeID() string { return p.nodeID }

func (p *Pipeline) Producer() types.TaskType { return p.producer }

// abandoned reports whether the coordinator has been reset since Start,
// in which case outstanding timers must have no observable effect.
func (p *Pipeline) abandoned() bool {
	if p.coord.Generation() != p.genGuard {
		p.logger.Debug("timer fired after reset, ignoring",
			slog.String("node_id", p.nodeID),
		)
		return true
	}
	return false
}

// safely runs a scheduled callback, logging a panic to the trace instead
// of letting it halt timer-driven progression.
func (p *Pipeline) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stage callback panic",
				slog.String("node_id", p.nodeID),
				slog.String("op", op),
				slog.Any("panic", r),
			)
			p.trace(fmt.Sprintf("callback failure in %s: %v", op, r))
		}
	}()
	fn()
}

func (p *Pipeline) updateNode(status types.NodeStatus, progress int, description string) {
	if err := p.coord.UpdateNodeStatus(p.nodeID, status, progress, description); err != nil {
		p.logger.Debug("node update skipped",
			slog.String("node_id", p.nodeID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) sendStatus(status types.NodeStatus, progress int, stageName string) {
	to := p.cfg.ManagerID
	if to == "" {
		to = types.RecipientAll
	}
	msg := types.StatusMessage(p.nodeID, to, types.StatusUpdatePayload{
		Status:      status,
		Progress:    progress,
		Stage:       stageName,
		Description: "",
	})
	if _, err := p.coord.SendMessage(msg); err != nil {
		p.logger.Debug("status message rejected",
			slog.String("node_id", p.nodeID),
			slog.String("error", err.Error()),
		)
	}
}

// progressLocked maps completed stages onto a 0-90 display range; the last
// 10 points belong to finalization. halfStage adds the partial bump.
func (p *Pipeline) progressLocked(halfStage bool) int {
	total := len(stageDefsFor(p.producer))
	if total == 0 {
		return 0
	}
	chunk := 90 / total
	progress := len(p.exec.CompletedStages) * chunk
	if halfStage {
		progress += chunk / 2
	}
	if progress > 90 {
		progress = 90
	}
	return progress
}

// ensureFilesLocked seeds the planned file list in generating state the
// first time partial progress surfaces.
func (p *Pipeline) ensureFilesLocked() {
	if len(p.files) > 0 {
		return
	}
	now := time.Now()
	for _, fp := range plannedFiles(p.producer) {
		p.files = append(p.files, types.GeneratedFile{
			ID:           uuid.New().String(),
			Name:         path.Base(fp),
			Path:         fp,
			Type:         fileType(fp),
			Status:       types.FileGenerating,
			Language:     fileLanguage(fp),
			LastModified: now,
		})
	}
}

func (p *Pipeline) scale(d time.Duration) time.Duration {
	if p.cfg.TimeScale == 1.0 {
		return d
	}
	return time.Duration(float64(d) * p.cfg.TimeScale)
}

func (p *Pipeline) trace(msg string) {
	p.mu.Lock()
	p.traceLocked(msg)
	p.mu.Unlock()
}

// traceLocked appends a timestamped entry to the execution trace.
func (p *Pipeline) traceLocked(msg string) {
	ts := time.Now().UTC().Format("15:04:05.000")
	p.exec.Trace = append(p.exec.Trace, ts+" "+msg)
}

// usableFiles filters collaborator output down to entries with a path and
// realized content.
func usableFiles(in []genai.GeneratedFileContent) []genai.GeneratedFileContent {
	out := make([]genai.GeneratedFileContent, 0, len(in))
	for _, f := range in {
		if strings.TrimSpace(f.Path) == "" {
			continue
		}
		if realizeContent(f.Content) == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// realizeContent rejects content that is empty or still an unresolved
// deferred value rendered as its marker string.
func realizeContent(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || strings.HasPrefix(trimmed, "[object Promise]") {
		return ""
	}
	return content
}

func producerLabel(t types.TaskType) string {
	if t == types.TaskTypeBackend {
		return "service"
	}
	return "interface"
}

func fileType(p string) string {
	switch {
	case strings.HasSuffix(p, ".jsx"), strings.HasSuffix(p, ".tsx"):
		return "component"
	case strings.HasSuffix(p, ".css"):
		return "style"
	case strings.HasSuffix(p, ".json"):
		return "manifest"
	case strings.Contains(p, "routes/"):
		return "route"
	case strings.HasSuffix(p, ".js"), strings.HasSuffix(p, ".ts"):
		return "script"
	case strings.HasSuffix(p, ".html"):
		return "markup"
	default:
		return "file"
	}
}

func fileLanguage(p string) string {
	switch {
	case strings.HasSuffix(p, ".jsx"):
		return "jsx"
	case strings.HasSuffix(p, ".tsx"):
		return "tsx"
	case strings.HasSuffix(p, ".ts"):
		return "typescript"
	case strings.HasSuffix(p, ".js"):
		return "javascript"
	case strings.HasSuffix(p, ".css"):
		return "css"
	case strings.HasSuffix(p, ".json"):
		return "json"
	case strings.HasSuffix(p, ".html"):
		return "html"
	default:
		return "text"
	}
}
