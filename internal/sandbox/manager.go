// Package sandbox implements the single consumer of file deliveries. The
// Manager owns the file table, the preview reference and the execution
// runtime lifecycle; producers reach it only through bus messages.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgeview/orchestrator/internal/clock"
	"github.com/forgeview/orchestrator/internal/coordinator"
	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/internal/runtime"
	"github.com/forgeview/orchestrator/internal/synth"
	"github.com/forgeview/orchestrator/pkg/types"
)

// maxTraceLines bounds the manager's in-memory activity log.
const maxTraceLines = 200

// Config holds sandbox runtime and fallback settings.
type Config struct {
	// AppName labels the scaffold manifest.
	AppName string

	// GraceDelay is the pause between a runtime fault and the automatic
	// switch to static preview mode. Values <= 0 mean 2s.
	GraceDelay time.Duration

	// ReadyTimeout bounds the wait for the dev server before the fault
	// path fires.
	ReadyTimeout time.Duration

	// InstallCmd and StartCmd are passed to the runtime provider.
	InstallCmd string
	StartCmd   string

	// Image and Port configure cluster-backed providers.
	Image string
	Port  int
}

// Manager is the sandbox runtime manager. One instance exists per build;
// it subscribes to its own node id on the bus and applies every file
// delivery to the table with last-write-wins semantics. A single mutex
// guards all state; the runtime provider is never called under it.
type Manager struct {
	mu         sync.Mutex
	state      types.SandboxState
	mode       types.SandboxMode
	files      map[string]types.SandboxFileEntry
	received   int
	logs       []string
	errors     []string
	preview    *types.Preview
	scaffolded bool
	rt         runtime.Runtime

	id          string
	coord       *coordinator.Coordinator
	sched       clock.Scheduler
	provider    runtime.Provider
	slot        *runtime.Slot
	cfg         Config
	logger      *slog.Logger
	unsubscribe func()
}

// New creates a manager bound to the graph node nodeID and subscribes it
// to the bus. Call Register afterwards to become the delivery target and
// drain any buffered deliveries.
func New(nodeID string, coord *coordinator.Coordinator, sched clock.Scheduler, provider runtime.Provider, slot *runtime.Slot, cfg Config, logger *slog.Logger) *Manager {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = 2 * time.Second
	}
	if provider == nil {
		provider = runtime.NoneProvider{}
	}
	if slot == nil {
		slot = runtime.DefaultSlot
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		state:    types.SandboxIdle,
		mode:     types.ModeNone,
		files:    make(map[string]types.SandboxFileEntry),
		id:       nodeID,
		coord:    coord,
		sched:    sched,
		provider: provider,
		slot:     slot,
		cfg:      cfg,
		logger:   logger,
	}
	m.unsubscribe = coord.Subscribe(nodeID, m.onMessage)
	return m
}

// ID returns the manager's bus identity.
func (m *Manager) ID() string { return m.id }

// Register designates the manager as the bus delivery target. Buffered
// deliveries drain synchronously through OnFileDelivery before it returns.
func (m *Manager) Register() {
	m.coord.RegisterSandbox(m.id)
}

func (m *Manager) onMessage(msg types.Message) {
	if msg.Kind != types.MessageKindFileDelivery {
		return
	}
	m.OnFileDelivery(msg.Delivery.FilePath, msg.Delivery.FileContent)
}

// OnFileDelivery normalizes the path and upserts the entry, last write
// wins. Accepted in every state; in static mode the preview is re-derived
// from the full table, in execution mode the file is pushed into the live
// runtime.
func (m *Manager) OnFileDelivery(filePath, content string) {
	key := NormalizePath(filePath)
	if key == "" {
		m.logger.Warn("ignoring delivery with empty path", slog.String("sandbox_id", m.id))
		return
	}

	m.mu.Lock()
	m.files[key] = types.SandboxFileEntry{
		Path:         key,
		Content:      content,
		LastModified: time.Now().UTC(),
	}
	m.received++
	m.logLocked(fmt.Sprintf("received %s (%d bytes)", key, len(content)))
	mode := m.mode
	rt := m.rt
	m.mu.Unlock()

	m.coord.Emit(types.EventInput{
		Type:   types.EventTypeFileDelivered,
		NodeID: m.id,
		Data:   types.FileDeliveredEvent{Path: key, Bytes: len(content)},
	})

	switch {
	case mode == types.ModeStatic:
		m.refreshStaticPreview()
	case mode == types.ModeExecution && rt != nil:
		if err := rt.WriteFile(context.Background(), key, content); err != nil {
			m.logger.Error("runtime file write failed",
				slog.String("path", key),
				slog.String("error", err.Error()),
			)
			m.mu.Lock()
			m.errors = append(m.errors, fmt.Sprintf("write %s: %v", key, err))
			m.mu.Unlock()
		}
	}
}

// EnterExecutionMode acquires (or reuses) the process-wide execution
// runtime and serves the live preview from it. It blocks through install
// and startup. On failure the fault class is logged and counted, and the
// static fallback is scheduled after the grace delay; the error is
// returned for the caller's log but needs no handling beyond that.
func (m *Manager) EnterExecutionMode(ctx context.Context) error {
	m.mu.Lock()
	if m.mode == types.ModeExecution {
		m.mu.Unlock()
		return nil
	}
	m.mode = types.ModeExecution
	m.state = types.SandboxBooting
	m.preview = nil
	guard := m.coord.Generation()
	mount := m.mountFilesLocked()
	m.logLocked("acquiring execution runtime (" + m.provider.Name() + ")")
	m.mu.Unlock()

	metrics.SandboxMode.Set(1)
	m.emitState("")
	m.updateNode(types.NodeStatusInitializing, 10, "Provisioning sandbox runtime")

	rt, err := m.slot.Acquire(ctx, m.provider, runtime.Spec{
		Name:         m.id,
		Files:        mount,
		InstallCmd:   m.cfg.InstallCmd,
		StartCmd:     m.cfg.StartCmd,
		Image:        m.cfg.Image,
		Port:         m.cfg.Port,
		ReadyTimeout: m.cfg.ReadyTimeout,
		OnPhase:      m.onPhase,
	})
	if err != nil {
		fault := runtime.FaultClass(err)
		metrics.SandboxFaults.WithLabelValues(fault).Inc()
		m.logger.Warn("runtime acquisition failed, static fallback scheduled",
			slog.String("sandbox_id", m.id),
			slog.String("fault", fault),
			slog.Duration("grace", m.cfg.GraceDelay),
			slog.String("error", err.Error()),
		)

		m.mu.Lock()
		m.errors = append(m.errors, fmt.Sprintf("runtime fault (%s): %v", fault, err))
		m.logLocked("runtime fault: " + fault + ", falling back to static preview")
		m.mu.Unlock()
		m.emitState(fault)

		m.sched.After(m.cfg.GraceDelay, func() {
			if m.coord.Generation() != guard {
				return
			}
			m.EnterStaticMode()
		})
		return err
	}

	m.mu.Lock()
	m.rt = rt
	m.state = types.SandboxRunning
	m.preview = &types.Preview{
		Source:    types.PreviewSourceRuntime,
		URL:       rt.URL(),
		UpdatedAt: time.Now().UTC(),
	}
	m.logLocked("dev server ready at " + rt.URL())
	m.mu.Unlock()

	m.emitState("")
	m.coord.Emit(types.EventInput{
		Type:   types.EventTypePreviewUpdated,
		NodeID: m.id,
		Data:   types.PreviewUpdatedEvent{Source: types.PreviewSourceRuntime, URL: rt.URL()},
	})
	m.updateNode(types.NodeStatusRunning, 100, "Serving live preview")
	m.logger.Info("sandbox running",
		slog.String("sandbox_id", m.id),
		slog.String("url", rt.URL()),
	)
	return nil
}

// onPhase tracks provisioning milestones reported by the provider while
// Acquire blocks.
func (m *Manager) onPhase(phase string) {
	var progress int
	var desc string

	m.mu.Lock()
	switch phase {
	case runtime.PhaseMounted:
		m.state = types.SandboxReady
		progress, desc = 30, "Project files mounted"
	case runtime.PhaseInstalling:
		m.state = types.SandboxInstalling
		progress, desc = 55, "Installing dependencies"
	case runtime.PhaseStarting:
		progress, desc = 80, "Starting dev server"
	default:
		m.mu.Unlock()
		return
	}
	m.logLocked(desc)
	m.mu.Unlock()

	m.emitState("")
	m.updateNode(types.NodeStatusInitializing, progress, desc)
}

// EnterStaticMode switches to the synthesized preview. Idempotent: a
// repeat call changes nothing. An empty table is seeded with placeholder
// scaffold files first so the preview is never blank.
func (m *Manager) EnterStaticMode() {
	m.mu.Lock()
	if m.mode == types.ModeStatic {
		m.mu.Unlock()
		return
	}
	m.mode = types.ModeStatic
	m.state = types.SandboxStatic
	if len(m.files) == 0 && !m.scaffolded {
		now := time.Now().UTC()
		for p, content := range placeholderScaffold(m.cfg.AppName) {
			key := NormalizePath(p)
			m.files[key] = types.SandboxFileEntry{Path: key, Content: content, LastModified: now}
		}
		m.scaffolded = true
		m.logLocked("seeded placeholder scaffold")
	}
	m.logLocked("static preview mode active")
	m.mu.Unlock()

	metrics.SandboxMode.Set(2)
	m.emitState("")
	m.updateNode(types.NodeStatusRunning, 100, "Static preview mode")
	m.logger.Info("sandbox in static preview mode", slog.String("sandbox_id", m.id))
	m.refreshStaticPreview()
}

// ExitStaticMode clears the mode flag and preview reference. The file
// table is preserved.
func (m *Manager) ExitStaticMode() {
	m.mu.Lock()
	if m.mode != types.ModeStatic {
		m.mu.Unlock()
		return
	}
	m.mode = types.ModeNone
	m.state = types.SandboxIdle
	m.preview = nil
	m.logLocked("static preview mode cleared")
	m.mu.Unlock()

	metrics.SandboxMode.Set(0)
	m.emitState("")
}

// Teardown releases the runtime best-effort and clears all local state.
func (m *Manager) Teardown(ctx context.Context) {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if err := m.slot.Release(ctx); err != nil {
		m.logger.Warn("runtime release failed",
			slog.String("sandbox_id", m.id),
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	m.files = make(map[string]types.SandboxFileEntry)
	m.received = 0
	m.logs = nil
	m.errors = nil
	m.preview = nil
	m.mode = types.ModeNone
	m.state = types.SandboxIdle
	m.scaffolded = false
	m.rt = nil
	m.mu.Unlock()

	metrics.SandboxMode.Set(0)
	m.logger.Info("sandbox torn down", slog.String("sandbox_id", m.id))
}

// Snapshot returns the read-only view consumed by the display layer.
// Files are sorted by path for stable output.
func (m *Manager) Snapshot() types.SandboxSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make([]types.SandboxFileEntry, 0, len(paths))
	for _, p := range paths {
		files = append(files, m.files[p])
	}

	snap := types.SandboxSnapshot{
		State:         m.state,
		Mode:          m.mode,
		FilesReceived: m.received,
		Files:         files,
		Logs:          append([]string(nil), m.logs...),
		Errors:        append([]string(nil), m.errors...),
	}
	if m.preview != nil {
		p := *m.preview
		snap.Preview = &p
	}
	return snap
}

// FileTable returns a copy of the table as path→content, the shape the
// synthesizer and the artifact exporter consume.
func (m *Manager) FileTable() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tableLocked()
}

// Preview returns the current preview reference, or nil when none is
// renderable.
func (m *Manager) Preview() *types.Preview {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.preview == nil {
		return nil
	}
	p := *m.preview
	return &p
}

// refreshStaticPreview re-runs the synthesizer over the whole table and
// republishes the preview reference.
func (m *Manager) refreshStaticPreview() {
	m.mu.Lock()
	table := m.tableLocked()
	m.mu.Unlock()

	start := time.Now()
	res := synth.Synthesize(table)
	metrics.SynthDuration.Observe(time.Since(start).Seconds())
	metrics.SynthRuns.WithLabelValues(string(res.Strategy)).Inc()

	m.mu.Lock()
	m.preview = &types.Preview{
		Source:    types.PreviewSourceStatic,
		Markup:    res.Markup,
		UpdatedAt: time.Now().UTC(),
	}
	m.logLocked("preview synthesized (" + string(res.Strategy) + ")")
	m.mu.Unlock()

	m.coord.Emit(types.EventInput{
		Type:   types.EventTypePreviewUpdated,
		NodeID: m.id,
		Data:   types.PreviewUpdatedEvent{Source: types.PreviewSourceStatic},
	})
}

// mountFilesLocked merges the execution scaffold under the current table
// for the initial runtime mount. Delivered files win. Caller holds m.mu.
func (m *Manager) mountFilesLocked() map[string]string {
	mount := executionScaffold(m.cfg.AppName)
	for p, entry := range m.files {
		mount[p] = entry.Content
	}
	return mount
}

// tableLocked copies the table as path→content. Caller holds m.mu.
func (m *Manager) tableLocked() map[string]string {
	table := make(map[string]string, len(m.files))
	for p, entry := range m.files {
		table[p] = entry.Content
	}
	return table
}

func (m *Manager) emitState(fault string) {
	m.mu.Lock()
	state, mode := m.state, m.mode
	m.mu.Unlock()
	m.coord.Emit(types.EventInput{
		Type:   types.EventTypeSandboxState,
		NodeID: m.id,
		Data:   types.SandboxStateEvent{State: state, Mode: mode, Fault: fault},
	})
}

func (m *Manager) updateNode(status types.NodeStatus, progress int, description string) {
	if err := m.coord.UpdateNodeStatus(m.id, status, progress, description); err != nil {
		m.logger.Debug("node update skipped",
			slog.String("sandbox_id", m.id),
			slog.String("error", err.Error()),
		)
	}
}

// logLocked appends a timestamped entry to the activity log, keeping the
// most recent maxTraceLines. Caller holds m.mu.
func (m *Manager) logLocked(msg string) {
	ts := time.Now().UTC().Format("15:04:05.000")
	m.logs = append(m.logs, ts+" "+msg)
	if len(m.logs) > maxTraceLines {
		m.logs = m.logs[len(m.logs)-maxTraceLines:]
	}
}

// NormalizePath canonicalizes a delivery path into a table key: leading
// separators are stripped and dot segments resolved. Returns "" for paths
// with no usable remainder.
func NormalizePath(p string) string {
	s := strings.TrimLeft(strings.TrimSpace(p), "/")
	if s == "" {
		return ""
	}
	cleaned := path.Clean(s)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return cleaned
}
