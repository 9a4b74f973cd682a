// Package runtime provisions the sandboxed execution environment that
// serves the live application preview. Providers exist for local
// subprocesses and Kubernetes pods; acquisition goes through a shared
// slot so the process never holds two runtimes at once.
package runtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Spec describes the environment one acquisition should provision.
type Spec struct {
	// Name is the logical sandbox name, used for resource naming.
	Name string

	// Files is the initial project scaffold, keyed by relative path.
	Files map[string]string

	// InstallCmd and StartCmd are shell-split command lines.
	InstallCmd string
	StartCmd   string

	// Image is the container image for cluster-backed providers.
	Image string

	// Port is the dev server port inside the runtime. Zero means 5173.
	Port int

	// Env is merged into the runtime's environment.
	Env map[string]string

	// ReadyTimeout bounds the wait for the dev server to come up.
	// Zero means 60s.
	ReadyTimeout time.Duration

	// OnPhase, when set, observes provisioning milestones so callers can
	// track progress while Acquire blocks. Called synchronously.
	OnPhase func(phase string)
}

// Provisioning phases reported through Spec.OnPhase.
const (
	PhaseMounted    = "mounted"
	PhaseInstalling = "installing"
	PhaseStarting   = "starting"
)

func (s Spec) phase(p string) {
	if s.OnPhase != nil {
		s.OnPhase(p)
	}
}

// Runtime is one live sandboxed process serving a preview URL.
type Runtime interface {
	// URL returns the reachable address of the dev server.
	URL() string

	// WriteFile upserts one project file inside the running environment.
	WriteFile(ctx context.Context, path, content string) error

	// Logs returns the most recent output lines.
	Logs() []string

	// Release stops the runtime and frees its resources. Best effort.
	Release(ctx context.Context) error
}

// Provider provisions runtimes.
type Provider interface {
	Name() string

	// Acquire provisions a runtime and returns it once the dev server is
	// reachable. The returned error classifies the fault via FaultClass.
	Acquire(ctx context.Context, spec Spec) (Runtime, error)
}

// Acquisition fault sentinels, wrapped by provider errors.
var (
	ErrUnavailable   = errors.New("execution runtime unavailable on this host")
	ErrInstallFailed = errors.New("dependency install failed")
	ErrStartFailed   = errors.New("dev server failed to start")
	ErrReadyTimeout  = errors.New("dev server readiness timed out")
)

// FaultClass buckets an acquisition error for logs and metrics.
func FaultClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnavailable):
		return "capability_missing"
	case errors.Is(err, ErrInstallFailed):
		return "install_failed"
	case errors.Is(err, ErrStartFailed):
		return "start_failed"
	case errors.Is(err, ErrReadyTimeout):
		return "ready_timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}

// Slot holds at most one live runtime. Acquire reuses the held instance
// instead of provisioning a second one; concurrent losers release theirs.
type Slot struct {
	mu   sync.Mutex
	held Runtime
}

// DefaultSlot is the process-wide runtime slot.
var DefaultSlot = &Slot{}

func NewSlot() *Slot { return &Slot{} }

// Acquire returns the held runtime if one exists, otherwise provisions a
// new one through p. Provisioning happens outside the lock since it can
// take tens of seconds.
func (s *Slot) Acquire(ctx context.Context, p Provider, spec Spec) (Runtime, error) {
	s.mu.Lock()
	if s.held != nil {
		rt := s.held
		s.mu.Unlock()
		return rt, nil
	}
	s.mu.Unlock()

	rt, err := p.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.held != nil {
		existing := s.held
		s.mu.Unlock()
		go rt.Release(context.Background())
		return existing, nil
	}
	s.held = rt
	s.mu.Unlock()
	return rt, nil
}

// Held returns the current runtime without provisioning, or nil.
func (s *Slot) Held() Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Release frees the held runtime, if any.
func (s *Slot) Release(ctx context.Context) error {
	s.mu.Lock()
	rt := s.held
	s.held = nil
	s.mu.Unlock()

	if rt == nil {
		return nil
	}
	return rt.Release(ctx)
}
