package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// maxLogLines bounds the in-memory output ring per runtime.
const maxLogLines = 200

// LocalProvider runs the sandbox as a local subprocess: it scaffolds the
// project into a working directory, installs dependencies, starts the dev
// server, and scans its stdout for the served URL.
type LocalProvider struct {
	baseDir string // empty = system temp
	logger  *slog.Logger
}

func NewLocalProvider(baseDir string, logger *slog.Logger) *LocalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{baseDir: baseDir, logger: logger}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Acquire(ctx context.Context, spec Spec) (Runtime, error) {
	installCmd := splitCommand(spec.InstallCmd)
	startCmd := splitCommand(spec.StartCmd)
	if len(startCmd) == 0 {
		return nil, fmt.Errorf("empty start command: %w", ErrUnavailable)
	}
	if _, err := exec.LookPath(startCmd[0]); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", startCmd[0], ErrUnavailable)
	}

	dir, err := p.scaffold(spec)
	if err != nil {
		return nil, fmt.Errorf("scaffold: %w", err)
	}
	spec.phase(PhaseMounted)
	p.logger.Info("sandbox scaffolded",
		slog.String("dir", dir),
		slog.Int("files", len(spec.Files)),
	)

	rt := &localRuntime{dir: dir, logger: p.logger}

	if len(installCmd) > 0 {
		spec.phase(PhaseInstalling)
		if err := rt.runInstall(ctx, installCmd, spec.Env); err != nil {
			rt.cleanup()
			return nil, err
		}
	}

	spec.phase(PhaseStarting)
	if err := rt.startServer(ctx, startCmd, spec.Env, readyTimeout(spec)); err != nil {
		rt.Release(context.Background())
		return nil, err
	}
	return rt, nil
}

// scaffold writes the project files under a fresh working directory.
func (p *LocalProvider) scaffold(spec Spec) (string, error) {
	base := p.baseDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(base, "forgeview-sandbox-")
	if err != nil {
		return "", err
	}
	for path, content := range spec.Files {
		if err := writeProjectFile(dir, path, content); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

// localRuntime is one running dev server rooted at dir.
type localRuntime struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	url  string
	logs []string

	cancel  context.CancelFunc
	waited  chan error
	release sync.Once
}

func (r *localRuntime) runInstall(ctx context.Context, argv []string, env map[string]string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.dir
	cmd.Env = mergedEnv(env)

	out, err := cmd.CombinedOutput()
	for _, line := range strings.Split(string(out), "\n") {
		if line != "" {
			r.appendLog(line)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %v: %w", strings.Join(argv, " "), err, ErrInstallFailed)
	}
	r.logger.Info("sandbox dependencies installed", slog.String("dir", r.dir))
	return nil
}

// startServer launches the dev server and blocks until its stdout shows a
// served URL, the process exits, the timeout elapses, or ctx is done.
func (r *localRuntime) startServer(ctx context.Context, argv []string, env map[string]string, timeout time.Duration) error {
	procCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	cmd := exec.CommandContext(procCtx, argv[0], argv[1:]...)
	cmd.Dir = r.dir
	cmd.Env = mergedEnv(env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %v: %w", err, ErrStartFailed)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %v: %w", err, ErrStartFailed)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %v: %w", argv[0], err, ErrStartFailed)
	}

	ready := make(chan string, 1)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() { defer readers.Done(); r.scanOutput(stdout, ready) }()
	go func() { defer readers.Done(); r.scanOutput(stderr, nil) }()

	// Wait must not run before the pipe readers drain.
	r.waited = make(chan error, 1)
	go func() {
		readers.Wait()
		r.waited <- cmd.Wait()
	}()

	select {
	case url := <-ready:
		r.mu.Lock()
		r.url = url
		r.mu.Unlock()
		r.logger.Info("sandbox dev server ready", slog.String("url", url))
		return nil
	case err := <-r.waited:
		return fmt.Errorf("dev server exited early: %v: %w", err, ErrStartFailed)
	case <-time.After(timeout):
		cancel()
		return fmt.Errorf("no readiness output within %s: %w", timeout, ErrReadyTimeout)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// scanOutput appends process output to the log ring; the first line
// containing a served URL resolves ready.
func (r *localRuntime) scanOutput(src io.Reader, ready chan<- string) {
	scanner := bufio.NewScanner(src)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.appendLog(line)
		if ready != nil {
			if url, ok := scanForURL(line); ok {
				select {
				case ready <- url:
				default:
				}
				ready = nil
			}
		}
	}
}

func (r *localRuntime) appendLog(line string) {
	r.mu.Lock()
	r.logs = append(r.logs, line)
	if len(r.logs) > maxLogLines {
		r.logs = r.logs[len(r.logs)-maxLogLines:]
	}
	r.mu.Unlock()
}

func (r *localRuntime) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

func (r *localRuntime) WriteFile(_ context.Context, path, content string) error {
	return writeProjectFile(r.dir, path, content)
}

func (r *localRuntime) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}

func (r *localRuntime) Release(_ context.Context) error {
	r.release.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.waited != nil {
			select {
			case <-r.waited:
			case <-time.After(5 * time.Second):
			}
		}
		r.cleanup()
	})
	return nil
}

func (r *localRuntime) cleanup() {
	if err := os.RemoveAll(r.dir); err != nil {
		r.logger.Warn("sandbox dir cleanup failed",
			slog.String("dir", r.dir),
			slog.String("error", err.Error()),
		)
	}
}

var urlPattern = regexp.MustCompile(`https?://[^\s"']+:\d+[/\w.-]*`)

// scanForURL extracts the first served URL from a dev server output line,
// normalizing wildcard binds to localhost.
func scanForURL(line string) (string, bool) {
	match := urlPattern.FindString(line)
	if match == "" {
		return "", false
	}
	match = strings.Replace(match, "0.0.0.0", "localhost", 1)
	return match, true
}

// writeProjectFile writes content at a normalized path under root. The
// path is stripped of leading separators and must stay inside root.
func writeProjectFile(root, path, content string) error {
	rel := strings.TrimLeft(strings.TrimSpace(path), "/")
	rel = filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(rel) {
		return fmt.Errorf("invalid project path %q", path)
	}
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

func splitCommand(cmdline string) []string {
	return strings.Fields(strings.TrimSpace(cmdline))
}

func mergedEnv(env map[string]string) []string {
	merged := os.Environ()
	for k, v := range env {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}

func readyTimeout(spec Spec) time.Duration {
	if spec.ReadyTimeout > 0 {
		return spec.ReadyTimeout
	}
	return 60 * time.Second
}
