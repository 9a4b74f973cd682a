package types

import (
	"time"
)

// SandboxState represents the sandbox runtime manager's lifecycle state.
type SandboxState string

const (
	SandboxIdle       SandboxState = "idle"
	SandboxBooting    SandboxState = "booting"
	SandboxReady      SandboxState = "ready"
	SandboxInstalling SandboxState = "installing"
	SandboxRunning    SandboxState = "running"
	SandboxStatic     SandboxState = "static"
)

// SandboxMode is the sandbox's preview strategy.
type SandboxMode string

const (
	// ModeNone means no preview strategy has been selected yet.
	ModeNone SandboxMode = "none"
	// ModeExecution backs the preview with a real sandboxed process host.
	ModeExecution SandboxMode = "execution"
	// ModeStatic renders a heuristic preview from the file table.
	ModeStatic SandboxMode = "static"
)

// SandboxFileEntry is one file in the sandbox's table, keyed by normalized
// path. Last write wins on path collision; entries are never partially
// updated.
type SandboxFileEntry struct {
	Path         string    `json:"path"`
	Content      string    `json:"content"`
	LastModified time.Time `json:"last_modified"`
}

// PreviewSource tells the display layer how the preview was produced.
type PreviewSource string

const (
	PreviewSourceRuntime PreviewSource = "runtime"
	PreviewSourceStatic  PreviewSource = "static"
)

// Preview is the current renderable preview reference. Exactly one of URL
// (runtime mode) or Markup (static mode) is populated.
type Preview struct {
	Source    PreviewSource `json:"source"`
	URL       string        `json:"url,omitempty"`
	Markup    string        `json:"markup,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SandboxSnapshot is the read-only view of the sandbox exposed to the
// display layer.
type SandboxSnapshot struct {
	State         SandboxState       `json:"state"`
	Mode          SandboxMode        `json:"mode"`
	FilesReceived int                `json:"files_received"`
	Files         []SandboxFileEntry `json:"files"`
	Preview       *Preview           `json:"preview,omitempty"`
	Logs          []string           `json:"logs,omitempty"`
	Errors        []string           `json:"errors,omitempty"`
}
