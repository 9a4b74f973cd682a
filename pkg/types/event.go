package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of event.
type EventType string

const (
	EventTypeNodeUpdated    EventType = "node_updated"
	EventTypeEdgeCreated    EventType = "edge_created"
	EventTypeMessageSent    EventType = "message_sent"
	EventTypeFileDelivered  EventType = "file_delivered"
	EventTypePreviewUpdated EventType = "preview_updated"
	EventTypeSandboxState   EventType = "sandbox_state"
	EventTypeBuildStarted   EventType = "build_started"
	EventTypeNodeCompleted  EventType = "node_completed"
	EventTypeBuildCompleted EventType = "build_completed"
	EventTypeGraphReset     EventType = "graph_reset"
	EventTypeLog            EventType = "log"
	EventTypeError          EventType = "error"
)

// LogLevel represents the severity of a log event.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Event represents a single event in the display event stream.
type Event struct {
	ID        string          `json:"id"`
	BuildID   string          `json:"build_id,omitempty"`
	Type      EventType       `json:"type"`
	NodeID    string          `json:"node_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type    EventType   `json:"type"`
	BuildID string      `json:"build_id,omitempty"`
	NodeID  string      `json:"node_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NodeUpdatedEvent is the data payload for node update events.
type NodeUpdatedEvent struct {
	Status      NodeStatus `json:"status"`
	Progress    int        `json:"progress"`
	Description string     `json:"description,omitempty"`
}

// MessageSentEvent is the data payload for bus traffic events.
type MessageSentEvent struct {
	MessageID string      `json:"message_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Kind      MessageKind `json:"kind"`
}

// FileDeliveredEvent is the data payload for sandbox file upserts.
type FileDeliveredEvent struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// PreviewUpdatedEvent is the data payload for preview changes.
type PreviewUpdatedEvent struct {
	Source PreviewSource `json:"source"`
	URL    string        `json:"url,omitempty"`
}

// SandboxStateEvent is the data payload for sandbox lifecycle changes.
type SandboxStateEvent struct {
	State SandboxState `json:"state"`
	Mode  SandboxMode  `json:"mode"`
	Fault string       `json:"fault,omitempty"`
}

// BuildStatusEvent is the data payload for build lifecycle events.
type BuildStatusEvent struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// LogEvent is the data payload for log events.
type LogEvent struct {
	Level   LogLevel          `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ToSSE formats the event for Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
