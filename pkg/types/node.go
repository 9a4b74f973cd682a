// Package types provides shared types for the orchestrator service.
package types

import (
	"time"
)

// NodeType identifies the role of an agent node in the build graph.
type NodeType string

const (
	NodeTypeManager         NodeType = "manager"
	NodeTypeProducerUI      NodeType = "producer-ui"
	NodeTypeProducerBackend NodeType = "producer-backend"
	NodeTypeSandbox         NodeType = "sandbox"
)

// IsProducer returns true for node types that run a stage pipeline.
func (t NodeType) IsProducer() bool {
	return t == NodeTypeProducerUI || t == NodeTypeProducerBackend
}

// NodeStatus represents the displayed state of an agent node.
type NodeStatus string

const (
	NodeStatusIdle         NodeStatus = "idle"
	NodeStatusInitializing NodeStatus = "initializing"
	NodeStatusWorking      NodeStatus = "working"
	NodeStatusRunning      NodeStatus = "running"
	NodeStatusCompleted    NodeStatus = "completed"
	NodeStatusError        NodeStatus = "error"
)

// Position is the node's placement on the build canvas, relative to origin.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AgentNode is one vertex of the build graph. Nodes are owned exclusively
// by the coordinator; producers mutate them only through progress callbacks.
type AgentNode struct {
	ID          string     `json:"id"`
	Type        NodeType   `json:"type"`
	Name        string     `json:"name"`
	Status      NodeStatus `json:"status"`
	Progress    int        `json:"progress"` // 0-100
	Description string     `json:"description,omitempty"`
	Position    Position   `json:"position"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Edge is a directed relation between two agent nodes. Only the traffic
// counters change after creation.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	MessageCount int    `json:"message_count"`
	Active       bool   `json:"active"`
}
