package types

import (
	"time"
)

// TaskType categorizes planner-produced tasks by the producer that handles them.
type TaskType string

const (
	TaskTypeUI      TaskType = "ui"
	TaskTypeBackend TaskType = "backend"
)

// NodeType maps a task type to the producer node type that executes it.
func (t TaskType) NodeType() NodeType {
	if t == TaskTypeBackend {
		return NodeTypeProducerBackend
	}
	return NodeTypeProducerUI
}

// TaskSpec is an externally supplied unit of work. Immutable once handed
// to a pipeline.
type TaskSpec struct {
	Type        TaskType          `json:"type"`
	Description string            `json:"description"`
	Components  []string          `json:"components,omitempty"`
	Endpoints   []string          `json:"endpoints,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ExecutionStatus represents the lifecycle of a single pipeline run.
type ExecutionStatus string

const (
	ExecutionInitializing ExecutionStatus = "initializing"
	ExecutionExecuting    ExecutionStatus = "executing"
	ExecutionCompleted    ExecutionStatus = "completed"
)

// StageStatus represents the state of one stage within a pipeline.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
)

// Stage is one named, timed step of a producer's fixed work sequence.
type Stage struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	DurationBudget time.Duration `json:"duration_budget"`
	Status         StageStatus   `json:"status"`
}

// TaskExecution is the per-agent run state exposed to the display layer.
// Invariant: RemainingStages followed by CompletedStages (each in order)
// always covers the fixed stage list for the agent type, and CurrentStage
// is non-nil exactly while Status is executing.
type TaskExecution struct {
	NodeID          string          `json:"node_id"`
	Task            TaskSpec        `json:"task"`
	Status          ExecutionStatus `json:"status"`
	CurrentStage    *Stage          `json:"current_stage,omitempty"`
	RemainingStages []Stage         `json:"remaining_stages"`
	CompletedStages []Stage         `json:"completed_stages"`
	Trace           []string        `json:"trace,omitempty"`
}

// FileStatus represents the display state of a tracked generated file.
type FileStatus string

const (
	FileGenerating FileStatus = "generating"
	FileCompleted  FileStatus = "completed"
)

// GeneratedFile tracks one produced artifact per producer, for display
// purposes only. Authoritative content lives in the sandbox file table.
type GeneratedFile struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Type         string     `json:"type"`
	SizeEstimate int        `json:"size_estimate"`
	Status       FileStatus `json:"status"`
	Language     string     `json:"language"`
	LastModified time.Time  `json:"last_modified"`
}
