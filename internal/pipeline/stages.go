package pipeline

import (
	"time"

	"github.com/forgeview/orchestrator/pkg/types"
)

// stageDef is one entry in a producer's fixed work sequence. partial marks
// mid-pipeline stages that surface partial artifacts at half budget.
type stageDef struct {
	id          string
	name        string
	description string
	budget      time.Duration
	partial     bool
}

var uiStageDefs = []stageDef{
	{"ui-analyze", "Analyze requirements", "Reading the task and sketching the interface", 2 * time.Second, false},
	{"ui-components", "Build components", "Composing the interface components", 3 * time.Second, true},
	{"ui-style", "Style and polish", "Applying styles and final polish", 2500 * time.Millisecond, false},
}

var backendStageDefs = []stageDef{
	{"be-analyze", "Analyze requirements", "Reading the task and outlining the service", 2 * time.Second, false},
	{"be-model", "Design data model", "Shaping the resource and storage model", 2500 * time.Millisecond, true},
	{"be-endpoints", "Implement endpoints", "Writing the route handlers", 3 * time.Second, true},
	{"be-integrate", "Wire integration", "Connecting routes, middleware and startup", 2 * time.Second, false},
}

func stageDefsFor(t types.TaskType) []stageDef {
	if t == types.TaskTypeBackend {
		return backendStageDefs
	}
	return uiStageDefs
}

// StagesFor returns a fresh pending copy of the fixed stage list for the
// given producer type.
func StagesFor(t types.TaskType) []types.Stage {
	defs := stageDefsFor(t)
	stages := make([]types.Stage, len(defs))
	for i, d := range defs {
		stages[i] = types.Stage{
			ID:             d.id,
			Name:           d.name,
			Description:    d.description,
			DurationBudget: d.budget,
			Status:         types.StagePending,
		}
	}
	return stages
}

// plannedFiles lists the artifact paths a producer is expected to emit.
// The partial-progress display uses them before real content exists, and
// the fallback templates cover exactly this set.
func plannedFiles(t types.TaskType) []string {
	if t == types.TaskTypeBackend {
		return []string{"package.json", "server.js", "routes/api.js"}
	}
	return []string{"package.json", "src/App.jsx", "src/App.css", "src/main.jsx"}
}
