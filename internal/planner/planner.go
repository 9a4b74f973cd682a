// Package planner turns a free-text build prompt into an ordered task
// plan. The built-in rule planner covers deployments without an external
// planning service; when PLANNER_URL is set the HTTP planner delegates
// and treats the response as authoritative.
package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgeview/orchestrator/pkg/types"
)

// Planner produces the ordered task list for one build prompt. The plan
// is authoritative; callers validate nothing beyond non-emptiness.
type Planner interface {
	Plan(ctx context.Context, prompt string) ([]types.TaskSpec, error)
}

// New returns the HTTP planner when url is set, the built-in rule
// planner otherwise.
func New(url string, timeout time.Duration, logger *slog.Logger) Planner {
	if url != "" {
		return NewHTTPPlanner(url, timeout, logger)
	}
	return NewRulePlanner(logger)
}
