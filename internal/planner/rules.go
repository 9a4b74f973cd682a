package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/forgeview/orchestrator/pkg/types"
)

// maxPromptLength bounds the prompt fed into rule conditions.
const maxPromptLength = 4096

// Rule pairs a boolean condition over the prompt environment with the
// task it plans. Conditions are expr source; the environment exposes
// `prompt` as the lowercased build prompt.
type Rule struct {
	Name        string
	Condition   string
	Type        types.TaskType
	Description string // fmt template receiving the original prompt
	Components  []string
	Endpoints   []string
}

// defaultRules is the built-in plan: every build gets an interface task,
// and prompts that mention server-side work get a backend task after it.
var defaultRules = []Rule{
	{
		Name:        "interface",
		Condition:   `true`,
		Type:        types.TaskTypeUI,
		Description: "Build the user interface for: %s",
		Components:  []string{"App", "Header", "MainView"},
	},
	{
		Name: "backend",
		Condition: `prompt contains "api" or prompt contains "server" or ` +
			`prompt contains "backend" or prompt contains "database" or ` +
			`prompt contains "endpoint" or prompt contains "rest" or ` +
			`prompt contains "crud" or prompt contains "auth" or ` +
			`prompt contains "store" or prompt contains "persist"`,
		Type:        types.TaskTypeBackend,
		Description: "Build the backend services for: %s",
		Endpoints:   []string{"/api/items", "/healthz"},
	},
}

// RulePlanner evaluates an ordered rule list against the prompt. Each
// condition is compiled once and cached for reuse.
type RulePlanner struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program

	rules  []Rule
	logger *slog.Logger
}

// NewRulePlanner returns a planner over the default rule set.
func NewRulePlanner(logger *slog.Logger) *RulePlanner {
	return NewRulePlannerWith(defaultRules, logger)
}

// NewRulePlannerWith returns a planner over a custom ordered rule set.
func NewRulePlannerWith(rules []Rule, logger *slog.Logger) *RulePlanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulePlanner{
		programs: make(map[string]*vm.Program),
		rules:    rules,
		logger:   logger,
	}
}

func (p *RulePlanner) Plan(_ context.Context, prompt string) ([]types.TaskSpec, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return nil, fmt.Errorf("plan: empty prompt")
	}
	if len(trimmed) > maxPromptLength {
		trimmed = trimmed[:maxPromptLength]
	}

	env := map[string]interface{}{
		"prompt": strings.ToLower(trimmed),
	}

	var tasks []types.TaskSpec
	for _, r := range p.rules {
		ok, err := p.evalBool(r.Condition, env)
		if err != nil {
			p.logger.Warn("planner rule skipped",
				slog.String("rule", r.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		tasks = append(tasks, types.TaskSpec{
			Type:        r.Type,
			Description: fmt.Sprintf(r.Description, trimmed),
			Components:  append([]string(nil), r.Components...),
			Endpoints:   append([]string(nil), r.Endpoints...),
			Metadata:    map[string]string{"planner": "rules", "rule": r.Name},
		})
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("plan: no rule matched prompt")
	}
	p.logger.Debug("rule plan produced",
		slog.Int("tasks", len(tasks)),
	)
	return tasks, nil
}

// evalBool runs a condition against env, compiling and caching it on
// first use.
func (p *RulePlanner) evalBool(condition string, env map[string]interface{}) (bool, error) {
	p.mu.RLock()
	prog, ok := p.programs[condition]
	p.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(condition, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", condition, err)
		}
		p.mu.Lock()
		p.programs[condition] = prog
		p.mu.Unlock()
	}

	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, expected bool", condition, out)
	}
	return b, nil
}

var _ Planner = (*RulePlanner)(nil)
