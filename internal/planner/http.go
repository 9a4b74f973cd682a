package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgeview/orchestrator/pkg/types"
)

// HTTPPlanner delegates planning to an external service. The response
// plan is taken as-is; only emptiness is rejected.
type HTTPPlanner struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

func NewHTTPPlanner(url string, timeout time.Duration, logger *slog.Logger) *HTTPPlanner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPlanner{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type planRequest struct {
	Prompt string `json:"prompt"`
}

type planResponse struct {
	Tasks []types.TaskSpec `json:"tasks"`
}

func (p *HTTPPlanner) Plan(ctx context.Context, prompt string) ([]types.TaskSpec, error) {
	payload, err := json.Marshal(planRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("planner marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("planner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("planner read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("planner status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out planResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("planner unmarshal: %w", err)
	}
	if len(out.Tasks) == 0 {
		return nil, fmt.Errorf("planner returned no tasks")
	}

	p.logger.Debug("external plan received",
		slog.String("url", p.url),
		slog.Int("tasks", len(out.Tasks)),
	)
	return out.Tasks, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Planner = (*HTTPPlanner)(nil)
