// Package genai calls the code-generation collaborator that turns a task
// description into concrete project files. A deterministic mock backs the
// service when no API key is configured, so the full pipeline works
// offline.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgeview/orchestrator/pkg/types"
)

// GenerationRequest describes one producer's finalization call.
type GenerationRequest struct {
	ProducerType    types.TaskType `json:"producerType"`
	TaskDescription string         `json:"taskDescription"`
	AppName         string         `json:"appName"`
	Framework       string         `json:"framework"`
}

// GeneratedFileContent is a single file produced by the collaborator.
type GeneratedFileContent struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// GenerationResult is the collaborator's full answer for one request.
type GenerationResult struct {
	Files       []GeneratedFileContent `json:"files"`
	Reasoning   string                 `json:"reasoning,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

// Client defines the interface for the generation collaborator.
type Client interface {
	GenerateFiles(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// Config carries the HTTP client settings.
type Config struct {
	APIBase string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient returns an HTTP-backed client when an API key is configured
// and the deterministic mock otherwise.
func NewClient(cfg Config) Client {
	if cfg.APIKey == "" {
		return &MockClient{}
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &httpClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const systemPrompt = `You are a code generator for a live application preview.
Respond with a single JSON object of the shape
{"files":[{"path":"...","content":"...","description":"..."}],"reasoning":"...","suggestions":["..."]}
and nothing else. Paths are relative, no leading slash. Every file content
must be complete and self-contained.`

func (c *httpClient) GenerateFiles(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	prompt := fmt.Sprintf(
		"Producer type: %s\nApplication: %s\nFramework: %s\nTask: %s\n\nGenerate the project files for this task.",
		req.ProducerType, req.AppName, req.Framework, req.TaskDescription)

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genai marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("genai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("genai http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genai read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("genai status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("genai unmarshal: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("genai api error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("genai: no choices returned")
	}

	return parseResult(chat.Choices[0].Message.Content)
}

// parseResult extracts the JSON result from the model output, tolerating
// a fenced code block around it.
func parseResult(content string) (*GenerationResult, error) {
	text := strings.TrimSpace(content)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
		text = strings.TrimSpace(text)
	}

	var result GenerationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("genai parse result: %w", err)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
