package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/forgeview/orchestrator/pkg/types"
)

func TestNewClient(t *testing.T) {
	t.Run("no api key falls back to mock", func(t *testing.T) {
		c := NewClient(Config{})
		if _, ok := c.(*MockClient); !ok {
			t.Errorf("NewClient() = %T, want *MockClient", c)
		}
	})

	t.Run("api key selects http client", func(t *testing.T) {
		c := NewClient(Config{APIKey: "sk-test"})
		if _, ok := c.(*httpClient); !ok {
			t.Errorf("NewClient() = %T, want *httpClient", c)
		}
	})
}

func TestHTTPClientGenerateFiles(t *testing.T) {
	result := GenerationResult{
		Files: []GeneratedFileContent{
			{Path: "src/App.jsx", Content: "export default function App() {}"},
		},
		Reasoning: "unit test",
	}
	inner, _ := json.Marshal(result)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("got %d messages, want 2", len(req.Messages))
		}

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": string(inner)}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", APIBase: srv.URL, Model: "test-model", Timeout: 5 * time.Second})

	got, err := c.GenerateFiles(context.Background(), GenerationRequest{
		ProducerType:    types.TaskTypeUI,
		TaskDescription: "a counter",
		AppName:         "counter",
		Framework:       "react",
	})
	if err != nil {
		t.Fatalf("GenerateFiles() error = %v", err)
	}
	if len(got.Files) != 1 || got.Files[0].Path != "src/App.jsx" {
		t.Errorf("GenerateFiles() files = %+v, want the decoded result", got.Files)
	}
}

func TestHTTPClientErrorPaths(t *testing.T) {
	t.Run("api error surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"message": "quota exceeded"},
			})
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "sk-test", APIBase: srv.URL})
		_, err := c.GenerateFiles(context.Background(), GenerationRequest{})
		if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
			t.Errorf("GenerateFiles() error = %v, want api error", err)
		}
	})

	t.Run("non-200 surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(Config{APIKey: "sk-test", APIBase: srv.URL})
		_, err := c.GenerateFiles(context.Background(), GenerationRequest{})
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Errorf("GenerateFiles() error = %v, want status error", err)
		}
	})
}

func TestParseResult(t *testing.T) {
	want := []GeneratedFileContent{{Path: "a.js", Content: "x"}}

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "bare json",
			content: `{"files":[{"path":"a.js","content":"x"}]}`,
		},
		{
			name:    "fenced json",
			content: "Here you go:\n```json\n{\"files\":[{\"path\":\"a.js\",\"content\":\"x\"}]}\n```",
		},
		{
			name:    "not json",
			content: "I cannot help with that.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResult(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got.Files, want) {
				t.Errorf("parseResult() files = %+v, want %+v", got.Files, want)
			}
		})
	}
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{}
	req := GenerationRequest{
		ProducerType:    types.TaskTypeUI,
		TaskDescription: "a todo tracker",
		AppName:         "Todo Tracker",
		Framework:       "react",
	}

	first, err := mock.GenerateFiles(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateFiles() error = %v", err)
	}
	second, _ := mock.GenerateFiles(context.Background(), req)
	if !reflect.DeepEqual(first, second) {
		t.Error("mock output is not deterministic for identical requests")
	}

	paths := make(map[string]bool)
	for _, f := range first.Files {
		if f.Content == "" {
			t.Errorf("file %s has empty content", f.Path)
		}
		paths[f.Path] = true
	}
	if !paths["src/App.jsx"] {
		t.Errorf("UI result missing src/App.jsx, got %v", paths)
	}
	if !strings.Contains(first.Files[1].Content, "Todo Tracker") {
		t.Error("App.jsx does not embed the application name")
	}

	backend, err := mock.GenerateFiles(context.Background(), GenerationRequest{
		ProducerType:    types.TaskTypeBackend,
		TaskDescription: "a todo api",
		AppName:         "Todo Tracker",
	})
	if err != nil {
		t.Fatalf("GenerateFiles() error = %v", err)
	}
	var hasServer bool
	for _, f := range backend.Files {
		if f.Path == "server.js" {
			hasServer = true
		}
	}
	if !hasServer {
		t.Error("backend result missing server.js")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Todo Tracker", "todo-tracker"},
		{"My App!  v2", "my-app-v2"},
		{"---", ""},
		{"already-fine", "already-fine"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
