package validator

import (
	"testing"
)

func TestValidateBuild(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name  string
		req   map[string]interface{}
		valid bool
	}{
		{
			name:  "minimal",
			req:   map[string]interface{}{"prompt": "a todo app"},
			valid: true,
		},
		{
			name: "full request",
			req: map[string]interface{}{
				"prompt":       "a todo app with api",
				"app_name":     "Todo",
				"framework":    "react",
				"sandbox_mode": "static",
			},
			valid: true,
		},
		{
			name:  "missing prompt",
			req:   map[string]interface{}{"app_name": "Todo"},
			valid: false,
		},
		{
			name:  "empty prompt",
			req:   map[string]interface{}{"prompt": ""},
			valid: false,
		},
		{
			name:  "bad sandbox mode",
			req:   map[string]interface{}{"prompt": "x", "sandbox_mode": "turbo"},
			valid: false,
		},
		{
			name:  "prompt wrong type",
			req:   map[string]interface{}{"prompt": 42},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateBuild(tt.req)
			if result.Valid != tt.valid {
				t.Errorf("got valid=%v, want %v (errors: %v)", result.Valid, tt.valid, result.Errors)
			}
			if !tt.valid && len(result.Errors) == 0 {
				t.Error("invalid result carries no errors")
			}
		})
	}
}

func TestValidatePlan(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name  string
		plan  map[string]interface{}
		valid bool
	}{
		{
			name: "two tasks",
			plan: map[string]interface{}{
				"tasks": []interface{}{
					map[string]interface{}{"type": "ui", "description": "build the ui"},
					map[string]interface{}{
						"type":        "backend",
						"description": "build the api",
						"endpoints":   []interface{}{"/api/items"},
					},
				},
			},
			valid: true,
		},
		{
			name:  "empty task list",
			plan:  map[string]interface{}{"tasks": []interface{}{}},
			valid: false,
		},
		{
			name: "unknown task type",
			plan: map[string]interface{}{
				"tasks": []interface{}{
					map[string]interface{}{"type": "infra", "description": "x"},
				},
			},
			valid: false,
		},
		{
			name: "missing description",
			plan: map[string]interface{}{
				"tasks": []interface{}{
					map[string]interface{}{"type": "ui"},
				},
			},
			valid: false,
		},
		{
			name: "metadata must be string valued",
			plan: map[string]interface{}{
				"tasks": []interface{}{
					map[string]interface{}{
						"type":        "ui",
						"description": "x",
						"metadata":    map[string]interface{}{"depth": 3},
					},
				},
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidatePlan(tt.plan)
			if result.Valid != tt.valid {
				t.Errorf("got valid=%v, want %v (errors: %v)", result.Valid, tt.valid, result.Errors)
			}
		})
	}
}

func TestValidateBuildJSON(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if result := v.ValidateBuildJSON([]byte(`{"prompt": "a blog"}`)); !result.Valid {
		t.Errorf("expected valid, got errors: %v", result.Errors)
	}
	if result := v.ValidateBuildJSON([]byte(`{"prompt": `)); result.Valid {
		t.Error("expected malformed JSON to be invalid")
	} else if len(result.Errors) == 0 || result.Errors[0].Path != "$" {
		t.Errorf("expected root-path JSON error, got %v", result.Errors)
	}
}

func TestValidatePlanJSON(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	good := `{"tasks": [{"type": "ui", "description": "build the ui"}]}`
	if result := v.ValidatePlanJSON([]byte(good)); !result.Valid {
		t.Errorf("expected valid, got errors: %v", result.Errors)
	}
	if result := v.ValidatePlanJSON([]byte(`not json`)); result.Valid {
		t.Error("expected malformed JSON to be invalid")
	}
}
