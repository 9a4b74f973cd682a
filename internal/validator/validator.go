// Package validator provides JSON schema validation for build requests
// and explicit task plans.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates build requests and task plans.
type Validator struct {
	buildSchema *jsonschema.Schema
	planSchema  *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("build.json", strings.NewReader(buildSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add build schema: %w", err)
	}
	if err := compiler.AddResource("plan.json", strings.NewReader(planSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add plan schema: %w", err)
	}

	buildSchema, err := compiler.Compile("build.json")
	if err != nil {
		return nil, fmt.Errorf("compile build schema: %w", err)
	}
	planSchema, err := compiler.Compile("plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &Validator{
		buildSchema: buildSchema,
		planSchema:  planSchema,
	}, nil
}

// ValidateBuild validates a build request.
func (v *Validator) ValidateBuild(req map[string]interface{}) *ValidationResult {
	return v.validate(v.buildSchema, req)
}

// ValidatePlan validates an explicit task plan.
func (v *Validator) ValidatePlan(plan map[string]interface{}) *ValidationResult {
	return v.validate(v.planSchema, plan)
}

// ValidateBuildJSON validates a JSON-encoded build request.
func (v *Validator) ValidateBuildJSON(data []byte) *ValidationResult {
	var req map[string]interface{}
	if err := json.Unmarshal(data, &req); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateBuild(req)
}

// ValidatePlanJSON validates a JSON-encoded task plan.
func (v *Validator) ValidatePlanJSON(data []byte) *ValidationResult {
	var plan map[string]interface{}
	if err := json.Unmarshal(data, &plan); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidatePlan(plan)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}
	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}
	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}
	return errors
}

// Embedded JSON schemas

const buildSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "build.json",
  "title": "Build Request",
  "description": "Schema for build run requests",
  "type": "object",
  "required": ["prompt"],
  "properties": {
    "prompt": {
      "type": "string",
      "minLength": 1,
      "maxLength": 4096,
      "description": "Free-text description of the app to build"
    },
    "app_name": {
      "type": "string",
      "maxLength": 120,
      "description": "Display name for the generated app"
    },
    "framework": {
      "type": "string",
      "maxLength": 40,
      "description": "Target frontend framework"
    },
    "sandbox_mode": {
      "type": "string",
      "enum": ["auto", "execution", "static"],
      "description": "Preview mode override"
    },
    "tasks": {
      "type": "array",
      "items": {"type": "object"},
      "description": "Explicit task plan, validated in full against plan.json when present"
    },
    "metadata": {
      "type": "object",
      "description": "Additional request metadata"
    }
  }
}`

const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "plan.json",
  "title": "Task Plan",
  "description": "Schema for explicit build task plans",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "description"],
        "properties": {
          "type": {
            "type": "string",
            "enum": ["ui", "backend"],
            "description": "Producer kind that executes the task"
          },
          "description": {
            "type": "string",
            "minLength": 1,
            "description": "What the task builds"
          },
          "components": {
            "type": "array",
            "items": {"type": "string"},
            "description": "Component names the task should produce"
          },
          "endpoints": {
            "type": "array",
            "items": {"type": "string"},
            "description": "API endpoints the task should produce"
          },
          "metadata": {
            "type": "object",
            "additionalProperties": {"type": "string"},
            "description": "Task metadata"
          }
        }
      },
      "description": "Ordered tasks to execute"
    }
  }
}`
