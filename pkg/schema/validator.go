package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// scenarioSchema is the v1 scenario contract.
const scenarioSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "praxis scenario v1",
  "type": "object",
  "required": ["risks"],
  "properties": {
    "scenario_name": {"type": "string"},
    "risks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "likelihood"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "domain": {"type": "string"},
          "name": {"type": "string"},
          "failure_class": {"type": "string"},
          "likelihood": {"type": "number", "minimum": 0, "maximum": 1},
          "severity": {"type": "number"}
        }
      }
    },
    "ccf_groups": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["group_id", "members"],
        "properties": {
          "group_id": {"type": "string", "minLength": 1},
          "beta_factor": {"type": "number", "minimum": 0, "maximum": 1},
          "members": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "cascade_edges": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "weight": {"type": "number", "minimum": 0}
        }
      }
    },
    "fault_tree": {
      "type": "object",
      "properties": {
        "top_event": {"type": "string"},
        "gates": {
          "type": ["object", "null"],
          "additionalProperties": {
            "type": "object",
            "required": ["inputs"],
            "properties": {
              "type": {"type": "string", "pattern": "^(?i)(or|and|kofn|k_of_n|k-of-n)?$"},
              "inputs": {"type": ["array", "null"], "items": {"type": "string"}},
              "k": {"type": "integer"}
            }
          }
        }
      }
    }
  }
}`

// ValidateAgainstSchema validates an arbitrary payload against a JSON schema file.
func ValidateAgainstSchema(schemaPath string, payload any) error {
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", schemaPath, err)
	}
	return validate(gojsonschema.NewBytesLoader(schemaBytes), payload)
}

// ValidateScenario checks a scenario against the built-in v1 contract.
func ValidateScenario(scenario Scenario) error {
	return validate(gojsonschema.NewStringLoader(scenarioSchema), scenario)
}

func validate(schemaLoader gojsonschema.JSONLoader, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(payloadBytes))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return nil
	}

	errors := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		errors = append(errors, issue.String())
	}
	return fmt.Errorf("payload failed schema validation: %s", strings.Join(errors, "; "))
}
