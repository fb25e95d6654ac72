package ingest

import (
	"errors"
	"fmt"
	"strings"

	"gatekeeper/metrics"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidOutput is wrapped by every schema violation
var ErrInvalidOutput = errors.New("execution output failed schema validation")

// SchemaError lists the violations found in a payload
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidOutput, strings.Join(e.Violations, "; "))
}

func (e *SchemaError) Unwrap() error {
	return ErrInvalidOutput
}

// errorValue accepts every shape an executor uses for an error
const errorValue = `{"type": ["string", "object", "null"]}`

// executionOutputsSchema describes a list of raw execution outputs
var executionOutputsSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["input_id", "details"],
		"properties": {
			"input_id": {"type": "string"},
			"match": {
				"type": ["object", "null"],
				"required": ["alert_type", "detection_id"],
				"properties": {
					"alert_type": {"enum": ["RULE", "SCHEDULED_RULE", "POLICY", "RULE_ERROR", "SCHEDULED_RULE_ERROR", "POLICY_ERROR"]},
					"detection_id": {"type": "string"},
					"dedup_period_mins": {"type": "integer", "minimum": 0}
				}
			},
			"details": {
				"type": "object",
				"properties": {
					"setup_exception": ` + errorValue + `,
					"input_exception": ` + errorValue + `,
					"primary_functions": {
						"type": "object",
						"properties": {
							"detection": {
								"type": "object",
								"properties": {
									"output": {"type": ["boolean", "null"]},
									"error": ` + errorValue + `
								}
							}
						}
					},
					"aux_functions": {
						"type": "object",
						"additionalProperties": {
							"type": "object",
							"properties": {
								"defined": {"type": "boolean"},
								"output": {"type": ["string", "null"]},
								"error": ` + errorValue + `
							}
						}
					}
				}
			}
		}
	}
}`

var outputsSchemaLoader = gojsonschema.NewStringLoader(executionOutputsSchema)

// ValidateOutputs checks a raw JSON list of execution outputs before decoding
func ValidateOutputs(raw []byte) error {
	result, err := gojsonschema.Validate(outputsSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		metrics.IngestFailures.WithLabelValues("schema").Inc()
		return fmt.Errorf("failed to validate execution outputs: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	metrics.IngestFailures.WithLabelValues("schema").Inc()
	return &SchemaError{Violations: violations}
}
