package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// metadataPatchSchema rejects malformed patch bodies before they reach the
// service layer. Field-level semantics are enforced again by the service's
// struct validation; this catches shape errors with a readable message.
const metadataPatchSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"status": {"type": "string", "enum": ["OPEN", "ACKNOWLEDGED", "SNOOZED", "RESOLVED"]},
		"owner": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"owner_type": {"type": "string", "enum": ["user", "role"]},
				"owner_id": {"type": "string"},
				"owner_role": {"type": "string"},
				"assigned_by": {"type": "string"},
				"assigned_at": {"type": "string", "format": "date-time"}
			}
		},
		"sla_preset": {"type": "string", "enum": ["15m", "1h", "24h", "72h"]},
		"sla_due_at": {"type": "string", "format": "date-time"},
		"snoozed_until": {"type": "string", "format": "date-time"},
		"trace_id": {"type": "string", "maxLength": 128}
	}
}`

var compiledPatchSchema = gojsonschema.NewStringLoader(metadataPatchSchema)

// validatePatchBody checks a raw request body against the patch schema
func validatePatchBody(body []byte) error {
	result, err := gojsonschema.Validate(compiledPatchSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return fmt.Errorf("invalid patch: %s", strings.Join(issues, "; "))
}
