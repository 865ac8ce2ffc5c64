// Package schema validates tool-call arguments against a tool's JSON-Schema
// parameter object.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateArguments validates an argument object against a JSON Schema.
// Returns human-readable error messages of the form "path: message", empty
// when the arguments are valid. A schema that does not compile yields a
// single "invalid schema" message.
func ValidateArguments(schemaObj map[string]any, args map[string]any) []string {
	raw, err := json.Marshal(schemaObj)
	if err != nil {
		return []string{fmt.Sprintf("invalid schema: %v", err)}
	}
	sch, err := jsonschema.CompileString("tool.schema.json", string(raw))
	if err != nil {
		return []string{fmt.Sprintf("invalid schema: %v", err)}
	}

	// Round-trip so numbers and nested values have the shapes the validator
	// expects regardless of how the arguments were produced.
	encoded, err := json.Marshal(args)
	if err != nil {
		return []string{fmt.Sprintf("invalid arguments: %v", err)}
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return []string{fmt.Sprintf("invalid arguments: %v", err)}
	}

	if err := sch.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return leafMessages(ve)
		}
		return []string{err.Error()}
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

func leafMessages(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := instancePath(ve.InstanceLocation)
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, leafMessages(cause)...)
	}
	return msgs
}

func instancePath(location string) string {
	path := strings.TrimPrefix(location, "/")
	if path == "" {
		return "(root)"
	}
	return strings.ReplaceAll(path, "/", ".")
}

// ValidateToolCall finds a tool by name in the catalog and validates the
// arguments against its schema. An unknown tool is itself a validation
// failure.
func ValidateToolCall(schemas map[string]map[string]any, toolName string, args map[string]any) []string {
	sch, ok := schemas[toolName]
	if !ok {
		return []string{fmt.Sprintf("Unknown tool: %s", toolName)}
	}
	return ValidateArguments(sch, args)
}
