// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateParams validates strategy parameters against a JSON schema
func ValidateParams(schema map[string]interface{}, params map[string]interface{}) error {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("schema validation error: failed to serialize schema: %w", err)
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("schema validation error: failed to serialize params: %w", err)
	}

	return validate(schemaBytes, paramsBytes, "Parameter validation failed")
}

// ValidateDocument validates a JSON document against a JSON schema, both given as raw JSON
func ValidateDocument(schemaJSON []byte, document []byte) error {
	return validate(schemaJSON, document, "Document validation failed")
}

func validate(schemaJSON []byte, document []byte, prefix string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var b strings.Builder
		b.WriteString(prefix + ":\n")
		for _, verr := range result.Errors() {
			fmt.Fprintf(&b, "- %s\n", verr)
		}
		return fmt.Errorf("%s", b.String())
	}

	return nil
}

// MergeWithDefaults merges params with default values
func MergeWithDefaults(params map[string]interface{}, defaults map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(defaults)+len(params))

	for k, v := range defaults {
		result[k] = v
	}

	for k, v := range params {
		result[k] = v
	}

	return result
}
