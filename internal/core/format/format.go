// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ParseFile reads and parses a file. JSONC files have comments and trailing
// commas stripped first, everything else goes through ParseData.
func ParseFile(filePath string, v interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	if IsJSONCFile(filePath) {
		if err := json.Unmarshal(StripJSONC(data), v); err != nil {
			return fmt.Errorf("error parsing JSONC: %w", err)
		}
		return nil
	}

	return ParseData(data, v)
}

// ParseData parses data, trying YAML first, then JSON
func ParseData(data []byte, v interface{}) error {
	err := yaml.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	jsonErr := json.Unmarshal(data, v)
	if jsonErr == nil {
		return nil
	}

	return fmt.Errorf("failed to parse as YAML (%v) or JSON (%v)", err, jsonErr)
}

// ToJSON converts a YAML or JSON document to canonical JSON so it can be checked
// against a JSON schema.
func ToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := ParseData(data, &doc); err != nil {
		return nil, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("error converting document to JSON: %w", err)
	}
	return out, nil
}

// StripJSONC removes comments and trailing commas, leaving plain JSON
func StripJSONC(data []byte) []byte {
	return jsonc.ToJSON(data)
}

// WriteFile writes data to a file in the format implied by its extension,
// defaulting to YAML
func WriteFile(filePath string, v interface{}) error {
	var data []byte
	var err error

	if IsJSONFile(filePath) || IsJSONCFile(filePath) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = yaml.Marshal(v)
	}

	if err != nil {
		return fmt.Errorf("error marshaling data: %w", err)
	}

	return os.WriteFile(filePath, data, 0644)
}

// FormatData formats data as YAML or JSON string
func FormatData(v interface{}, useYAML bool) (string, error) {
	var data []byte
	var err error

	if useYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}

	if err != nil {
		return "", fmt.Errorf("error formatting data: %w", err)
	}

	return string(data), nil
}

// IsYAMLFile returns true if the file extension suggests it's a YAML file
func IsYAMLFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return ext == ".yaml" || ext == ".yml"
}

// IsJSONFile returns true if the file extension suggests it's a JSON file
func IsJSONFile(filePath string) bool {
	return strings.ToLower(filepath.Ext(filePath)) == ".json"
}

// IsJSONCFile returns true for JSON-with-comments files
func IsJSONCFile(filePath string) bool {
	return strings.ToLower(filepath.Ext(filePath)) == ".jsonc"
}

// IsDocumentFile reports whether the file has any extension ParseFile understands
func IsDocumentFile(filePath string) bool {
	return IsYAMLFile(filePath) || IsJSONFile(filePath) || IsJSONCFile(filePath)
}
