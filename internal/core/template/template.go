// SPDX-License-Identifier: Apache-2.0

package template

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// TargetData is the data available to strategy templates
type TargetData struct {
	ID          string
	Category    string
	PayloadFile string
	Payload     string
	Metadata    map[string]string
}

// NewTargetData builds template data for a target. payloadFile is the path where
// the payload was materialized, empty when the strategy works on the bytes directly.
func NewTargetData(t models.Target, payloadFile string) TargetData {
	md := make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		md[k] = v
	}
	return TargetData{
		ID:          t.ID,
		Category:    string(t.Category),
		PayloadFile: payloadFile,
		Payload:     string(t.Payload),
		Metadata:    md,
	}
}

// ProcessFile processes a template file with the given data
func ProcessFile(filePath string, data interface{}) ([]byte, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("template file does not exist: %s", filePath)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading template file: %w", err)
	}

	return ProcessString(string(content), data)
}

// ProcessString processes a template string with the given data. Missing map keys
// are an error rather than rendering "<no value>".
func ProcessString(text string, data interface{}) ([]byte, error) {
	tmpl, err := template.New("template").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("error parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("error executing template: %w", err)
	}

	return buf.Bytes(), nil
}

// Check parses a template without executing it
func Check(text string) error {
	if _, err := template.New("template").Parse(text); err != nil {
		return fmt.Errorf("error parsing template: %w", err)
	}
	return nil
}

// ProcessArgs renders each argument as a template. Arguments without template
// actions are passed through untouched.
func ProcessArgs(args []string, data interface{}) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		if !strings.Contains(arg, "{{") {
			out[i] = arg
			continue
		}
		rendered, err := ProcessString(arg, data)
		if err != nil {
			return nil, fmt.Errorf("error processing argument %d: %w", i, err)
		}
		out[i] = string(rendered)
	}
	return out, nil
}
