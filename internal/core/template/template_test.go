// SPDX-License-Identifier: Apache-2.0

package template_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessString(t *testing.T) {
	data := template.NewTargetData(models.Target{
		ID:       "src/app.json",
		Category: models.CategoryLint,
		Payload:  []byte("{}"),
		Metadata: map[string]string{"detector": "eslint"},
	}, "/tmp/payload.json")

	tests := []struct {
		name     string
		template string
		data     interface{}
		expected string
		wantErr  bool
	}{
		{
			name:     "target fields",
			template: "fix {{.ID}} ({{.Category}}) at {{.PayloadFile}}",
			data:     data,
			expected: "fix src/app.json (lint) at /tmp/payload.json",
		},
		{
			name:     "metadata lookup",
			template: "{{index .Metadata \"detector\"}}",
			data:     data,
			expected: "eslint",
		},
		{
			name:     "missing map key",
			template: "Hello, {{.missing}}!",
			data:     map[string]interface{}{"name": "World"},
			wantErr:  true,
		},
		{
			name:     "unknown struct field",
			template: "{{.Nope}}",
			data:     data,
			wantErr:  true,
		},
		{
			name:     "parse error",
			template: "{{.ID",
			data:     data,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := template.ProcessString(tt.template, tt.data)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, string(result))
			}
		})
	}
}

func TestProcessArgs(t *testing.T) {
	data := template.NewTargetData(models.Target{ID: "deploy-42", Category: models.CategoryDeploy}, "")

	args, err := template.ProcessArgs([]string{"rollout", "restart", "{{.ID}}", "--category={{.Category}}"}, data)
	require.NoError(t, err)
	assert.Equal(t, []string{"rollout", "restart", "deploy-42", "--category=deploy"}, args)

	_, err = template.ProcessArgs([]string{"{{.Missing}}"}, data)
	assert.Error(t, err)
}

func TestNewTargetDataCopiesMetadata(t *testing.T) {
	target := models.Target{ID: "a", Metadata: map[string]string{"k": "v"}}
	data := template.NewTargetData(target, "")
	data.Metadata["k"] = "changed"
	assert.Equal(t, "v", target.Metadata["k"])
}

func TestProcessFile(t *testing.T) {
	tempDir := t.TempDir()
	templatePath := filepath.Join(tempDir, "prompt.tmpl")
	templateContent := "Repair {{.ID}}:\n{{.Payload}}"

	err := os.WriteFile(templatePath, []byte(templateContent), 0644)
	require.NoError(t, err, "Failed to create test template file")

	data := template.NewTargetData(models.Target{ID: "config.yaml", Payload: []byte("key: [")}, "")

	result, err := template.ProcessFile(templatePath, data)
	require.NoError(t, err)
	assert.Equal(t, "Repair config.yaml:\nkey: [", string(result))

	_, err = template.ProcessFile(filepath.Join(tempDir, "nonexistent.tmpl"), data)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, template.Check("{{.ID}} {{index .Metadata \"commit\"}}"))
	assert.Error(t, template.Check("{{.ID"))
}
