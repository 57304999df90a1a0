// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kusari-oss/remedy/internal/core/models"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadBatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "package.json"), `{"name": "app",}`)
	path := writeFile(t, filepath.Join(dir, "targets.yaml"), `
targets:
  - id: pkg
    category: Lint
    payload_file: src/package.json
    metadata:
      repo: acme/app
  - id: web-deploy
    category: deploy
    payload: "replicas: 3\n"
  - id: payments
    category: payments
`)

	targets, err := LoadBatch(path)
	require.NoError(t, err)
	require.Len(t, targets, 3)

	assert.Equal(t, "pkg", targets[0].ID)
	assert.Equal(t, models.CategoryLint, targets[0].Category)
	assert.Equal(t, []byte(`{"name": "app",}`), targets[0].Payload)
	assert.Equal(t, "acme/app", targets[0].Metadata["repo"])
	assert.Equal(t, filepath.Join(dir, "src", "package.json"), targets[0].Metadata[MetadataPayloadFile])

	assert.Equal(t, models.CategoryDeploy, targets[1].Category)
	assert.Equal(t, []byte("replicas: 3\n"), targets[1].Payload)
	assert.Nil(t, targets[1].Metadata)

	assert.Equal(t, models.Category("payments"), targets[2].Category)
	assert.False(t, targets[2].Category.Valid())
	assert.Nil(t, targets[2].Payload)
}

func TestLoadBatchJSONC(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "targets.jsonc"), `{
  // nightly lint failures
  "targets": [
    {"id": "a", "category": "lint", "payload": "x = 1 \n",},
  ],
}`)

	targets, err := LoadBatch(path)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "a", targets[0].ID)
}

func TestLoadBatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing id",
			content: "targets:\n  - category: lint\n",
			wantErr: "id",
		},
		{
			name:    "payload and payload_file",
			content: "targets:\n  - id: a\n    category: lint\n    payload: x\n    payload_file: x.json\n",
			wantErr: "validation failed",
		},
		{
			name:    "unknown field",
			content: "targets:\n  - id: a\n    category: lint\n    severity: high\n",
			wantErr: "validation failed",
		},
		{
			name:    "duplicate id",
			content: "targets:\n  - id: a\n    category: lint\n  - id: a\n    category: build\n",
			wantErr: "duplicate target id: a",
		},
		{
			name:    "missing payload file",
			content: "targets:\n  - id: a\n    category: lint\n    payload_file: gone.json\n",
			wantErr: "error reading payload file",
		},
		{
			name:    "not a document",
			content: "targets: [unterminated\n",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(t.TempDir(), "targets.yaml"), tt.content)
			_, err := LoadBatch(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadBatch(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteBack(t *testing.T) {
	dir := t.TempDir()
	fixedPath := writeFile(t, filepath.Join(dir, "a.json"), `{"a": 1,}`)
	escalatedPath := writeFile(t, filepath.Join(dir, "b.json"), `{"b": `)

	written, err := WriteBack([]models.Session{
		{
			Target:  models.Target{ID: "a", Metadata: map[string]string{MetadataPayloadFile: fixedPath}},
			Status:  models.StatusFixed,
			Payload: []byte(`{"a": 1}`),
		},
		{
			Target: models.Target{ID: "b", Metadata: map[string]string{MetadataPayloadFile: escalatedPath}},
			Status: models.StatusEscalated,
		},
		{
			Target:  models.Target{ID: "inline"},
			Status:  models.StatusFixed,
			Payload: []byte("fixed"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{fixedPath}, written)

	content, err := os.ReadFile(fixedPath)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, string(content))

	content, err = os.ReadFile(escalatedPath)
	require.NoError(t, err)
	assert.Equal(t, `{"b": `, string(content))
}
