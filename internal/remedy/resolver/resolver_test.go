// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kusari-oss/remedy/internal/core/strategy"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestListAvailableStrategies(t *testing.T) {
	local := filepath.Join(t.TempDir(), "local")
	global := filepath.Join(t.TempDir(), "global")

	writeFile(t, local, "eslint-fix.yaml", `
type: cli
command: npx
args: ["eslint", "--fix", "{{.PayloadFile}}"]
applies_to: [lint]
labels:
  tool: [eslint]
`)
	writeFile(t, global, "eslint-fix.yaml", `
name: eslint-fix
type: cli
command: eslint-global
applies_to: [lint]
`)
	writeFile(t, global, "commas.jsonc", `{
  // strip trailing commas
  "name": "commas",
  "type": "builtin",
  "builtin": "json-trailing-commas",
  "applies_to": ["lint", "config"],
}`)
	writeFile(t, global, "README.md", "not a strategy")

	r := NewResolver([]string{local, global, filepath.Join(t.TempDir(), "missing")}, nil)
	strategies, err := r.ListAvailableStrategies()
	require.NoError(t, err)

	require.Len(t, strategies, 2)
	assert.Equal(t, "npx", strategies["eslint-fix"].Command, "local definition wins")
	assert.Equal(t, []string{"eslint", "--fix", "{{.PayloadFile}}"}, strategies["eslint-fix"].Args)
	assert.Equal(t, []string{"eslint"}, strategies["eslint-fix"].Labels["tool"])
	assert.Equal(t, "json-trailing-commas", strategies["commas"].Builtin)
	assert.Equal(t, []string{"lint", "config"}, strategies["commas"].AppliesTo)
}

func TestListAvailableStrategiesMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: [unterminated\n")

	_, err := NewResolver([]string{dir}, nil).ListAvailableStrategies()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "restart.yaml", "type: cli\ncommand: kubectl\napplies_to: [deploy]\n")
	writeFile(t, dir, "whitespace.yaml", "type: builtin\nbuiltin: trim-trailing-whitespace\napplies_to: [lint]\n")

	r := NewResolver([]string{dir}, nil)
	defs, err := r.Definitions([]strategy.Config{
		{Name: "restart", Type: strategy.TypeCLI, Command: "systemctl", AppliesTo: []string{"deploy"}},
		{Name: "ai-fix", Type: strategy.TypeAI, AppliesTo: []string{"lint"}},
	})
	require.NoError(t, err)

	require.Len(t, defs, 3)
	assert.Equal(t, "ai-fix", defs[0].Name)
	assert.Equal(t, "restart", defs[1].Name)
	assert.Equal(t, "systemctl", defs[1].Command, "inline definition wins")
	assert.Equal(t, "whitespace", defs[2].Name)

	_, err = r.Definitions([]strategy.Config{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)
	_, err = r.Definitions([]strategy.Config{{Type: strategy.TypeCLI}})
	assert.Error(t, err)
}

func TestFilterByLabels(t *testing.T) {
	defs := []strategy.Config{
		{Name: "eslint", Labels: map[string][]string{"tool": {"eslint"}, "lang": {"js", "ts"}}},
		{Name: "ruff", Labels: map[string][]string{"tool": {"ruff"}, "lang": {"python"}}},
		{Name: "unlabeled"},
	}

	tests := []struct {
		name      string
		selectors string
		expected  []string
	}{
		{"no selectors", "", []string{"eslint", "ruff", "unlabeled"}},
		{"single match", "lang=TS", []string{"eslint"}},
		{"any of values", "tool=ruff|eslint", []string{"eslint", "ruff"}},
		{"all keys must match", "tool=ruff, lang=js", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selectors, err := ParseLabelSelectors(tt.selectors)
			require.NoError(t, err)

			var names []string
			for _, def := range FilterByLabels(defs, selectors) {
				names = append(names, def.Name)
			}
			assert.Equal(t, tt.expected, names)
		})
	}

	_, err := ParseLabelSelectors("novalue")
	assert.Error(t, err)
	_, err = ParseLabelSelectors("tool=")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand(strategy.Config{Name: "sh", Type: strategy.TypeCLI, Command: "sh"}))
	assert.Error(t, ValidateCommand(strategy.Config{Name: "nope", Type: strategy.TypeCLI, Command: "definitely-not-a-command-xyz"}))
	assert.Error(t, ValidateCommand(strategy.Config{Name: "empty", Type: strategy.TypeCLI}))
	assert.NoError(t, ValidateCommand(strategy.Config{Name: "builtin", Type: strategy.TypeBuiltin}))
}
