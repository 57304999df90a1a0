// SPDX-License-Identifier: Apache-2.0

package strategy_test

import (
	"context"
	"testing"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
	"github.com/kusari-oss/remedy/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	ctx := strategy.Context{WorkDir: t.TempDir()}

	factory, err := strategy.NewFactory(ctx)
	require.NoError(t, err)
	factory.Register("test", testutil.NewMockStrategyCreator())

	config := strategy.Config{
		Name:        "test-strategy",
		Type:        "test",
		Description: "Test strategy",
		AppliesTo:   []string{"lint", "Build"},
	}

	s, err := factory.Create(config)
	require.NoError(t, err)
	require.NotNil(t, s)

	mockStrategy, ok := s.(*testutil.MockStrategy)
	require.True(t, ok)
	assert.Equal(t, config, mockStrategy.Config)
	assert.Equal(t, ctx.WorkDir, mockStrategy.Context.WorkDir)
	assert.NotNil(t, mockStrategy.Context.Logger, "factory fills in a logger")
	assert.Equal(t, []models.Category{models.CategoryLint, models.CategoryBuild}, s.AppliesTo())
	assert.True(t, strategy.Applies(s, models.CategoryBuild))
	assert.False(t, strategy.Applies(s, models.CategoryDeploy))

	_, err = factory.Create(strategy.Config{Name: "unknown", Type: "unknown", AppliesTo: []string{"lint"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy type")

	_, err = factory.Create(strategy.Config{Type: "test", AppliesTo: []string{"lint"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	_, err = factory.Create(strategy.Config{Name: "bad-category", Type: "test", AppliesTo: []string{"docs"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")

	_, err = factory.Create(strategy.Config{Name: "no-category", Type: "test"})
	assert.Error(t, err)
}

func TestFactoryDefaultTypes(t *testing.T) {
	factory, err := strategy.NewFactory(strategy.Context{})
	require.NoError(t, err)
	factory.RegisterDefaultTypes()

	assert.ElementsMatch(t, []string{strategy.TypeCLI, strategy.TypeBuiltin, strategy.TypeAI}, factory.Types())

	tests := []struct {
		name    string
		config  strategy.Config
		wantErr string
	}{
		{
			name:   "cli",
			config: strategy.Config{Name: "eslint", Type: "cli", Command: "eslint", Args: []string{"--fix", "{{.PayloadFile}}"}, AppliesTo: []string{"lint"}},
		},
		{
			name:    "cli without command",
			config:  strategy.Config{Name: "broken", Type: "cli", AppliesTo: []string{"lint"}},
			wantErr: "command is required",
		},
		{
			name:    "cli with bad output mode",
			config:  strategy.Config{Name: "broken", Type: "cli", Command: "true", Output: "pipe", AppliesTo: []string{"lint"}},
			wantErr: "invalid output mode",
		},
		{
			name:   "builtin",
			config: strategy.Config{Name: "commas", Type: "builtin", Builtin: "json-trailing-commas", AppliesTo: []string{"lint", "config"}},
		},
		{
			name:    "unknown builtin",
			config:  strategy.Config{Name: "nope", Type: "builtin", Builtin: "reformat-everything", AppliesTo: []string{"lint"}},
			wantErr: "unknown builtin",
		},
		{
			name:    "builtin with invalid params",
			config:  strategy.Config{Name: "tabs", Type: "builtin", Builtin: "tabs-to-spaces", Params: map[string]interface{}{"width": 0}, AppliesTo: []string{"lint"}},
			wantErr: "Parameter validation failed",
		},
		{
			name:    "builtin with unexpected params",
			config:  strategy.Config{Name: "ws", Type: "builtin", Builtin: "trim-trailing-whitespace", Params: map[string]interface{}{"width": 2}, AppliesTo: []string{"lint"}},
			wantErr: "takes no params",
		},
		{
			name:   "ai",
			config: strategy.Config{Name: "llm", Type: "ai", AppliesTo: []string{"build"}},
		},
		{
			name:    "ai with broken prompt",
			config:  strategy.Config{Name: "llm", Type: "ai", Prompt: "{{.ID", AppliesTo: []string{"build"}},
			wantErr: "invalid prompt template",
		},
		{
			name:    "invalid when",
			config:  strategy.Config{Name: "cond", Type: "builtin", Builtin: "ensure-final-newline", When: "target.id ==", AppliesTo: []string{"lint"}},
			wantErr: "invalid when condition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := factory.Create(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.Name, s.Name())
			assert.NotEmpty(t, s.Description())
		})
	}
}

func TestConditionalStrategy(t *testing.T) {
	factory, err := strategy.NewFactory(strategy.Context{})
	require.NoError(t, err)
	factory.RegisterDefaultTypes()

	s, err := factory.Create(strategy.Config{
		Name:      "json-only",
		Type:      "builtin",
		Builtin:   "json-trailing-commas",
		When:      "target.id.endsWith('.json')",
		AppliesTo: []string{"lint"},
	})
	require.NoError(t, err)

	cond, ok := s.(strategy.Conditional)
	require.True(t, ok, "strategies with a when clause are conditional")

	run, err := cond.ShouldRun(models.Target{ID: "a.json", Category: models.CategoryLint})
	require.NoError(t, err)
	assert.True(t, run)

	run, err = cond.ShouldRun(models.Target{ID: "a.yaml", Category: models.CategoryLint})
	require.NoError(t, err)
	assert.False(t, run)

	outcome, err := s.Execute(context.Background(), models.Target{ID: "a.json", Payload: []byte(`[1,]`)})
	require.NoError(t, err)
	assert.Equal(t, models.Fixed([]byte(`[1]`)), outcome)

	plain, err := factory.Create(strategy.Config{Name: "plain", Type: "builtin", Builtin: "ensure-final-newline", AppliesTo: []string{"lint"}})
	require.NoError(t, err)
	_, ok = plain.(strategy.Conditional)
	assert.False(t, ok)
}

func TestFuncStrategy(t *testing.T) {
	s := &strategy.Func{
		StrategyName: "noop",
		Categories:   []models.Category{models.CategoryRuntime},
		Summary:      "does nothing",
		Fn: func(ctx context.Context, target models.Target) (models.Outcome, error) {
			return models.NoChange(), nil
		},
	}

	assert.Equal(t, "noop", s.Name())
	assert.Equal(t, "does nothing", s.Description())
	assert.True(t, strategy.Applies(s, models.CategoryRuntime))

	outcome, err := s.Execute(context.Background(), models.Target{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoChange, outcome.Kind)
}
