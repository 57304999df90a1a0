// SPDX-License-Identifier: Apache-2.0

package strategy_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIStrategy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping test on Windows")
	}

	target := models.Target{
		ID:       "config/app.yaml",
		Category: models.CategoryConfig,
		Payload:  []byte("key:  value"),
		Metadata: map[string]string{"env": "staging"},
	}

	tests := []struct {
		name     string
		config   strategy.Config
		kind     models.OutcomeKind
		payload  string
		reason   string
		contains string
	}{
		{
			name: "file output rewritten",
			config: strategy.Config{
				Command: "bash",
				Args:    []string{"-c", "sed -i 's/  / /' {{.PayloadFile}}"},
			},
			kind:    models.OutcomeFixed,
			payload: "key: value",
		},
		{
			name: "file output untouched",
			config: strategy.Config{
				Command: "bash",
				Args:    []string{"-c", "test -f {{.PayloadFile}}"},
			},
			kind: models.OutcomeNoChange,
		},
		{
			name: "payload file keeps target base name",
			config: strategy.Config{
				Command: "bash",
				Args:    []string{"-c", "case {{.PayloadFile}} in */app.yaml) echo 'key: fixed' > {{.PayloadFile}};; esac"},
			},
			kind:    models.OutcomeFixed,
			payload: "key: fixed\n",
		},
		{
			name: "stdout output",
			config: strategy.Config{
				Command: "bash",
				Args:    []string{"-c", "tr -s ' '"},
				Output:  strategy.OutputStdout,
			},
			kind:    models.OutcomeFixed,
			payload: "key: value",
		},
		{
			name: "none output trusts exit status",
			config: strategy.Config{
				Command: "bash",
				Args:    []string{"-c", "test {{index .Metadata \"env\"}} = staging"},
				Output:  strategy.OutputNone,
			},
			kind:    models.OutcomeFixed,
			payload: "key:  value",
		},
		{
			name: "non-zero exit fails with stderr",
			config: strategy.Config{
				Command: "bash",
				Args:    []string{"-c", "echo 'deploy rejected' >&2; exit 4"},
			},
			kind:   models.OutcomeFailed,
			reason: "exit status 4: deploy rejected",
		},
		{
			name: "template error fails",
			config: strategy.Config{
				Command: "echo",
				Args:    []string{"{{.Unknown}}"},
			},
			kind:     models.OutcomeFailed,
			contains: "error processing argument",
		},
		{
			name: "missing binary fails",
			config: strategy.Config{
				Command: "remedy-no-such-binary",
			},
			kind:     models.OutcomeFailed,
			contains: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Name = "cli"
			tt.config.Type = strategy.TypeCLI
			tt.config.AppliesTo = []string{"config"}

			s, err := strategy.NewCLIStrategy(tt.config, strategy.Context{WorkDir: t.TempDir()})
			require.NoError(t, err)

			outcome, err := s.Execute(context.Background(), target)
			require.NoError(t, err)
			require.NoError(t, outcome.Validate())
			assert.Equal(t, tt.kind, outcome.Kind)

			if tt.payload != "" {
				assert.Equal(t, tt.payload, string(outcome.Payload))
			}
			if tt.reason != "" {
				assert.Equal(t, tt.reason, outcome.Reason)
			}
			if tt.contains != "" {
				assert.Contains(t, outcome.Reason, tt.contains)
			}
		})
	}
}

func TestCLIStrategyTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping test on Windows")
	}

	s, err := strategy.NewCLIStrategy(strategy.Config{
		Name:      "slow",
		Command:   "sleep",
		Args:      []string{"10"},
		AppliesTo: []string{"build"},
	}, strategy.Context{WorkDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	outcome, err := s.Execute(ctx, models.Target{ID: "build-1", Category: models.CategoryBuild})
	require.NoError(t, err)
	assert.Equal(t, models.Failed("timeout"), outcome)
}
