// SPDX-License-Identifier: Apache-2.0

package strategy_test

import (
	"context"
	"testing"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinStrategies(t *testing.T) {
	tests := []struct {
		name     string
		builtin  string
		params   map[string]interface{}
		payload  string
		kind     models.OutcomeKind
		expected string
	}{
		{
			name:     "trailing commas removed",
			builtin:  "json-trailing-commas",
			payload:  "{\"a\": [1, 2,],\n \"b\": {\"c\": true,},\n}",
			kind:     models.OutcomeFixed,
			expected: "{\"a\": [1, 2],\n \"b\": {\"c\": true}\n}",
		},
		{
			name:    "commas inside strings preserved",
			builtin: "json-trailing-commas",
			payload: `{"msg": "a,}", "esc": "q\",]"}`,
			kind:    models.OutcomeNoChange,
		},
		{
			name:    "still invalid json fails",
			builtin: "json-trailing-commas",
			payload: `{"a": 1,,}`,
			kind:    models.OutcomeFailed,
		},
		{
			name:     "trailing whitespace",
			builtin:  "trim-trailing-whitespace",
			payload:  "a  \nb\t\r\nc",
			kind:     models.OutcomeFixed,
			expected: "a\nb\r\nc",
		},
		{
			name:    "clean text unchanged",
			builtin: "trim-trailing-whitespace",
			payload: "a\nb\n",
			kind:    models.OutcomeNoChange,
		},
		{
			name:     "final newline added",
			builtin:  "ensure-final-newline",
			payload:  "key: value",
			kind:     models.OutcomeFixed,
			expected: "key: value\n",
		},
		{
			name:    "empty payload left alone",
			builtin: "ensure-final-newline",
			payload: "",
			kind:    models.OutcomeNoChange,
		},
		{
			name:     "tabs default width",
			builtin:  "tabs-to-spaces",
			payload:  "root:\n\tchild: 1\n\t\tleaf: x\tkept\n",
			kind:     models.OutcomeFixed,
			expected: "root:\n    child: 1\n        leaf: x\tkept\n",
		},
		{
			name:     "tabs custom width",
			builtin:  "tabs-to-spaces",
			params:   map[string]interface{}{"width": 2},
			payload:  "\tx",
			kind:     models.OutcomeFixed,
			expected: "  x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := strategy.NewBuiltinStrategy(strategy.Config{
				Name:      tt.builtin,
				Type:      strategy.TypeBuiltin,
				Builtin:   tt.builtin,
				Params:    tt.params,
				AppliesTo: []string{"lint"},
			})
			require.NoError(t, err)

			outcome, err := s.Execute(context.Background(), models.Target{ID: "f", Payload: []byte(tt.payload)})
			require.NoError(t, err)
			require.NoError(t, outcome.Validate())
			assert.Equal(t, tt.kind, outcome.Kind)
			if tt.kind == models.OutcomeFixed {
				assert.Equal(t, tt.expected, string(outcome.Payload))
			}
		})
	}
}

func TestBuiltinNames(t *testing.T) {
	assert.Equal(t, []string{
		"ensure-final-newline",
		"json-trailing-commas",
		"tabs-to-spaces",
		"trim-trailing-whitespace",
	}, strategy.BuiltinNames())
}

func TestBuiltinHonoursCancelledContext(t *testing.T) {
	s, err := strategy.NewBuiltinStrategy(strategy.Config{Name: "nl", Builtin: "ensure-final-newline", AppliesTo: []string{"lint"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Execute(ctx, models.Target{Payload: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}
