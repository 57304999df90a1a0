// SPDX-License-Identifier: Apache-2.0

package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kusari-oss/remedy/internal/remedy/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandExecutor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping test on Windows")
	}

	tempDir := t.TempDir()
	payloadFile := filepath.Join(tempDir, "payload.txt")
	require.NoError(t, os.WriteFile(payloadFile, []byte("broken"), 0644))

	tests := []struct {
		name        string
		command     string
		args        []string
		data        map[string]interface{}
		workingDir  string
		env         []string
		stdin       []byte
		shouldError bool
		outputCheck func(t *testing.T, result *executor.CommandResult)
	}{
		{
			name:    "echo command",
			command: "echo",
			args:    []string{"fixing {{.ID}}"},
			data:    map[string]interface{}{"ID": "src/app.js"},
			outputCheck: func(t *testing.T, result *executor.CommandResult) {
				assert.Contains(t, string(result.Output), "fixing src/app.js")
			},
		},
		{
			name:    "rewrite payload file",
			command: "bash",
			args:    []string{"-c", "echo fixed > {{.PayloadFile}}"},
			data:    map[string]interface{}{"PayloadFile": payloadFile},
			outputCheck: func(t *testing.T, result *executor.CommandResult) {
				content, err := os.ReadFile(payloadFile)
				require.NoError(t, err)
				assert.Equal(t, "fixed\n", string(content))
			},
		},
		{
			name:       "working directory",
			command:    "pwd",
			data:       map[string]interface{}{},
			workingDir: tempDir,
			outputCheck: func(t *testing.T, result *executor.CommandResult) {
				assert.Contains(t, string(result.Output), filepath.Base(tempDir))
			},
		},
		{
			name:    "stdin is forwarded",
			command: "cat",
			data:    map[string]interface{}{},
			stdin:   []byte("from stdin"),
			outputCheck: func(t *testing.T, result *executor.CommandResult) {
				assert.Equal(t, "from stdin", string(result.Output))
			},
		},
		{
			name:    "environment variables",
			command: "bash",
			args:    []string{"-c", "echo $REMEDY_TARGET"},
			data:    map[string]interface{}{"ID": "deploy-9"},
			env:     []string{"REMEDY_TARGET={{.ID}}"},
			outputCheck: func(t *testing.T, result *executor.CommandResult) {
				assert.Contains(t, string(result.Output), "deploy-9")
			},
		},
		{
			name:        "non-zero exit captures stderr",
			command:     "bash",
			args:        []string{"-c", "echo boom >&2; exit 3"},
			data:        map[string]interface{}{},
			shouldError: true,
			outputCheck: func(t *testing.T, result *executor.CommandResult) {
				assert.Equal(t, 3, result.ExitStatus)
				assert.Equal(t, "boom", result.StderrTail(100))
			},
		},
		{
			name:        "nonexistent command",
			command:     "thiscommanddoesnotexist",
			data:        map[string]interface{}{},
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := executor.NewCommandExecutor(tt.command, tt.args).
				WithWorkingDir(tt.workingDir).
				WithEnvironment(tt.env).
				WithStdin(tt.stdin)

			require.NoError(t, exec.ProcessParameters(tt.data))

			result, err := exec.Execute(context.Background())
			if tt.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.outputCheck != nil {
				require.NotNil(t, result)
				tt.outputCheck(t, result)
			}
		})
	}
}

func TestCommandExecutorTemplateError(t *testing.T) {
	exec := executor.NewCommandExecutor("echo", []string{"{{.Missing}}"})
	err := exec.ProcessParameters(map[string]interface{}{})
	assert.Error(t, err)
}

func TestCommandExecutorContextTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping test on Windows")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := executor.NewCommandExecutor("sleep", []string{"10"}).Execute(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStderrTail(t *testing.T) {
	result := &executor.CommandResult{Stderr: []byte("  line one\nline two  \n")}
	assert.Equal(t, "line one\nline two", result.StderrTail(100))
	assert.Equal(t, "...two", result.StderrTail(3))
}
