// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/template"
)

// waitDelay bounds how long Wait blocks on open pipes after the process is killed
const waitDelay = 2 * time.Second

// CommandExecutor runs an external command on behalf of a CLI strategy
type CommandExecutor struct {
	command     string
	args        []string
	workingDir  string
	environment []string
	stdin       []byte
	verbose     bool
	logger      *zap.Logger
}

// CommandResult holds the result of command execution
type CommandResult struct {
	Output     []byte
	Stderr     []byte
	Error      error
	ExitStatus int
	Duration   time.Duration
}

// NewCommandExecutor creates a new command executor
func NewCommandExecutor(command string, args []string) *CommandExecutor {
	return &CommandExecutor{
		command: command,
		args:    args,
		logger:  zap.NewNop(),
	}
}

// WithWorkingDir sets the working directory
func (e *CommandExecutor) WithWorkingDir(dir string) *CommandExecutor {
	e.workingDir = dir
	return e
}

// WithEnvironment adds environment variables on top of the current process environment
func (e *CommandExecutor) WithEnvironment(env []string) *CommandExecutor {
	e.environment = env
	return e
}

// WithStdin feeds data to the command's standard input
func (e *CommandExecutor) WithStdin(data []byte) *CommandExecutor {
	e.stdin = data
	return e
}

// WithVerbose mirrors the command's output to the terminal
func (e *CommandExecutor) WithVerbose(verbose bool) *CommandExecutor {
	e.verbose = verbose
	return e
}

// WithLogger sets the logger used for execution tracing
func (e *CommandExecutor) WithLogger(logger *zap.Logger) *CommandExecutor {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// ProcessParameters renders the command, arguments and environment as templates
func (e *CommandExecutor) ProcessParameters(data interface{}) error {
	processedCommand, err := template.ProcessString(e.command, data)
	if err != nil {
		return fmt.Errorf("error processing command: %w", err)
	}
	e.command = string(processedCommand)

	processedArgs, err := template.ProcessArgs(e.args, data)
	if err != nil {
		return err
	}
	e.args = processedArgs

	processedEnv, err := template.ProcessArgs(e.environment, data)
	if err != nil {
		return fmt.Errorf("error processing environment variable: %w", err)
	}
	e.environment = processedEnv

	return nil
}

// Execute runs the command and returns its output. The process is killed when
// ctx is done. A non-zero exit is reported both in the result and as the error.
func (e *CommandExecutor) Execute(ctx context.Context) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer

	if e.verbose {
		cmd.Stdout = io.MultiWriter(&stdout, os.Stdout)
		cmd.Stderr = io.MultiWriter(&stderr, os.Stderr)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	if e.stdin != nil {
		cmd.Stdin = bytes.NewReader(e.stdin)
	}

	if e.workingDir != "" {
		cmd.Dir = e.workingDir
	}

	if len(e.environment) > 0 {
		cmd.Env = append(os.Environ(), e.environment...)
	}

	e.logger.Debug("executing command",
		zap.String("command", e.command),
		zap.String("args", strings.Join(e.args, " ")),
		zap.String("dir", e.workingDir))

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Output:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Error:    err,
		Duration: time.Since(start),
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		result.ExitStatus = exitError.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return result, fmt.Errorf("command interrupted: %w", ctxErr)
	}

	return result, err
}

// StderrTail returns the last n bytes of stderr, trimmed, for use in failure reasons
func (r *CommandResult) StderrTail(n int) string {
	s := strings.TrimSpace(string(r.Stderr))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
