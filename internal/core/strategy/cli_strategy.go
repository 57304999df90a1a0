// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/template"
	"github.com/kusari-oss/remedy/internal/remedy/executor"
)

// Output modes for CLI strategies
const (
	// OutputFile reads the repaired payload back from the payload file
	OutputFile = "file"
	// OutputStdout takes the command's stdout as the repaired payload
	OutputStdout = "stdout"
	// OutputNone treats a zero exit as a successful repair without touching the payload
	OutputNone = "none"
)

const stderrTailBytes = 512

// CLIStrategy repairs a target by running an external command
type CLIStrategy struct {
	base
	workDir string
	verbose bool
	logger  *zap.Logger
}

// NewCLIStrategy creates a new CLI strategy
func NewCLIStrategy(config Config, context Context) (*CLIStrategy, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("command is required for cli strategies")
	}

	switch config.Output {
	case "":
		config.Output = OutputFile
	case OutputFile, OutputStdout, OutputNone:
	default:
		return nil, fmt.Errorf("invalid output mode %q (expected file, stdout or none)", config.Output)
	}

	categories, err := config.Categories()
	if err != nil {
		return nil, err
	}

	logger := context.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CLIStrategy{
		base:    base{config: config, categories: categories},
		workDir: context.WorkDir,
		verbose: context.Verbose,
		logger:  logger.With(zap.String("strategy", config.Name)),
	}, nil
}

// Description returns the strategy description
func (s *CLIStrategy) Description() string {
	return s.describe(fmt.Sprintf("Run %s", s.config.Command))
}

// Execute materializes the payload to a scratch file, runs the command and
// maps its result to an outcome
func (s *CLIStrategy) Execute(ctx context.Context, target models.Target) (models.Outcome, error) {
	scratch, err := os.MkdirTemp(s.workDir, "remedy-*")
	if err != nil {
		return models.Outcome{}, fmt.Errorf("error creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	payloadFile := filepath.Join(scratch, payloadFileName(target.ID))
	if err := os.WriteFile(payloadFile, target.Payload, 0600); err != nil {
		return models.Outcome{}, fmt.Errorf("error writing payload file: %w", err)
	}

	exec := executor.NewCommandExecutor(s.config.Command, s.config.Args).
		WithWorkingDir(s.config.WorkingDir).
		WithEnvironment(s.config.Env).
		WithVerbose(s.verbose).
		WithLogger(s.logger)

	if s.config.Output == OutputStdout {
		exec.WithStdin(target.Payload)
	}

	if err := exec.ProcessParameters(template.NewTargetData(target, payloadFile)); err != nil {
		return models.Failed(err.Error()), nil
	}

	result, err := exec.Execute(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Failed("timeout"), nil
		}
		if result != nil && result.ExitStatus != 0 {
			reason := fmt.Sprintf("exit status %d", result.ExitStatus)
			if tail := result.StderrTail(stderrTailBytes); tail != "" {
				reason += ": " + tail
			}
			return models.Failed(reason), nil
		}
		return models.Failed(err.Error()), nil
	}

	var repaired []byte
	switch s.config.Output {
	case OutputNone:
		return models.Fixed(target.Payload), nil
	case OutputStdout:
		repaired = result.Output
	default:
		repaired, err = os.ReadFile(payloadFile)
		if err != nil {
			return models.Failed(fmt.Sprintf("error reading repaired payload: %v", err)), nil
		}
	}

	if bytes.Equal(repaired, target.Payload) {
		return models.NoChange(), nil
	}
	return models.Fixed(repaired), nil
}

// payloadFileName keeps the target's base name so extension-sensitive tools
// recognise the file
func payloadFileName(id string) string {
	name := filepath.Base(filepath.Clean(id))
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return "payload"
	}
	return name
}
