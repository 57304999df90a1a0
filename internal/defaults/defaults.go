// SPDX-License-Identifier: Apache-2.0

// Package defaults ships the built-in strategy library and installs it into
// strategy directories.
package defaults

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/strategy"
)

//go:embed strategies/*.yaml
var embeddedFiles embed.FS

const (
	strategiesDir = "strategies"
	stateFileName = ".last_updated"
)

// Action describes what Install did, or would do, to one file
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Change is the result for one library file
type Change struct {
	Name   string
	Path   string
	Action Action
	Reason string
}

// Stats summarizes an install
type Stats struct {
	Examined int
	Created  int
	Updated  int
	Skipped  int
}

// InstallOptions control Install
type InstallOptions struct {
	// Force overwrites files that differ from the shipped version
	Force bool
	// DryRun reports changes without writing anything
	DryRun bool
	Logger *zap.Logger
}

// Names lists the shipped strategy files
func Names() ([]string, error) {
	entries, err := embeddedFiles.ReadDir(strategiesDir)
	if err != nil {
		return nil, fmt.Errorf("error reading embedded strategies: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Strategies parses the shipped definitions
func Strategies() ([]strategy.Config, error) {
	names, err := Names()
	if err != nil {
		return nil, err
	}

	configs := make([]strategy.Config, 0, len(names))
	for _, name := range names {
		content, err := embeddedFiles.ReadFile(path.Join(strategiesDir, name))
		if err != nil {
			return nil, fmt.Errorf("error reading embedded file %s: %w", name, err)
		}
		var cfg strategy.Config
		if err := format.ParseData(content, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing embedded strategy %s: %w", name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Install copies the shipped strategies into dir. Files that already exist are
// kept unless they differ and Force is set. A state file records the time of
// the last install.
func Install(dir string, opts InstallOptions) ([]Change, Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		changes []Change
		stats   Stats
	)

	if !opts.DryRun {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, stats, fmt.Errorf("error creating strategy directory: %w", err)
		}
	}

	err := fs.WalkDir(embeddedFiles, strategiesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		stats.Examined++

		content, err := embeddedFiles.ReadFile(p)
		if err != nil {
			return fmt.Errorf("error reading embedded file %s: %w", p, err)
		}

		name := path.Base(p)
		target := filepath.Join(dir, name)
		action, reason := needsUpdate(content, target, opts.Force)
		changes = append(changes, Change{Name: name, Path: target, Action: action, Reason: reason})

		switch action {
		case ActionSkip:
			stats.Skipped++
			logger.Debug("Skipping strategy file", zap.String("file", name), zap.String("reason", reason))
			return nil
		case ActionCreate:
			stats.Created++
		case ActionUpdate:
			stats.Updated++
		}

		if opts.DryRun {
			return nil
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("error writing %s: %w", target, err)
		}
		logger.Debug("Installed strategy file", zap.String("file", name), zap.String("action", string(action)))
		return nil
	})
	if err != nil {
		return changes, stats, err
	}

	if !opts.DryRun {
		stateFile := filepath.Join(dir, stateFileName)
		if err := os.WriteFile(stateFile, []byte(time.Now().UTC().Format(time.RFC3339)), 0644); err != nil {
			return changes, stats, fmt.Errorf("error updating state file: %w", err)
		}
	}
	return changes, stats, nil
}

// LastUpdated reads the time of the last install into dir
func LastUpdated(dir string) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, string(bytes.TrimSpace(data)))
}

func needsUpdate(content []byte, target string, force bool) (Action, string) {
	existing, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return ActionCreate, "missing"
	}
	if err != nil {
		return ActionUpdate, "unreadable"
	}
	if bytes.Equal(existing, content) {
		return ActionSkip, "identical"
	}
	if !force {
		return ActionSkip, "locally modified"
	}
	return ActionUpdate, "forced"
}
