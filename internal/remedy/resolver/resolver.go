// SPDX-License-Identifier: Apache-2.0

// Package resolver finds strategy definitions on disk.
package resolver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/strategy"
)

// Resolver loads strategy definitions from a list of directories. Earlier
// directories take precedence: the first definition of a name wins.
type Resolver struct {
	strategyPaths []string
	logger        *zap.Logger
}

// NewResolver creates a resolver searching paths in order
func NewResolver(paths []string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{strategyPaths: paths, logger: logger}
}

// Paths returns the search paths in precedence order
func (r *Resolver) Paths() []string {
	return append([]string(nil), r.strategyPaths...)
}

// ListAvailableStrategies loads every definition from every configured location.
// Missing directories are skipped; a malformed definition is an error.
func (r *Resolver) ListAvailableStrategies() (map[string]strategy.Config, error) {
	strategies := make(map[string]strategy.Config)

	for _, path := range r.strategyPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("error reading strategy directory %s: %w", path, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !format.IsDocumentFile(entry.Name()) {
				continue
			}

			strategyPath := filepath.Join(path, entry.Name())
			cfg, err := LoadStrategyConfig(strategyPath)
			if err != nil {
				return nil, err
			}

			if existing, exists := strategies[cfg.Name]; exists {
				r.logger.Debug("Strategy definition shadowed",
					zap.String("strategy", cfg.Name),
					zap.String("ignored", strategyPath),
					zap.String("type", existing.Type))
				continue
			}
			strategies[cfg.Name] = *cfg
		}
	}

	return strategies, nil
}

// Definitions merges inline definitions with those found on disk. Inline
// definitions win over files; the result is sorted by name.
func (r *Resolver) Definitions(inline []strategy.Config) ([]strategy.Config, error) {
	fromFiles, err := r.ListAvailableStrategies()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]strategy.Config, len(inline)+len(fromFiles))
	for name, cfg := range fromFiles {
		merged[name] = cfg
	}
	seen := make(map[string]bool, len(inline))
	for _, cfg := range inline {
		if cfg.Name == "" {
			return nil, fmt.Errorf("inline strategy definition without a name")
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate strategy definition: %s", cfg.Name)
		}
		seen[cfg.Name] = true
		merged[cfg.Name] = cfg
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]strategy.Config, 0, len(names))
	for _, name := range names {
		out = append(out, merged[name])
	}
	return out, nil
}

// LoadStrategyConfig reads one definition file. A definition without a name
// is named after its file.
func LoadStrategyConfig(path string) (*strategy.Config, error) {
	var cfg strategy.Config
	if err := format.ParseFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("error loading strategy file %s: %w", path, err)
	}

	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &cfg, nil
}

// FilterByLabels keeps definitions whose labels match every selector. A
// selector matches when the definition has any of its values for that key.
func FilterByLabels(definitions []strategy.Config, selectors map[string][]string) []strategy.Config {
	if len(selectors) == 0 {
		return definitions
	}

	var filtered []strategy.Config
	for _, def := range definitions {
		if matchesLabelSelectors(def.Labels, selectors) {
			filtered = append(filtered, def)
		}
	}
	return filtered
}

// ParseLabelSelectors parses "key=v1|v2,other=v3" into selectors
func ParseLabelSelectors(spec string) (map[string][]string, error) {
	selectors := make(map[string][]string)
	if strings.TrimSpace(spec) == "" {
		return selectors, nil
	}

	for _, part := range strings.Split(spec, ",") {
		key, valuesStr, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid label selector %q, expected key=value", part)
		}
		for _, v := range strings.Split(valuesStr, "|") {
			if v = strings.TrimSpace(v); v != "" {
				selectors[key] = append(selectors[key], v)
			}
		}
		if len(selectors[key]) == 0 {
			return nil, fmt.Errorf("label selector %q has no values", key)
		}
	}
	return selectors, nil
}

func matchesLabelSelectors(labels map[string][]string, selectors map[string][]string) bool {
	for key, values := range selectors {
		have, ok := labels[key]
		if !ok || !hasAnyMatchingValue(have, values) {
			return false
		}
	}
	return true
}

func hasAnyMatchingValue(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// ValidatePaths reports search paths that exist but cannot be read
func (r *Resolver) ValidatePaths() []error {
	var errs []error
	for _, path := range r.strategyPaths {
		if _, err := os.Stat(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("cannot access strategy path %s: %w", path, err))
		}
	}
	return errs
}

// ValidateCommand checks that a cli strategy's command is on PATH
func ValidateCommand(cfg strategy.Config) error {
	if cfg.Type != strategy.TypeCLI {
		return nil
	}
	if cfg.Command == "" {
		return fmt.Errorf("strategy '%s' has empty command", cfg.Name)
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return fmt.Errorf("command '%s' not found in PATH: %w", cfg.Command, err)
	}
	return nil
}
