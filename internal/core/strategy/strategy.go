// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"context"
	"fmt"
	"slices"

	"github.com/kusari-oss/remedy/internal/core/condition"
	"github.com/kusari-oss/remedy/internal/core/models"
)

// Strategy is a fixer that attempts to repair a target
type Strategy interface {
	// Name uniquely identifies the strategy in logs and attempt records
	Name() string

	// AppliesTo lists the categories the strategy can be chained under
	AppliesTo() []models.Category

	// Description returns a human-readable description of the strategy
	Description() string

	// Execute attempts a repair. Expected failures are reported as a Failed
	// outcome; a returned error is treated the same way by the orchestrator.
	// Execute must return soon after ctx is done. A strategy still running
	// after the timeout grace period is abandoned and may overlap the
	// session's next attempt.
	Execute(ctx context.Context, target models.Target) (models.Outcome, error)
}

// Conditional is implemented by strategies that only run for some targets
type Conditional interface {
	Strategy

	// ShouldRun reports whether the strategy applies to this particular target
	ShouldRun(target models.Target) (bool, error)
}

// Config holds the definition of a strategy as loaded from YAML
type Config struct {
	Name        string              `yaml:"name" json:"name"`
	Type        string              `yaml:"type" json:"type"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	AppliesTo   []string            `yaml:"applies_to" json:"applies_to"`
	When        string              `yaml:"when,omitempty" json:"when,omitempty"`
	Labels      map[string][]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// cli
	Command    string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args       []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env        []string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkingDir string   `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Output     string   `yaml:"output,omitempty" json:"output,omitempty"`

	// builtin
	Builtin string                 `yaml:"builtin,omitempty" json:"builtin,omitempty"`
	Params  map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`

	// ai
	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	Prompt      string  `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// Categories parses AppliesTo into categories
func (c Config) Categories() ([]models.Category, error) {
	if len(c.AppliesTo) == 0 {
		return nil, fmt.Errorf("strategy %q: applies_to must list at least one category", c.Name)
	}
	out := make([]models.Category, 0, len(c.AppliesTo))
	for _, name := range c.AppliesTo {
		cat, ok := models.ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("strategy %q: unknown category %q", c.Name, name)
		}
		if !slices.Contains(out, cat) {
			out = append(out, cat)
		}
	}
	return out, nil
}

// Applies reports whether s may be chained under category
func Applies(s Strategy, category models.Category) bool {
	return slices.Contains(s.AppliesTo(), category)
}

// base carries the fields every configured strategy shares
type base struct {
	config     Config
	categories []models.Category
}

func (b *base) Name() string { return b.config.Name }

func (b *base) AppliesTo() []models.Category { return b.categories }

func (b *base) describe(fallback string) string {
	if b.config.Description != "" {
		return b.config.Description
	}
	return fallback
}

// conditional gates a strategy behind a compiled `when` expression
type conditional struct {
	Strategy
	cond *condition.Condition
}

// WithCondition wraps s so it only runs for targets matching cond
func WithCondition(s Strategy, cond *condition.Condition) Conditional {
	return &conditional{Strategy: s, cond: cond}
}

func (c *conditional) ShouldRun(target models.Target) (bool, error) {
	ok, err := c.cond.Evaluate(target)
	if err != nil {
		return false, fmt.Errorf("when %q: %w", c.cond.String(), err)
	}
	return ok, nil
}

// Func adapts a plain function into a Strategy
type Func struct {
	StrategyName string
	Categories   []models.Category
	Summary      string
	Fn           func(ctx context.Context, target models.Target) (models.Outcome, error)
}

func (f *Func) Name() string { return f.StrategyName }

func (f *Func) AppliesTo() []models.Category { return f.Categories }

func (f *Func) Description() string { return f.Summary }

func (f *Func) Execute(ctx context.Context, target models.Target) (models.Outcome, error) {
	return f.Fn(ctx, target)
}
