// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/condition"
)

// Strategy types understood by the default factory
const (
	TypeCLI     = "cli"
	TypeBuiltin = "builtin"
	TypeAI      = "ai"
)

// Creator builds a strategy from its configuration
type Creator func(Config, Context) (Strategy, error)

// Context provides contextual information for strategy creation
type Context struct {
	// WorkDir is where payload scratch files are created. Empty means os.TempDir.
	WorkDir string
	Logger  *zap.Logger
	Verbose bool
	Getenv  func(string) string
}

// Factory creates strategies of different types
type Factory struct {
	creators  map[string]Creator
	context   Context
	evaluator *condition.CELEvaluator
}

// NewFactory creates a new strategy factory with the given context
func NewFactory(context Context) (*Factory, error) {
	evaluator, err := condition.NewCELEvaluator()
	if err != nil {
		return nil, err
	}
	if context.Logger == nil {
		context.Logger = zap.NewNop()
	}
	if context.Getenv == nil {
		context.Getenv = os.Getenv
	}
	return &Factory{
		creators:  make(map[string]Creator),
		context:   context,
		evaluator: evaluator,
	}, nil
}

// Register registers a new strategy type creator
func (f *Factory) Register(typeName string, creator Creator) {
	f.creators[typeName] = creator
}

// Types lists the registered strategy types
func (f *Factory) Types() []string {
	types := make([]string, 0, len(f.creators))
	for name := range f.creators {
		types = append(types, name)
	}
	return types
}

// Create creates a strategy of the configured type. A `when` expression is
// compiled here so syntax errors surface at load time.
func (f *Factory) Create(config Config) (Strategy, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("strategy name is required")
	}

	creator, ok := f.creators[config.Type]
	if !ok {
		return nil, fmt.Errorf("strategy %q: unknown strategy type: %s", config.Name, config.Type)
	}

	s, err := creator(config, f.context)
	if err != nil {
		return nil, fmt.Errorf("error creating strategy %q: %w", config.Name, err)
	}

	if config.When == "" {
		return s, nil
	}

	cond, err := f.evaluator.Compile(config.When)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: invalid when condition: %w", config.Name, err)
	}
	return WithCondition(s, cond), nil
}

// RegisterDefaultTypes registers all the standard strategy types
func (f *Factory) RegisterDefaultTypes() {
	f.Register(TypeCLI, func(config Config, context Context) (Strategy, error) {
		return NewCLIStrategy(config, context)
	})

	f.Register(TypeBuiltin, func(config Config, context Context) (Strategy, error) {
		return NewBuiltinStrategy(config)
	})

	f.Register(TypeAI, func(config Config, context Context) (Strategy, error) {
		return NewAIStrategy(config, context)
	})
}
