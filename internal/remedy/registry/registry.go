// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
)

var (
	ErrUnknownCategory   = errors.New("no strategy chain registered for category")
	ErrDuplicateCategory = errors.New("strategy chain already registered for category")
	ErrEmptyChain        = errors.New("strategy chain must contain at least one strategy")
	ErrStrategyMismatch  = errors.New("strategy does not apply to category")
	ErrRegistrySealed    = errors.New("registry is sealed")
)

// Chain is the ordered list of strategies tried for one category
type Chain struct {
	Category   models.Category
	strategies []strategy.Strategy
}

// Strategies returns a copy of the chain's strategies in order
func (c Chain) Strategies() []strategy.Strategy {
	return slices.Clone(c.strategies)
}

// Len returns the number of strategies in the chain
func (c Chain) Len() int {
	return len(c.strategies)
}

// At returns the i-th strategy
func (c Chain) At(i int) strategy.Strategy {
	return c.strategies[i]
}

// Names returns the strategy names in order
func (c Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Registry maps categories to strategy chains. It is populated at startup and
// sealed before remediation begins; reads after sealing take no locks.
type Registry struct {
	mu     sync.Mutex
	chains map[models.Category]Chain
	sealed bool
}

// New creates an empty registry
func New() *Registry {
	return &Registry{chains: make(map[models.Category]Chain)}
}

// Register binds an ordered chain of strategies to a category
func (r *Registry) Register(category models.Category, strategies ...strategy.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("cannot register %s: %w", category, ErrRegistrySealed)
	}
	if _, exists := r.chains[category]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCategory, category)
	}
	if len(strategies) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyChain, category)
	}
	for _, s := range strategies {
		if s == nil {
			return fmt.Errorf("nil strategy in chain for %s", category)
		}
		if !strategy.Applies(s, category) {
			return fmt.Errorf("%w: %s does not list %s", ErrStrategyMismatch, s.Name(), category)
		}
	}

	r.chains[category] = Chain{Category: category, strategies: slices.Clone(strategies)}
	return nil
}

// Seal prevents further registration
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Resolve returns the chain registered for category
func (r *Registry) Resolve(category models.Category) (Chain, error) {
	chain, ok := r.chains[category]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return chain, nil
}

// Categories lists the registered categories in sorted order
func (r *Registry) Categories() []models.Category {
	cats := make([]models.Category, 0, len(r.chains))
	for c := range r.chains {
		cats = append(cats, c)
	}
	slices.Sort(cats)
	return cats
}
