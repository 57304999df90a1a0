// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"sort"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
)

// Build creates every defined strategy through the factory and registers the
// configured chains. Chain entries name strategies; an unknown name or category
// is a configuration error.
func Build(factory *strategy.Factory, definitions []strategy.Config, chains map[string][]string) (*Registry, map[string]strategy.Strategy, error) {
	created := make(map[string]strategy.Strategy, len(definitions))
	for _, def := range definitions {
		if _, dup := created[def.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate strategy definition: %s", def.Name)
		}
		s, err := factory.Create(def)
		if err != nil {
			return nil, nil, err
		}
		created[def.Name] = s
	}

	// Register in a stable order so errors are deterministic
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := New()
	for _, name := range names {
		category, ok := models.ParseCategory(name)
		if !ok {
			return nil, nil, fmt.Errorf("chain for unknown category %q", name)
		}

		chain := make([]strategy.Strategy, 0, len(chains[name]))
		for _, strategyName := range chains[name] {
			s, ok := created[strategyName]
			if !ok {
				return nil, nil, fmt.Errorf("chain %s references unknown strategy %q", category, strategyName)
			}
			chain = append(chain, s)
		}

		if err := reg.Register(category, chain...); err != nil {
			return nil, nil, err
		}
	}

	return reg, created, nil
}
