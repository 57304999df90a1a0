// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
	"github.com/kusari-oss/remedy/internal/remedy/escalation"
)

// MockStrategy provides a mock implementation of the Strategy interface.
// Execute always goes through testify expectations.
type MockStrategy struct {
	mock.Mock
	StrategyName string
	Categories   []models.Category
	Config       strategy.Config
	Context      strategy.Context
}

// NewMockStrategy creates a mock strategy applicable to the given categories
func NewMockStrategy(name string, categories ...models.Category) *MockStrategy {
	return &MockStrategy{StrategyName: name, Categories: categories}
}

// Name returns the configured name
func (m *MockStrategy) Name() string {
	return m.StrategyName
}

// AppliesTo returns the configured categories
func (m *MockStrategy) AppliesTo() []models.Category {
	return m.Categories
}

// Description returns the description from the config
func (m *MockStrategy) Description() string {
	return m.Config.Description
}

// Execute mocks the Execute method
func (m *MockStrategy) Execute(ctx context.Context, target models.Target) (models.Outcome, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(models.Outcome), args.Error(1)
}

// NewMockStrategyCreator returns a creator for registering MockStrategies with a factory
func NewMockStrategyCreator() strategy.Creator {
	return func(config strategy.Config, ctx strategy.Context) (strategy.Strategy, error) {
		categories, err := config.Categories()
		if err != nil {
			return nil, err
		}
		return &MockStrategy{
			StrategyName: config.Name,
			Categories:   categories,
			Config:       config,
			Context:      ctx,
		}, nil
	}
}

// MockNotifier records escalations
type MockNotifier struct {
	mock.Mock
}

// Notify mocks the Notify method
func (m *MockNotifier) Notify(ctx context.Context, session models.Session) {
	m.Called(ctx, session)
}

// MockSink provides a mock escalation sink
type MockSink struct {
	mock.Mock
	SinkName string
}

// Name returns the sink name
func (m *MockSink) Name() string {
	return m.SinkName
}

// Send mocks the Send method
func (m *MockSink) Send(ctx context.Context, event escalation.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
