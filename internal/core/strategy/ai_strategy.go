// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/template"
)

const (
	defaultAIModel     = "gpt-4o-mini"
	defaultAPIKeyEnv   = "OPENAI_API_KEY"
	defaultAIMaxTokens = 4096

	aiSystemPrompt = "You repair broken files. Reply with the complete corrected file and nothing else."

	defaultAIPrompt = `The following {{.Category}} target failed: {{.ID}}
{{range $k, $v := .Metadata}}{{$k}}: {{$v}}
{{end}}
Return the corrected content.

{{.Payload}}`
)

// chatCompleter is the subset of the OpenAI client the strategy needs
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AIStrategy asks an OpenAI-compatible chat endpoint for a repaired payload
type AIStrategy struct {
	base
	client chatCompleter
	logger *zap.Logger
}

// NewAIStrategy creates a new AI strategy. A missing API key is reported when
// the strategy runs, so an unused definition never blocks startup.
func NewAIStrategy(config Config, context Context) (*AIStrategy, error) {
	categories, err := config.Categories()
	if err != nil {
		return nil, err
	}

	if config.Model == "" {
		config.Model = defaultAIModel
	}
	if config.APIKeyEnv == "" {
		config.APIKeyEnv = defaultAPIKeyEnv
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultAIMaxTokens
	}
	if config.Prompt == "" {
		config.Prompt = defaultAIPrompt
	}

	if err := template.Check(config.Prompt); err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}

	getenv := context.Getenv
	if getenv == nil {
		return nil, fmt.Errorf("no environment lookup configured")
	}

	logger := context.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &AIStrategy{
		base:   base{config: config, categories: categories},
		logger: logger.With(zap.String("strategy", config.Name)),
	}

	if apiKey := getenv(config.APIKeyEnv); apiKey != "" {
		clientConfig := openai.DefaultConfig(apiKey)
		if config.BaseURL != "" {
			clientConfig.BaseURL = config.BaseURL
		}
		s.client = openai.NewClientWithConfig(clientConfig)
	}

	return s, nil
}

// Description returns the strategy description
func (s *AIStrategy) Description() string {
	return s.describe(fmt.Sprintf("Ask %s for a corrected payload", s.config.Model))
}

// Execute sends the rendered prompt and uses the reply as the repaired payload
func (s *AIStrategy) Execute(ctx context.Context, target models.Target) (models.Outcome, error) {
	if s.client == nil {
		return models.Failedf("api key not configured (set %s)", s.config.APIKeyEnv), nil
	}

	prompt, err := template.ProcessString(s.config.Prompt, template.NewTargetData(target, ""))
	if err != nil {
		return models.Failed(err.Error()), nil
	}

	req := openai.ChatCompletionRequest{
		Model: s.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: aiSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(prompt)},
		},
		MaxCompletionTokens: s.config.MaxTokens,
		Temperature:         s.config.Temperature,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Failed("timeout"), nil
		}
		return models.Failedf("chat completion failed: %v", err), nil
	}

	if len(resp.Choices) == 0 {
		return models.Failed("chat completion returned no choices"), nil
	}
	s.logger.Debug("received completion",
		zap.String("target", target.ID),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	repaired := []byte(stripCodeFence(resp.Choices[0].Message.Content))
	if len(bytes.TrimSpace(repaired)) == 0 {
		return models.Failed("chat completion returned empty content"), nil
	}
	if bytes.Equal(repaired, target.Payload) {
		return models.NoChange(), nil
	}
	return models.Fixed(repaired), nil
}

// stripCodeFence removes a surrounding markdown code fence, keeping a single
// trailing newline
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	body := trimmed[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return content
	}
	body = strings.TrimSuffix(strings.TrimRight(body, " \t\n"), "```")
	return strings.TrimRight(body, " \t\n") + "\n"
}
