package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kingrea/covloop/internal/conversation"
)

const (
	anthropicDefaultModel  = "claude-3-5-sonnet-20240620"
	anthropicDefaultTokens = 4096
)

// AnthropicClient calls the Anthropic messages API through the official SDK.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	temperature *float32
	maxTokens   int
	logger      *slog.Logger
}

// NewAnthropic builds an Anthropic backend. The key comes from settings,
// ANTHROPIC_API_KEY, or /run/secrets/anthropic_api_key.
func NewAnthropic(settings Settings) (Generator, error) {
	logger := settings.logger()
	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = lookupSecret("ANTHROPIC_API_KEY", "anthropic_api_key", logger)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w: set ANTHROPIC_API_KEY", ErrMissingCredentials)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	if settings.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(settings.HTTPClient))
	}
	maxTokens := settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultTokens
	}
	model := settings.model(anthropicDefaultModel)
	logger.Info("initializing Anthropic client", "model", model)
	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       model,
		temperature: settings.Temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}, nil
}

// Generate implements Generator. System messages are lifted into the
// top-level system prompt.
func (a *AnthropicClient) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	ctx, span := startSpan(ctx, "AnthropicClient.Generate", a.model, len(messages))
	defer span.End()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
	}
	if a.temperature != nil {
		params.Temperature = anthropic.Float(float64(*a.temperature))
	}
	var system []string
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case conversation.RoleSystem:
			system = append(system, msg.Content)
		case conversation.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	a.logger.Debug("sending request to Anthropic", "model", a.model, "messages", len(params.Messages))
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", recordSpanError(span, fmt.Errorf("anthropic: %w", err))
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", recordSpanError(span, fmt.Errorf("anthropic: %w", ErrEmptyResponse))
	}
	return text.String(), nil
}
