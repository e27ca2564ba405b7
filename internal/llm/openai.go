package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/kingrea/covloop/internal/conversation"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient talks to the OpenAI chat completions API, or any server that
// speaks it when BaseURL is set.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature *float32
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAI builds an OpenAI backend. The key comes from settings,
// OPENAI_API_KEY, or /run/secrets/openai_api_key.
func NewOpenAI(settings Settings) (Generator, error) {
	logger := settings.logger()
	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = lookupSecret("OPENAI_API_KEY", "openai_api_key", logger)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w: set OPENAI_API_KEY", ErrMissingCredentials)
	}
	cfg := openai.DefaultConfig(apiKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}
	if settings.HTTPClient != nil {
		cfg.HTTPClient = settings.HTTPClient
	}
	model := settings.model(defaultOpenAIModel)
	logger.Info("initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: settings.Temperature,
		maxTokens:   settings.MaxTokens,
		logger:      logger,
	}, nil
}

// Generate implements Generator.
func (o *OpenAIClient) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	ctx, span := startSpan(ctx, "OpenAIClient.Generate", o.model, len(messages))
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}
	if o.maxTokens > 0 {
		req.MaxCompletionTokens = o.maxTokens
	}

	o.logger.Debug("generating via OpenAI", "model", o.model, "messages", len(messages))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Error("OpenAI API call failed", "error", err)
		return "", recordSpanError(span, fmt.Errorf("openai: chat completion: %w", err))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", recordSpanError(span, fmt.Errorf("openai: %w", ErrEmptyResponse))
	}
	o.logger.Debug("received OpenAI response", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
