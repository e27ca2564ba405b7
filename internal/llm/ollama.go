package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/covloop/internal/conversation"
)

const (
	ollamaDefaultURL   = "http://localhost:11434"
	ollamaDefaultModel = "codellama"
	ollamaKeepAlive    = "30m"
)

type ollamaChatRequest struct {
	Model     string                 `json:"model"`
	Messages  []conversation.Message `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
	Options   map[string]any         `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message conversation.Message `json:"message"`
	Done    bool                 `json:"done"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// OllamaClient runs a locally hosted model through the Ollama chat API.
type OllamaClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature *float32
	maxTokens   int
	logger      *slog.Logger

	warmOnce sync.Once
	warmErr  error
}

// NewOllama builds a local backend. The server address comes from settings,
// OLLAMA_BASE_URL, or localhost.
func NewOllama(settings Settings) (Generator, error) {
	logger := settings.logger()
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	httpClient := settings.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	model := settings.model(ollamaDefaultModel)
	baseURL = strings.TrimSuffix(baseURL, "/")
	logger.Info("initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient:  httpClient,
		baseURL:     baseURL,
		model:       model,
		temperature: settings.Temperature,
		maxTokens:   settings.MaxTokens,
		logger:      logger,
	}, nil
}

// Warmup loads the model weights with a minimal request. Only the first call
// does any work; later calls return its result.
func (o *OllamaClient) Warmup(ctx context.Context) error {
	o.warmOnce.Do(func() {
		start := time.Now()
		o.logger.Info("warming model", "model", o.model, "keep_alive", ollamaKeepAlive)
		_, err := o.chat(ctx, "OllamaClient.Warmup", []conversation.Message{{Role: conversation.RoleUser, Content: "ping"}}, map[string]any{"num_predict": 1})
		if err != nil {
			o.warmErr = fmt.Errorf("ollama: warmup: %w", err)
			return
		}
		o.logger.Info("model warmed", "model", o.model, "load_duration", time.Since(start))
	})
	return o.warmErr
}

// Generate implements Generator.
func (o *OllamaClient) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	options := map[string]any{}
	if o.temperature != nil {
		options["temperature"] = *o.temperature
	} else {
		options["temperature"] = float32(0.2)
	}
	if o.maxTokens > 0 {
		options["num_predict"] = o.maxTokens
	}
	text, err := o.chat(ctx, "OllamaClient.Generate", messages, options)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return text, nil
}

func (o *OllamaClient) chat(ctx context.Context, spanName string, messages []conversation.Message, options map[string]any) (string, error) {
	ctx, span := startSpan(ctx, spanName, o.model, len(messages))
	defer span.End()

	payload := ollamaChatRequest{
		Model:     o.model,
		Messages:  messages,
		Stream:    false,
		KeepAlive: ollamaKeepAlive,
		Options:   options,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", recordSpanError(span, fmt.Errorf("ollama: marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", recordSpanError(span, fmt.Errorf("ollama: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Error("Ollama API call failed", "error", err)
		return "", recordSpanError(span, fmt.Errorf("ollama: request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", recordSpanError(span, fmt.Errorf("ollama: read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr ollamaError
		if resp.StatusCode == http.StatusNotFound && json.Unmarshal(respBody, &apiErr) == nil &&
			strings.Contains(apiErr.Error, "not found") {
			return "", recordSpanError(span, fmt.Errorf("ollama: model %q not found, run 'ollama pull %s'", o.model, o.model))
		}
		return "", recordSpanError(span, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(respBody)))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", recordSpanError(span, fmt.Errorf("ollama: parse response: %w", err))
	}
	return chatResp.Message.Content, nil
}
