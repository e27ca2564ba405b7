// Package llm adapts hosted and local model backends to a single
// conversation-in, text-out contract.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kingrea/covloop/internal/conversation"
)

var tracer = otel.Tracer("covloop.llm")

var (
	// ErrMissingCredentials is returned when a hosted backend has no API key.
	ErrMissingCredentials = errors.New("llm: missing API credentials")
	// ErrEmptyResponse is returned when a backend answered without any text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Generator produces one completion for the full message history.
type Generator interface {
	Generate(ctx context.Context, messages []conversation.Message) (string, error)
}

// Warmer is implemented by backends that need a slow one-time load before
// the first Generate call.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Settings configures a backend. Zero values fall back to per-backend
// defaults and the environment.
type Settings struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature *float32
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func (s Settings) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Settings) model(fallback string) string {
	if m := strings.TrimSpace(s.Model); m != "" {
		return m
	}
	return fallback
}

// lookupSecret returns the value of envName, then the contents of
// /run/secrets/<secretName>.
func lookupSecret(envName, secretName string, logger *slog.Logger) string {
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		return v
	}
	path := secretDir + "/" + secretName
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	logger.Info("read API key from secret file", "path", path)
	return strings.TrimSpace(string(data))
}

var secretDir = "/run/secrets"

func startSpan(ctx context.Context, name, model string, messages int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.num_messages", messages),
	)
	return ctx, span
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
