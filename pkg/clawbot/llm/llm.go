// Package llm wraps the AI backends used for open-ended chat, structured
// extraction prompts and sentence embeddings. Ollama and OpenAI-compatible
// endpoints are supported; both implement Client.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
)

// ErrBackendUnavailable is returned when the backend is misconfigured or
// cannot be reached. Callers turn it into an apology, never a crash.
var ErrBackendUnavailable = errors.New("ai backend unavailable")

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    Role
	Content string
}

// Client completes prompts and embeds text.
type Client interface {
	// Complete answers prompt given prior conversation turns.
	Complete(ctx context.Context, prompt string, history []Message) (string, error)

	// Embed returns the embedding vector of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the backend in logs.
	Name() string
}

// New builds the client selected by cfg.Backend.
func New(cfg config.AIConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "ollama":
		return NewOllama(cfg.Ollama, cfg.Timeout, logger)
	case "openai":
		return NewOpenAI(cfg.OpenAI, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, cfg.Backend)
	}
}

// ExtractJSON decodes the first {...} object found in text into v. Models
// often wrap JSON in prose or code fences.
func ExtractJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("decode JSON response: %w", err)
	}
	return nil
}

func unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, backend, err)
}
