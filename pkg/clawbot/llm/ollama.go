package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
)

// Ollama talks to a local Ollama server.
type Ollama struct {
	client     *api.Client
	model      string
	embedModel string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewOllama creates an Ollama client for cfg.URL.
func NewOllama(cfg config.OllamaConfig, timeout time.Duration, logger *slog.Logger) (*Ollama, error) {
	raw := cfg.URL
	if raw == "" {
		raw = "http://127.0.0.1:11434"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ollama url %q: %v", ErrBackendUnavailable, raw, err)
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		client:     api.NewClient(u, &http.Client{}),
		model:      model,
		embedModel: embedModel,
		timeout:    timeout,
		logger:     logger.With("component", "llm", "backend", "ollama"),
	}, nil
}

// Name implements Client.
func (o *Ollama) Name() string { return "ollama/" + o.model }

// Complete implements Client.
func (o *Ollama) Complete(ctx context.Context, prompt string, history []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msgs := make([]api.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, api.Message{Role: string(RoleUser), Content: prompt})

	stream := false
	req := &api.ChatRequest{Model: o.model, Messages: msgs, Stream: &stream}

	var out strings.Builder
	start := time.Now()
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", unavailable("ollama chat", err)
	}
	o.logger.Debug("completion finished", "model", o.model, "duration", time.Since(start), "chars", out.Len())
	return strings.TrimSpace(out.String()), nil
}

// Embed implements Client.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.embedModel, Input: text})
	if err != nil {
		return nil, unavailable("ollama embed", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, unavailable("ollama embed", fmt.Errorf("empty embedding"))
	}
	return resp.Embeddings[0], nil
}
