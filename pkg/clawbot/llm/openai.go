package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
)

// OpenAI talks to the OpenAI API or any compatible endpoint.
type OpenAI struct {
	client     openai.Client
	configured bool
	model      string
	embedModel string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewOpenAI creates an OpenAI client. A missing API key is reported on the
// first call, not here, so the rest of the bot can still start.
func NewOpenAI(cfg config.OpenAIConfig, timeout time.Duration, logger *slog.Logger) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client:     openai.NewClient(opts...),
		configured: cfg.APIKey != "",
		model:      model,
		embedModel: embedModel,
		timeout:    timeout,
		logger:     logger.With("component", "llm", "backend", "openai"),
	}
}

// Name implements Client.
func (o *OpenAI) Name() string { return "openai/" + o.model }

// Complete implements Client.
func (o *OpenAI) Complete(ctx context.Context, prompt string, history []Message) (string, error) {
	if !o.configured {
		return "", fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrBackendUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	})
	if err != nil {
		return "", unavailable("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", unavailable("openai chat", fmt.Errorf("no choices in response"))
	}
	o.logger.Debug("completion finished", "model", o.model, "duration", time.Since(start),
		"tokens", resp.Usage.TotalTokens)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed implements Client.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if !o.configured {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrBackendUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, unavailable("openai embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, unavailable("openai embed", fmt.Errorf("empty embedding"))
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
