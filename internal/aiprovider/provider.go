// Package aiprovider содержит клиентов внешних AI-провайдеров.
// Для остального кода провайдер непрозрачен: текст на входе, текст на выходе.
package aiprovider

import (
	"context"
	"fmt"

	"github.com/pomogator/relay/internal/config"
)

// Provider возможность сгенерировать ответ на текст пользователя.
type Provider interface {
	Generate(ctx context.Context, text string) (string, error)
	// Name идентификатор провайдера для истории и метрик.
	Name() string
	// Model идентификатор модели.
	Model() string
}

// Поддерживаемые провайдеры.
const (
	ChatGPT    = "chatgpt"
	DeepSeek   = "deepseek"
	Perplexity = "perplexity"
)

type preset struct {
	url   string
	model string
	key   func(config.AI) string
}

var presets = map[string]preset{
	ChatGPT: {
		url:   "https://api.openai.com/v1/chat/completions",
		model: "gpt-3.5-turbo",
		key:   func(c config.AI) string { return c.OpenAIKey },
	},
	DeepSeek: {
		url:   "https://api.deepseek.com/v1/chat/completions",
		model: "deepseek-chat",
		key:   func(c config.AI) string { return c.DeepSeekKey },
	},
	Perplexity: {
		url:   "https://api.perplexity.ai/chat/completions",
		model: "sonar",
		key:   func(c config.AI) string { return c.PerplexityKey },
	},
}

// New создаёт клиента провайдера, выбранного в конфиге.
func New(cfg config.AI) (Provider, error) {
	const op = "aiprovider.New"

	p, ok := presets[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%s: unknown provider %q", op, cfg.Provider)
	}
	key := p.key(cfg)
	if key == "" {
		return nil, fmt.Errorf("%s: api key for %s is not set", op, cfg.Provider)
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	return NewChatClient(ChatOptions{
		Name:        cfg.Provider,
		URL:         p.url,
		APIKey:      key,
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}), nil
}
