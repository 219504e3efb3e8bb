package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const systemPrompt = "You are a helpful assistant."

// maxErrorBody ограничивает размер тела ответа, попадающего в текст ошибки.
const maxErrorBody = 512

// ChatOptions параметры клиента chat-completions.
type ChatOptions struct {
	Name        string
	URL         string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// ChatClient клиент API в формате chat-completions (OpenAI, DeepSeek, Perplexity).
// Таймаут задаётся контекстом вызова.
type ChatClient struct {
	opts       ChatOptions
	httpClient *http.Client
}

// NewChatClient создаёт клиента. Если HTTPClient не задан, используется клиент без таймаута.
func NewChatClient(opts ChatOptions) *ChatClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &ChatClient{opts: opts, httpClient: hc}
}

// Name возвращает идентификатор провайдера.
func (c *ChatClient) Name() string { return c.opts.Name }

// Model возвращает идентификатор модели.
func (c *ChatClient) Model() string { return c.opts.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate отправляет текст пользователя и возвращает ответ модели.
func (c *ChatClient) Generate(ctx context.Context, text string) (string, error) {
	op := "aiprovider." + c.opts.Name + ".Generate"

	body, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%s: unexpected status %s: %s", op, resp.Status, strings.TrimSpace(string(raw)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%s: api error: %s", op, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", op)
	}
	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%s: empty reply", op)
	}
	return reply, nil
}
