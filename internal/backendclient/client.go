// Package backendclient HTTP-клиент бота к backend relay.
// Каждый запрос подписывается сервисным JWT, коды ответа backend
// переводятся обратно в ошибки из models.
package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pomogator/relay/internal/lib/jwt"
	"github.com/pomogator/relay/internal/models"
)

// serviceName subject сервисного токена бота.
const serviceName = "bot"

// TokenSource выпускает сервисные токены.
type TokenSource interface {
	GenerateToken(service, scope string) (string, error)
}

// Reply ответ на сообщение пользователя.
type Reply struct {
	Reply            string `json:"reply"`
	RemainingCredits int    `json:"remaining_credits"`
	IsVIP            bool   `json:"is_vip"`
}

type envelope struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

// Client вызывает backend relay.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// New создаёт клиента. timeout должен покрывать таймаут AI-провайдера на backend.
func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ProcessMessage отправляет текст пользователя на обработку AI.
func (c *Client) ProcessMessage(ctx context.Context, telegramID int64, text string) (*Reply, error) {
	const op = "backendclient.ProcessMessage"
	var reply Reply
	body := map[string]any{"telegram_id": telegramID, "text": text}
	if err := c.do(ctx, http.MethodPost, "/process_message", nil, body, &reply); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &reply, nil
}

// StartTrial выдаёт пробный лимит и возвращает число бесплатных сообщений.
func (c *Client) StartTrial(ctx context.Context, telegramID int64) (int, error) {
	const op = "backendclient.StartTrial"
	var started struct {
		TrialRemaining int `json:"trial_remaining"`
	}
	body := map[string]any{"telegram_id": telegramID}
	if err := c.do(ctx, http.MethodPost, "/start_trial", nil, body, &started); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return started.TrialRemaining, nil
}

// GetCredits возвращает профиль пользователя.
func (c *Client) GetCredits(ctx context.Context, telegramID int64) (*models.AccountStatus, error) {
	const op = "backendclient.GetCredits"
	var st models.AccountStatus
	q := url.Values{"telegram_id": {strconv.FormatInt(telegramID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/get_credits", q, nil, &st); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	token, err := c.tokens.GenerateToken(serviceName, jwt.ScopeBot)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("unexpected response %s: %w", resp.Status, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp.StatusCode, env.Error)
	}
	if result == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, result)
}

func statusError(code int, msg string) error {
	switch code {
	case http.StatusPaymentRequired:
		return models.ErrNotEnoughCredits
	case http.StatusBadGateway:
		return models.ErrAIService
	case http.StatusConflict:
		return models.ErrTrialAlreadyActivated
	case http.StatusNotFound:
		return models.ErrAccountNotFound
	}
	return fmt.Errorf("backend returned %d: %s", code, msg)
}
