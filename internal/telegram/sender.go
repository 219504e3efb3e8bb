// Package telegram обёртка над Bot API: отправка уведомлений и
// long polling обновлений с пересылкой сообщений в backend.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pomogator/relay/internal/config"
)

// maxMessageLen ограничение Telegram на длину одного сообщения.
const maxMessageLen = 4096

// BotAPI часть *tgbotapi.BotAPI, которой пользуется пакет.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewAPI подключается к Bot API с токеном из конфига.
func NewAPI(cfg config.Telegram) (*tgbotapi.BotAPI, error) {
	const op = "telegram.NewAPI"
	if cfg.Token == "" {
		return nil, fmt.Errorf("%s: bot token is not set", op)
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	api.Debug = cfg.Debug
	return api, nil
}

// Sender отправляет текстовые сообщения пользователям.
type Sender struct {
	api BotAPI
}

// NewSender создаёт отправителя.
func NewSender(api BotAPI) *Sender {
	return &Sender{api: api}
}

// Send отправляет text в чат chatID, разбивая длинный текст на части.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	const op = "telegram.Send"
	for _, part := range split(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := s.api.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// split режет text на куски не длиннее limit рун, по возможности по переводу строки.
func split(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
