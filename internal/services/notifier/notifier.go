// Package notifier доставляет пользователям уведомления из очередей RabbitMQ
// через Telegram.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/notifications"
)

// Sender отправляет текст в чат пользователя.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Service разбирает уведомления и отправляет их пользователям.
type Service struct {
	sender Sender
	log    *slog.Logger
}

// New создаёт нотификатор.
func New(sender Sender, log *slog.Logger) *Service {
	return &Service{sender: sender, log: log}
}

// VIPExpired обрабатывает сообщение из очереди vip.expired.
// Нечитаемое сообщение отбрасывается, ошибка отправки возвращает его в очередь.
func (s *Service) VIPExpired(ctx context.Context, body []byte) (bool, error) {
	const op = "notifier.VIPExpired"
	var msg notifications.VIPExpired
	if err := json.Unmarshal(body, &msg); err != nil {
		return false, fmt.Errorf("%s: unmarshal: %w", op, err)
	}
	if msg.TelegramID == 0 {
		return false, fmt.Errorf("%s: empty telegram_id", op)
	}

	text := "Срок действия PREMIUM закончился. Доступны только оставшиеся бесплатные сообщения."
	if err := s.sender.Send(ctx, msg.TelegramID, text); err != nil {
		return true, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("vip expiry delivered", sl.TelegramID(msg.TelegramID))
	return false, nil
}

// VIPActivated обрабатывает сообщение из очереди vip.activated.
func (s *Service) VIPActivated(ctx context.Context, body []byte) (bool, error) {
	const op = "notifier.VIPActivated"
	var msg notifications.VIPActivated
	if err := json.Unmarshal(body, &msg); err != nil {
		return false, fmt.Errorf("%s: unmarshal: %w", op, err)
	}
	if msg.TelegramID == 0 {
		return false, fmt.Errorf("%s: empty telegram_id", op)
	}

	text := fmt.Sprintf("PREMIUM активирован до %s включительно. Сообщения без ограничений.", msg.Until.Format("02.01.2006"))
	if err := s.sender.Send(ctx, msg.TelegramID, text); err != nil {
		return true, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("vip activation delivered", sl.TelegramID(msg.TelegramID))
	return false, nil
}
